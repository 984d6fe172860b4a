package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/zjrosen/reshuffle/internal/sections"
)

// recorder captures both outputs of a dispatcher in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []string
	lists  []sections.SectionList
	done   []Completion
}

func (r *recorder) attach(d *Dispatcher) func() {
	u1 := d.SubscribeSections(func(u Update) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, fmt.Sprintf("sections:%d", u.Seq))
		r.lists = append(r.lists, u.Sections)
	})
	u2 := d.SubscribeCompletion(func(c Completion) {
		r.mu.Lock()
		defer r.mu.Unlock()
		kind := "completed"
		if c.Failed() {
			kind = "failed"
		}
		r.events = append(r.events, fmt.Sprintf("%s:%d", kind, c.Seq))
		r.done = append(r.done, c)
	})
	return func() { u1(); u2() }
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestDispatch_ViewReadyPublishesSectionsThenCompletion(t *testing.T) {
	d := New(sections.NewGenerator())
	rec := &recorder{}
	rec.attach(d)

	g, err := NewSource(d).ViewReady(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), g.Seq)
	require.Equal(t, ViewReady, g.Trigger)
	require.NotEmpty(t, g.ID)

	require.Equal(t, []string{"sections:1", "completed:1"}, rec.snapshot())
	require.Len(t, rec.lists, 1)
	require.NoError(t, sections.CheckShape(rec.lists[0]))
	require.ElementsMatch(t, []string{sections.StringSectionTitle, sections.IntSectionTitle}, rec.lists[0].Titles())
}

func TestDispatch_RefreshesAfterInitialLoad(t *testing.T) {
	d := New(sections.NewGenerator())
	rec := &recorder{}
	rec.attach(d)
	src := NewSource(d)

	_, err := src.ViewReady(context.Background())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := src.RefreshRequested(context.Background())
		require.NoError(t, err)
	}

	require.Equal(t, []string{
		"sections:1", "completed:1",
		"sections:2", "completed:2",
		"sections:3", "completed:3",
		"sections:4", "completed:4",
	}, rec.snapshot())
	for i, l := range rec.lists {
		require.NoError(t, sections.CheckShape(l), "list %d", i)
	}
	for _, c := range rec.done[1:] {
		require.Equal(t, RefreshRequested, c.Trigger)
	}
}

func TestDispatch_CompletionSeesPublishedSections(t *testing.T) {
	d := New(sections.NewGenerator())

	var seenAtCompletion []uint64
	d.SubscribeCompletion(func(c Completion) {
		u, ok := d.Latest()
		require.True(t, ok)
		seenAtCompletion = append(seenAtCompletion, u.Seq)
		require.Equal(t, c.Seq, u.Seq)
	})

	for i := 0; i < 5; i++ {
		_, err := d.Dispatch(context.Background(), RefreshRequested)
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, seenAtCompletion)
}

func TestDispatch_FailureHalts(t *testing.T) {
	d := New(sections.NewFailingGenerator(sections.NewGenerator(), 1))
	rec := &recorder{}
	rec.attach(d)
	src := NewSource(d)

	_, err := src.ViewReady(context.Background())
	require.NoError(t, err)

	g, err := src.RefreshRequested(context.Background())
	require.ErrorIs(t, err, sections.ErrGeneration)
	require.Equal(t, uint64(2), g.Seq)

	require.Equal(t, []string{"sections:1", "completed:1", "failed:2"}, rec.snapshot())
	require.ErrorIs(t, rec.done[1].Err, sections.ErrGeneration)
	require.ErrorIs(t, d.Halted(), sections.ErrGeneration)

	// Halted: no generation, no publication.
	_, err = src.RefreshRequested(context.Background())
	require.ErrorIs(t, err, ErrHalted)
	require.ErrorIs(t, err, sections.ErrGeneration)
	require.Len(t, rec.snapshot(), 3)

	latest, ok := d.Latest()
	require.True(t, ok)
	require.Equal(t, uint64(1), latest.Seq, "failed generation must not replace the current value")
}

func TestDispatch_ForeignErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	d := New(sections.GeneratorFunc(func(context.Context) (sections.SectionList, error) {
		return nil, boom
	}))

	_, err := d.Dispatch(context.Background(), ViewReady)
	require.ErrorIs(t, err, sections.ErrGeneration)
	require.ErrorIs(t, err, boom)
}

func TestDispatch_ValidatorFailureHalts(t *testing.T) {
	bad := sections.GeneratorFunc(func(context.Context) (sections.SectionList, error) {
		return sections.SectionList{{Title: "only one"}}, nil
	})
	d := New(bad, WithValidator(sections.CheckShape))
	rec := &recorder{}
	rec.attach(d)

	_, err := d.Dispatch(context.Background(), ViewReady)
	require.ErrorIs(t, err, sections.ErrGeneration)
	require.Equal(t, []string{"failed:1"}, rec.snapshot())
}

func TestDispatch_CancelledContextDoesNotHalt(t *testing.T) {
	d := New(sections.NewGenerator())
	rec := &recorder{}
	rec.attach(d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, ViewReady)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, d.Halted())
	require.Empty(t, rec.snapshot())

	_, err = d.Dispatch(context.Background(), ViewReady)
	require.NoError(t, err)
	require.Equal(t, []string{"sections:1", "completed:1"}, rec.snapshot())
}

func TestDispatch_Unsubscribe(t *testing.T) {
	d := New(sections.NewGenerator())
	rec := &recorder{}
	detach := rec.attach(d)

	_, err := d.Dispatch(context.Background(), ViewReady)
	require.NoError(t, err)

	detach()

	_, err = d.Dispatch(context.Background(), RefreshRequested)
	require.NoError(t, err)
	require.Len(t, rec.snapshot(), 2)
}

func TestDispatch_InjectedClockAndIDs(t *testing.T) {
	fixed := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	n := 0
	d := New(sections.NewGenerator(),
		WithClock(func() time.Time { return fixed }),
		WithIDFunc(func() string { n++; return fmt.Sprintf("gen-%d", n) }),
	)

	g, err := d.Dispatch(context.Background(), ViewReady)
	require.NoError(t, err)
	require.Equal(t, "gen-1", g.ID)
	require.Equal(t, fixed, g.Timestamp)
}

func TestDispatch_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	d := New(sections.NewFailingGenerator(sections.NewGenerator(), 1), WithTracer(tp.Tracer("test")))

	_, err := d.Dispatch(context.Background(), ViewReady)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), RefreshRequested)
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "dispatch.generate", spans[0].Name)
	require.Equal(t, "Ok", spans[0].Status.Code.String())
	require.Equal(t, "Error", spans[1].Status.Code.String())
}

func TestDispatchAsync_PublishesInOrder(t *testing.T) {
	d := New(sections.NewGenerator())
	rec := &recorder{}
	rec.attach(d)

	res := <-d.DispatchAsync(context.Background(), ViewReady)
	require.NoError(t, res.Err)
	require.Equal(t, uint64(1), res.Generation.Seq)
	require.Equal(t, []string{"sections:1", "completed:1"}, rec.snapshot())
}

func TestDispatchAsync_NewerSupersedesInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	calls := 0
	var mu sync.Mutex

	gen := sections.GeneratorFunc(func(ctx context.Context) (sections.SectionList, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		started <- struct{}{}
		if first {
			// The first generation is slow and gets superseded.
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return sections.NewGenerator().Generate(context.Background())
	})

	d := New(gen)
	rec := &recorder{}
	rec.attach(d)

	first := d.DispatchAsync(context.Background(), ViewReady)
	<-started
	second := d.DispatchAsync(context.Background(), RefreshRequested)
	close(release)

	r1 := <-first
	r2 := <-second

	require.ErrorIs(t, r1.Err, context.Canceled)
	require.NoError(t, r2.Err)
	require.Equal(t, RefreshRequested, r2.Generation.Trigger)
	require.Equal(t, []string{"sections:1", "completed:1"}, rec.snapshot())
	require.NoError(t, d.Halted(), "cancellation is not a generation failure")
}

func TestDispatchAsync_Cancel(t *testing.T) {
	gen := sections.GeneratorFunc(func(ctx context.Context) (sections.SectionList, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := New(gen)

	ch := d.DispatchAsync(context.Background(), ViewReady)
	d.Cancel()

	select {
	case r := <-ch:
		require.ErrorIs(t, r.Err, context.Canceled)
	case <-time.After(time.Second):
		require.Fail(t, "async dispatch did not settle after Cancel")
	}
}

func TestDispatchAsync_HaltedDoesNotGenerate(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var calls int
	gen := sections.GeneratorFunc(func(context.Context) (sections.SectionList, error) {
		calls++
		return nil, errors.New("boom")
	})
	d := New(gen, WithTracer(tp.Tracer("test")))
	rec := &recorder{}
	rec.attach(d)

	_, err := d.Dispatch(context.Background(), ViewReady)
	require.ErrorIs(t, err, sections.ErrGeneration)
	require.Equal(t, 1, calls)

	failure, ok := d.Failure()
	require.True(t, ok)
	require.Equal(t, uint64(1), failure.Seq)
	require.ErrorIs(t, failure.Err, sections.ErrGeneration)

	select {
	case r := <-d.DispatchAsync(context.Background(), RefreshRequested):
		require.ErrorIs(t, r.Err, ErrHalted)
	case <-time.After(time.Second):
		require.Fail(t, "halted async dispatch did not answer")
	}

	require.Equal(t, 1, calls, "generator must not run once halted")
	require.Len(t, exporter.GetSpans(), 1)
	require.Equal(t, []string{"failed:1"}, rec.snapshot())
}

func TestFailure_NoneBeforeHalt(t *testing.T) {
	d := New(sections.NewGenerator())
	_, err := d.Dispatch(context.Background(), ViewReady)
	require.NoError(t, err)

	_, ok := d.Failure()
	require.False(t, ok)
}

func TestSource_DuplicateViewReadyStillDispatches(t *testing.T) {
	d := New(sections.NewGenerator())
	src := NewSource(d)
	require.False(t, src.Ready())

	_, err := src.ViewReady(context.Background())
	require.NoError(t, err)
	g, err := src.ViewReady(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), g.Seq)
	require.True(t, src.Ready())
}

func TestTrigger_String(t *testing.T) {
	require.Equal(t, "view_ready", ViewReady.String())
	require.Equal(t, "refresh_requested", RefreshRequested.String())
	require.Equal(t, "unknown", Trigger(0).String())
}

// Every trigger yields exactly one list followed by exactly one completion,
// and every list has the required shape, no matter how many triggers arrive.
func TestDispatch_OrderingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		triggers := rapid.SliceOfN(rapid.SampledFrom([]Trigger{ViewReady, RefreshRequested}), 1, 30).Draw(rt, "triggers")

		d := New(sections.NewGenerator())
		rec := &recorder{}
		rec.attach(d)

		for _, trig := range triggers {
			if _, err := d.Dispatch(context.Background(), trig); err != nil {
				rt.Fatalf("dispatch: %v", err)
			}
		}

		events := rec.snapshot()
		if len(events) != 2*len(triggers) {
			rt.Fatalf("expected %d events, got %d", 2*len(triggers), len(events))
		}
		for i := range triggers {
			seq := i + 1
			if events[2*i] != fmt.Sprintf("sections:%d", seq) || events[2*i+1] != fmt.Sprintf("completed:%d", seq) {
				rt.Fatalf("bad order at %d: %v", i, events[2*i:2*i+2])
			}
			if err := sections.CheckShape(rec.lists[i]); err != nil {
				rt.Fatalf("list %d: %v", i, err)
			}
		}
	})
}
