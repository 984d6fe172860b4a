package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/reshuffle/internal/log"
	"github.com/zjrosen/reshuffle/internal/pubsub"
	"github.com/zjrosen/reshuffle/internal/sections"
	"github.com/zjrosen/reshuffle/internal/tracing"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracer records a span per dispatch.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithValidator checks every generated list before it is published. A
// validation error is treated as a generation failure.
func WithValidator(fn func(sections.SectionList) error) Option {
	return func(d *Dispatcher) { d.validate = fn }
}

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.now = fn
		}
	}
}

// WithIDFunc overrides generation ID creation.
func WithIDFunc(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// Dispatcher serializes triggers through a generator and fans the results
// out to two independent subscriber lists.
type Dispatcher struct {
	gen      sections.Generator
	tracer   trace.Tracer
	validate func(sections.SectionList) error
	now      func() time.Time
	newID    func() string

	sections    *pubsub.Topic[Update]
	completions *pubsub.Topic[Completion]

	// mu serializes publication; seq and haltErr are guarded by it.
	mu      sync.Mutex
	seq     uint64
	haltErr error

	latest  atomic.Pointer[Update]
	failure atomic.Pointer[Completion]

	asyncMu     sync.Mutex
	asyncToken  atomic.Uint64
	asyncCancel context.CancelFunc
}

// New creates a dispatcher around gen.
func New(gen sections.Generator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gen:         gen,
		tracer:      noop.NewTracerProvider().Tracer("noop"),
		now:         time.Now,
		newID:       uuid.NewString,
		sections:    pubsub.NewTopic[Update](),
		completions: pubsub.NewTopic[Completion](),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SubscribeSections registers fn for every published SectionList.
func (d *Dispatcher) SubscribeSections(fn func(Update)) pubsub.Unsubscribe {
	return d.sections.Subscribe(fn)
}

// SubscribeCompletion registers fn for every completion, successful or not.
func (d *Dispatcher) SubscribeCompletion(fn func(Completion)) pubsub.Unsubscribe {
	return d.completions.Subscribe(fn)
}

// Subscribers returns the size of the sections and completion subscriber
// lists.
func (d *Dispatcher) Subscribers() (sections, completions int) {
	return d.sections.Len(), d.completions.Len()
}

// Latest returns the most recently published update.
func (d *Dispatcher) Latest() (Update, bool) {
	u := d.latest.Load()
	if u == nil {
		return Update{}, false
	}
	return *u, true
}

// Failure returns the failed completion that halted the dispatcher. It does
// not take the dispatch lock, so subscribers may call it.
func (d *Dispatcher) Failure() (Completion, bool) {
	c := d.failure.Load()
	if c == nil {
		return Completion{}, false
	}
	return *c, true
}

// Halted returns the failure that halted the dispatcher, or nil.
func (d *Dispatcher) Halted() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.haltErr
}

// Dispatch runs one generation cycle synchronously. Subscribers have been
// called by the time it returns.
func (d *Dispatcher) Dispatch(ctx context.Context, t Trigger) (Generation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.haltErr != nil {
		return Generation{}, fmt.Errorf("%w: %w", ErrHalted, d.haltErr)
	}

	ctx, span := d.startSpan(ctx, t)
	defer span.End()

	list, err := d.generate(ctx)
	return d.publishLocked(span, t, list, err)
}

// DispatchAsync runs generation on a new goroutine. Starting another async
// dispatch cancels this one; a superseded generation publishes nothing and
// reports context.Canceled. A halted dispatcher answers with ErrHalted
// without starting a generation. The returned channel receives exactly one
// Result.
func (d *Dispatcher) DispatchAsync(ctx context.Context, t Trigger) <-chan Result {
	out := make(chan Result, 1)

	if f := d.failure.Load(); f != nil {
		out <- Result{Err: fmt.Errorf("%w: %w", ErrHalted, f.Err)}
		close(out)
		return out
	}

	d.asyncMu.Lock()
	if d.asyncCancel != nil {
		d.asyncCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	d.asyncCancel = cancel
	token := d.asyncToken.Add(1)
	d.asyncMu.Unlock()

	go func() {
		defer cancel()
		defer close(out)

		ctx, span := d.startSpan(ctx, t)
		defer span.End()

		list, err := d.generate(ctx)

		d.mu.Lock()
		defer d.mu.Unlock()

		if d.asyncToken.Load() != token || ctx.Err() != nil {
			log.Debug(log.CatDispatch, "discarding superseded generation", "trigger", t)
			span.SetStatus(codes.Unset, "superseded")
			out <- Result{Err: context.Canceled}
			return
		}
		if d.haltErr != nil {
			out <- Result{Err: fmt.Errorf("%w: %w", ErrHalted, d.haltErr)}
			return
		}

		g, err := d.publishLocked(span, t, list, err)
		out <- Result{Generation: g, Err: err}
	}()

	return out
}

// Cancel aborts any in-flight async dispatch.
func (d *Dispatcher) Cancel() {
	d.asyncMu.Lock()
	defer d.asyncMu.Unlock()
	if d.asyncCancel != nil {
		d.asyncCancel()
		d.asyncCancel = nil
	}
	d.asyncToken.Add(1)
}

func (d *Dispatcher) startSpan(ctx context.Context, t Trigger) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, tracing.SpanDispatch,
		trace.WithAttributes(attribute.String(tracing.AttrTrigger, t.String())),
	)
}

func (d *Dispatcher) generate(ctx context.Context) (sections.SectionList, error) {
	list, err := d.gen.Generate(ctx)
	if err != nil {
		return nil, err
	}
	if d.validate != nil {
		if verr := d.validate(list); verr != nil {
			return nil, fmt.Errorf("%w: %w", sections.ErrGeneration, verr)
		}
	}
	return list, nil
}

// publishLocked publishes the outcome of one generation. d.mu must be held.
func (d *Dispatcher) publishLocked(span trace.Span, t Trigger, list sections.SectionList, err error) (Generation, error) {
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.Debug(log.CatDispatch, "generation cancelled", "trigger", t, "error", err)
		span.SetStatus(codes.Unset, "cancelled")
		return Generation{}, err
	}

	d.seq++
	g := Generation{
		ID:        d.newID(),
		Seq:       d.seq,
		Trigger:   t,
		Timestamp: d.now(),
	}
	span.SetAttributes(
		attribute.String(tracing.AttrGenerationID, g.ID),
		attribute.Int64(tracing.AttrSeq, int64(g.Seq)),
	)

	if err != nil {
		if !errors.Is(err, sections.ErrGeneration) {
			err = fmt.Errorf("%w: %w", sections.ErrGeneration, err)
		}
		d.haltErr = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatDispatch, "generation failed, halting", err, "seq", g.Seq, "trigger", t)

		failed := Completion{Generation: g, Err: err}
		d.failure.Store(&failed)
		d.completions.Publish(failed)
		return g, err
	}

	update := Update{Generation: g, Sections: list}
	d.latest.Store(&update)

	span.SetAttributes(
		attribute.Int(tracing.AttrSectionCount, len(list)),
		attribute.Int(tracing.AttrRowCount, list.RowCount()),
		attribute.Int(tracing.AttrSubscribers, d.sections.Len()),
	)
	d.sections.Publish(update)
	d.completions.Publish(Completion{Generation: g})
	span.SetStatus(codes.Ok, "")

	log.Debug(log.CatDispatch, "published generation",
		"seq", g.Seq, "id", g.ID, "trigger", t, "order", fmt.Sprintf("%v", list.Titles()))
	return g, nil
}
