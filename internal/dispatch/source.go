package dispatch

import (
	"context"
	"sync/atomic"

	"github.com/zjrosen/reshuffle/internal/log"
)

// Source is the trigger side of the pipeline: the two unit-event taps a UI
// fires. It forwards every trigger to its dispatcher.
type Source struct {
	d     *Dispatcher
	ready atomic.Bool
}

// NewSource creates a trigger source feeding d.
func NewSource(d *Dispatcher) *Source {
	return &Source{d: d}
}

// ViewReady signals that the UI became active. It is expected once; a
// repeated signal is still dispatched and logged.
func (s *Source) ViewReady(ctx context.Context) (Generation, error) {
	if s.ready.Swap(true) {
		log.Warn(log.CatDispatch, "view ready signalled more than once")
	}
	return s.d.Dispatch(ctx, ViewReady)
}

// RefreshRequested signals one user refresh gesture.
func (s *Source) RefreshRequested(ctx context.Context) (Generation, error) {
	return s.d.Dispatch(ctx, RefreshRequested)
}

// Ready reports whether ViewReady has fired.
func (s *Source) Ready() bool {
	return s.ready.Load()
}
