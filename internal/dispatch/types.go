// Package dispatch turns trigger events into published section lists.
//
// A Dispatcher receives ViewReady and RefreshRequested triggers, runs the
// section generator, then publishes two outputs in a fixed order: the new
// SectionList to the sections subscribers, followed by a Completion to the
// completion subscribers. A generation failure is published only as a
// failed Completion and halts the dispatcher for good.
package dispatch

import (
	"errors"
	"time"

	"github.com/zjrosen/reshuffle/internal/sections"
)

// ErrHalted is returned by every dispatch after a generation failure.
var ErrHalted = errors.New("dispatcher halted after a generation failure")

// Trigger is a unit event that starts a generation cycle.
type Trigger int

const (
	// ViewReady fires once, when the UI becomes active.
	ViewReady Trigger = iota + 1
	// RefreshRequested fires on every user refresh gesture.
	RefreshRequested
)

func (t Trigger) String() string {
	switch t {
	case ViewReady:
		return "view_ready"
	case RefreshRequested:
		return "refresh_requested"
	default:
		return "unknown"
	}
}

// Generation identifies one production cycle.
type Generation struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Trigger   Trigger   `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Update is the payload delivered to sections subscribers.
type Update struct {
	Generation
	Sections sections.SectionList
}

// Completion is the payload delivered to completion subscribers. A nil Err
// means the Update for the same generation has already been delivered.
type Completion struct {
	Generation
	Err error
}

// Failed reports whether the generation failed.
func (c Completion) Failed() bool {
	return c.Err != nil
}

// Result is what an asynchronous dispatch reports once it settles.
type Result struct {
	Generation Generation
	Err        error
}
