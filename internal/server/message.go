package server

import (
	"time"

	"github.com/zjrosen/reshuffle/internal/dispatch"
	"github.com/zjrosen/reshuffle/internal/sections"
)

// Message types sent to WebSocket clients.
const (
	TypeSections  = "sections"
	TypeCompleted = "completed"
	TypeFailed    = "failed"
	TypePong      = "pong"
	TypeError     = "error"
)

// Command types accepted from WebSocket clients.
const (
	CommandRefresh = "refresh"
	CommandPing    = "ping"
)

// Message is the JSON frame pushed to WebSocket clients.
type Message struct {
	Type       string               `json:"type"`
	Generation *GenerationView      `json:"generation,omitempty"`
	Sections   sections.SectionList `json:"sections,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Command is the JSON frame read from WebSocket clients.
type Command struct {
	Type string `json:"type"`
}

// GenerationView is the wire form of dispatch.Generation.
type GenerationView struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
}

func viewOf(g dispatch.Generation) *GenerationView {
	return &GenerationView{
		ID:        g.ID,
		Seq:       g.Seq,
		Trigger:   g.Trigger.String(),
		Timestamp: g.Timestamp.UTC(),
	}
}

func sectionsMessage(u dispatch.Update) Message {
	return Message{Type: TypeSections, Generation: viewOf(u.Generation), Sections: u.Sections}
}

func completionMessage(c dispatch.Completion) Message {
	if c.Failed() {
		return Message{Type: TypeFailed, Generation: viewOf(c.Generation), Error: c.Err.Error()}
	}
	return Message{Type: TypeCompleted, Generation: viewOf(c.Generation)}
}

// UpdateView is the body of GET /api/sections and GET /api/generations/:id.
type UpdateView struct {
	Generation *GenerationView      `json:"generation"`
	Sections   sections.SectionList `json:"sections"`
}

// ErrorView is the body of every error response.
type ErrorView struct {
	Error      string          `json:"error"`
	Generation *GenerationView `json:"generation,omitempty"`
}
