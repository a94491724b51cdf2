// Package events carries warden's operational notifications: lifecycle state
// changes, install progress, job outcomes. Publishing is fire-and-forget so
// a slow or absent sink never blocks the core.
package events

import (
	"sync"
	"time"
)

// Event types published by the core.
const (
	TypeStateChanged    = "server.state"
	TypeInstallProgress = "server.install.progress"
	TypePendingRestart  = "server.pending_restart"
	TypeJobStarted      = "job.started"
	TypeJobCompleted    = "job.completed"
	TypeJobFailed       = "job.failed"
)

// Event is one notification.
type Event struct {
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with the current time.
func New(typ string, data map[string]any) Event {
	return Event{Type: typ, Time: time.Now(), Data: data}
}

// Publisher delivers events to some sink. Implementations must be safe for
// concurrent use and must not block the caller.
type Publisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// Noop returns a publisher that drops everything.
func Noop() Publisher { return noopPublisher{} }

// Memory records events for inspection in tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(e Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByType returns the recorded events of one type.
func (m *Memory) ByType(typ string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
