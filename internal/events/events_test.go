package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryRecords(t *testing.T) {
	m := NewMemory()
	m.Publish(New(TypeJobStarted, map[string]any{"id": "refresh"}))
	m.Publish(New(TypeJobCompleted, map[string]any{"id": "refresh"}))
	m.Publish(New(TypeJobStarted, map[string]any{"id": "gc"}))

	assert.Len(t, m.Events(), 3)
	started := m.ByType(TypeJobStarted)
	assert.Len(t, started, 2)
	assert.Equal(t, "refresh", started[0].Data["id"])
	assert.False(t, started[0].Time.IsZero())
}

func TestNoopDoesNothing(t *testing.T) {
	// Must not panic or block.
	Noop().Publish(New(TypeStateChanged, nil))
}
