package console

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityEvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	for i := 1; i <= 5; i++ {
		b.Append(fmt.Sprintf("line %d", i))
	}

	got := b.History(0)
	require.Len(t, got, 3)
	assert.Equal(t, "line 3", got[0].Text)
	assert.Equal(t, "line 4", got[1].Text)
	assert.Equal(t, "line 5", got[2].Text)
}

func TestHistoryLimitNewestOldestFirst(t *testing.T) {
	b := NewBuffer(10)
	for i := 1; i <= 6; i++ {
		b.Append(fmt.Sprintf("line %d", i))
	}

	got := b.History(2)
	require.Len(t, got, 2)
	assert.Equal(t, "line 5", got[0].Text)
	assert.Equal(t, "line 6", got[1].Text)

	// Limit beyond the retained count returns everything.
	assert.Len(t, b.History(100), 6)
}

func TestHistoryDoesNotMutate(t *testing.T) {
	b := NewBuffer(5)
	b.Append("a")
	b.Append("b")

	_ = b.History(1)
	_ = b.History(0)
	assert.Equal(t, 2, b.Len())
}

func TestPanickingSubscriberIsDropped(t *testing.T) {
	b := NewBuffer(5)

	var mu sync.Mutex
	var healthy []string
	b.Subscribe(func(l Line) {
		mu.Lock()
		healthy = append(healthy, l.Text)
		mu.Unlock()
	})
	bad := 0
	badID := b.Subscribe(func(l Line) {
		bad++
		panic("subscriber bug")
	})
	_ = badID

	b.Append("one")
	b.Append("two")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, healthy, "healthy subscriber sees every line")
	assert.Equal(t, 1, bad, "panicking subscriber dropped after first delivery")
	assert.Equal(t, 2, b.Len(), "buffer unaffected by subscriber panic")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBuffer(5)
	seen := 0
	id := b.Subscribe(func(Line) { seen++ })

	b.Append("one")
	b.Unsubscribe(id)
	b.Unsubscribe(id)
	b.Append("two")

	assert.Equal(t, 1, seen)
}

func TestSubscribeDuringFanOut(t *testing.T) {
	b := NewBuffer(5)
	done := make(chan struct{})
	b.Subscribe(func(l Line) {
		// Re-entrant registration must not deadlock.
		b.Subscribe(func(Line) {})
		close(done)
	})
	b.Append("line")
	<-done
}

func TestSubscribeWithHistorySeesEveryLineOnce(t *testing.T) {
	b := NewBuffer(10)
	b.Append("one")
	b.Append("two")

	var mu sync.Mutex
	var live []string
	id, backlog := b.SubscribeWithHistory(0, func(l Line) {
		mu.Lock()
		live = append(live, l.Text)
		mu.Unlock()
	})
	defer b.Unsubscribe(id)

	require.Len(t, backlog, 2)
	assert.Equal(t, "one", backlog[0].Text)
	assert.Equal(t, "two", backlog[1].Text)

	b.Append("three")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"three"}, live, "backlog lines are not redelivered")
}

func TestClearKeepsSubscribers(t *testing.T) {
	b := NewBuffer(5)
	seen := 0
	b.Subscribe(func(Line) { seen++ })

	b.Append("one")
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.History(0))

	b.Append("two")
	assert.Equal(t, 2, seen)
	assert.Equal(t, 1, b.Len())
}
