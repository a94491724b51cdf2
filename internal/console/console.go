// Package console keeps the most recent game-server output in memory and
// fans new lines out to live observers. The buffer is the single retention
// point: the HTTP layer serves history from here and bridges subscribers to
// websockets.
package console

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCapacity is the number of lines retained when no explicit capacity
// is configured.
const DefaultCapacity = 10000

// Line is one line of process output with its arrival time.
type Line struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Subscriber receives each appended line. Callbacks run on the appending
// goroutine and should hand off quickly; a callback that panics is
// unsubscribed and the panic does not reach the appender.
type Subscriber func(Line)

// Buffer is a fixed-capacity ring of console lines with subscriber fan-out.
type Buffer struct {
	mu     sync.Mutex
	lines  []Line
	head   int // next write slot
	count  int
	nextID int
	subs   map[int]Subscriber
}

// NewBuffer creates a buffer retaining up to capacity lines. Non-positive
// capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		lines: make([]Line, capacity),
		subs:  make(map[int]Subscriber),
	}
}

// Append stamps text with the arrival time, stores it (evicting the oldest
// line once full) and notifies the subscribers registered at this moment.
func (b *Buffer) Append(text string) {
	line := Line{Time: time.Now(), Text: text}

	b.mu.Lock()
	b.lines[b.head] = line
	b.head = (b.head + 1) % len(b.lines)
	if b.count < len(b.lines) {
		b.count++
	}
	type sub struct {
		id int
		fn Subscriber
	}
	snapshot := make([]sub, 0, len(b.subs))
	for id, fn := range b.subs {
		snapshot = append(snapshot, sub{id: id, fn: fn})
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		b.deliver(s.id, s.fn, line)
	}
}

// deliver invokes one subscriber, dropping it if it panics.
func (b *Buffer) deliver(id int, fn Subscriber, line Line) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Int("subscriber", id).Any("panic", r).Msg("console subscriber dropped")
			b.Unsubscribe(id)
		}
	}()
	fn(line)
}

// History returns the newest limit lines in oldest-first order. A
// non-positive limit, or one beyond the retained count, returns everything.
func (b *Buffer) History(limit int) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.historyLocked(limit)
}

func (b *Buffer) historyLocked(limit int) []Line {
	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Line, 0, n)
	start := b.head - n
	if start < 0 {
		start += len(b.lines)
	}
	for i := 0; i < n; i++ {
		out = append(out, b.lines[(start+i)%len(b.lines)])
	}
	return out
}

// Subscribe registers fn for future lines and returns its id.
func (b *Buffer) Subscribe(fn Subscriber) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return id
}

// SubscribeWithHistory registers fn and snapshots the retained history in one
// critical section. A caller that replays the returned lines before handling
// fn's deliveries sees every line exactly once, in order.
func (b *Buffer) SubscribeWithHistory(limit int, fn Subscriber) (int, []Line) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return id, b.historyLocked(limit)
}

// Unsubscribe removes a subscriber. Unknown ids are ignored, so dropping a
// subscriber twice is safe.
func (b *Buffer) Unsubscribe(id int) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Clear empties the retained history. Subscriptions survive.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.head = 0
	b.count = 0
	b.mu.Unlock()
}

// Len returns the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
