package metrics

import (
	"sync"
	"time"
)

// DefaultRingCapacity retains one hour of history at the default 5s sampling
// interval.
const DefaultRingCapacity = 720

// Snapshot is one resource sample. The game fields are nil while no game
// process is running.
type Snapshot struct {
	Time            time.Time `json:"time"`
	APIMemoryBytes  uint64    `json:"api_memory_bytes"`
	APICPUPercent   float64   `json:"api_cpu_percent"`
	GameMemoryBytes *uint64   `json:"game_memory_bytes,omitempty"`
	GameCPUPercent  *float64  `json:"game_cpu_percent,omitempty"`
}

// Ring is a fixed-capacity FIFO of snapshots.
type Ring struct {
	mu    sync.Mutex
	buf   []Snapshot
	head  int
	count int
}

// NewRing creates a ring retaining up to capacity snapshots. Non-positive
// capacity selects DefaultRingCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{buf: make([]Snapshot, capacity)}
}

// Add stores a snapshot, evicting the oldest once full.
func (r *Ring) Add(s Snapshot) {
	r.mu.Lock()
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// History returns the retained snapshots oldest-first.
func (r *Ring) History() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Clear drops all retained snapshots.
func (r *Ring) Clear() {
	r.mu.Lock()
	r.head = 0
	r.count = 0
	r.mu.Unlock()
}

// Len returns the number of retained snapshots.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
