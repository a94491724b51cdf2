package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Collector samples CPU and RSS for the warden process itself and, while one
// is running, the supervised game process. Each Collect call appends one
// snapshot to the ring and refreshes the Prometheus gauges; the scheduler
// provides the cadence.
type Collector struct {
	ring *Ring
	self *process.Process

	mu   sync.Mutex
	game *process.Process
}

// NewCollector builds a collector writing into ring.
func NewCollector(ring *Ring) (*Collector, error) {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	// First CPUPercent call establishes the baseline.
	_, _ = self.CPUPercent()
	return &Collector{ring: ring, self: self}, nil
}

// TrackGame starts sampling the given pid as the game process.
func (c *Collector) TrackGame(pid int) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	_, _ = p.CPUPercent()
	c.mu.Lock()
	c.game = p
	c.mu.Unlock()
}

// UntrackGame stops sampling the game process.
func (c *Collector) UntrackGame() {
	c.mu.Lock()
	c.game = nil
	c.mu.Unlock()
	clearProcessGauges("game")
}

// Collect takes one sample. A vanished game process is untracked silently;
// its fields stay nil in the snapshot.
func (c *Collector) Collect(ctx context.Context) error {
	snap := Snapshot{Time: time.Now()}

	if cpu, err := c.self.CPUPercentWithContext(ctx); err == nil {
		snap.APICPUPercent = cpu
	}
	if mi, err := c.self.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		snap.APIMemoryBytes = mi.RSS
	}
	setProcessGauges("warden", snap.APICPUPercent, snap.APIMemoryBytes)

	c.mu.Lock()
	game := c.game
	c.mu.Unlock()
	if game != nil {
		cpu, cpuErr := game.CPUPercentWithContext(ctx)
		mi, memErr := game.MemoryInfoWithContext(ctx)
		if cpuErr != nil || memErr != nil || mi == nil {
			c.UntrackGame()
		} else {
			rss := mi.RSS
			snap.GameCPUPercent = &cpu
			snap.GameMemoryBytes = &rss
			setProcessGauges("game", cpu, rss)
		}
	}

	c.ring.Add(snap)
	return nil
}
