package lifecycle

import "sync"

// PendingRestartState reports whether the running server owes a restart and
// why.
type PendingRestartState struct {
	Required bool     `json:"required"`
	Reasons  []string `json:"reasons,omitempty"`
}

// pendingRestart tracks configuration drift. Reasons accumulate in order and
// are not deduplicated; only a confirmed successful restart clears them.
type pendingRestart struct {
	mu       sync.Mutex
	required bool
	reasons  []string
}

func (p *pendingRestart) Require(reason string) {
	p.mu.Lock()
	p.required = true
	p.reasons = append(p.reasons, reason)
	p.mu.Unlock()
}

func (p *pendingRestart) Clear() {
	p.mu.Lock()
	p.required = false
	p.reasons = nil
	p.mu.Unlock()
}

func (p *pendingRestart) State() PendingRestartState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := PendingRestartState{Required: p.required}
	if len(p.reasons) > 0 {
		out.Reasons = make([]string, len(p.reasons))
		copy(out.Reasons, p.reasons)
	}
	return out
}
