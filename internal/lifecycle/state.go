// Package lifecycle owns the game server's state machine: install, start,
// stop and restart. Exactly one transition runs at a time; concurrent callers
// get a conflict instead of queueing. Status reads never take the transition
// lock, so monitoring stays responsive mid-operation.
package lifecycle

// State is the lifecycle state of the supervised game server.
type State string

const (
	StateNotInstalled State = "not_installed"
	StateInstalling   State = "installing"
	StateInstalled    State = "installed"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateError        State = "error"
)

// startable reports whether a start may begin from s.
func (s State) startable() bool {
	return s == StateInstalled || s == StateError
}

// stoppable reports whether a stop makes sense from s.
func (s State) stoppable() bool {
	return s == StateRunning || s == StateStarting
}

// installable reports whether an install may begin from s. Running servers
// must be stopped first; an in-flight install already holds the lock.
func (s State) installable() bool {
	return s == StateNotInstalled || s == StateInstalled || s == StateError
}
