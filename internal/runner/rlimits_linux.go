//go:build linux

package runner

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyRlimits raises RLIMIT_NOFILE before spawning so the child inherits
// it. A zero value leaves the current limit alone.
func applyRlimits(noFile uint64) error {
	if noFile == 0 {
		return nil
	}
	lim := &unix.Rlimit{Cur: noFile, Max: noFile}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, lim); err != nil {
		return fmt.Errorf("setrlimit NOFILE: %w", err)
	}
	return nil
}
