//go:build !linux

package runner

// applyRlimits is a no-op outside linux.
func applyRlimits(noFile uint64) error { return nil }
