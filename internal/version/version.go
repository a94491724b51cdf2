// Package version holds build metadata injected at link time via
// -ldflags "-X warden/internal/version.Version=... -X warden/internal/version.Commit=...".
package version

var (
	Version = "0.0.0-dev"
	Commit  = "unknown"
)
