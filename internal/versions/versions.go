// Package versions tracks the game-server releases published by the vendor:
// which versions exist per channel, which one is the latest, and whether a
// version string a caller hands us is well formed. Remote lookups go through
// Source; everything read at runtime comes from the Cache so a vendor outage
// never blocks a status call or an install that can be answered from stale
// data.
package versions

import "time"

// Channel identifies a release track.
type Channel string

const (
	ChannelStable   Channel = "stable"
	ChannelUnstable Channel = "unstable"
)

// IsChannel reports whether s names a release channel alias.
func IsChannel(s string) bool {
	return s == string(ChannelStable) || s == string(ChannelUnstable)
}

// VersionInfo describes one published release. Instances are immutable once
// fetched; refreshes replace whole lists instead of mutating entries.
type VersionInfo struct {
	Version      string   `json:"version"`
	Filename     string   `json:"filename"`
	Filesize     int64    `json:"filesize"`
	SHA256       string   `json:"sha256"`
	DownloadURLs []string `json:"download_urls"`
	IsLatest     bool     `json:"is_latest"`
	Channel      Channel  `json:"channel"`
}

// LatestVersions holds the newest known version per channel. A field may be
// empty when the vendor has never answered for that channel.
type LatestVersions struct {
	Stable      string    `json:"stable"`
	Unstable    string    `json:"unstable"`
	LastChecked time.Time `json:"last_checked"`
}
