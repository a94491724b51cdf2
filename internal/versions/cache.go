package versions

import (
	"sync"
	"time"
)

// Cache is the in-memory view of vendor release data. Writers are the
// refresh job and on-demand lookups; readers are install resolution and the
// API. Reads never trigger a remote call and never observe a half-applied
// update. Failed refreshes leave the previous contents in place.
type Cache struct {
	mu     sync.RWMutex
	latest LatestVersions
	lists  map[Channel]cachedList
}

type cachedList struct {
	versions []VersionInfo
	cachedAt time.Time
}

func NewCache() *Cache {
	return &Cache{lists: make(map[Channel]cachedList)}
}

// SetLatest updates the per-channel latest pointers. A nil argument leaves
// that channel untouched, so a refresh that only learned one channel does not
// erase the other. LastChecked is stamped on every call.
func (c *Cache) SetLatest(stable, unstable *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stable != nil {
		c.latest.Stable = *stable
	}
	if unstable != nil {
		c.latest.Unstable = *unstable
	}
	c.latest.LastChecked = time.Now()
}

// Latest returns a copy of the latest-version pointers.
func (c *Cache) Latest() LatestVersions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// SetList replaces the full version list for one channel.
func (c *Cache) SetList(ch Channel, list []VersionInfo) {
	cp := make([]VersionInfo, len(list))
	copy(cp, list)
	c.mu.Lock()
	c.lists[ch] = cachedList{versions: cp, cachedAt: time.Now()}
	c.mu.Unlock()
}

// List returns a copy of the cached list for one channel and when it was
// cached. ok is false when the channel has never been fetched.
func (c *Cache) List(ch Channel) (list []VersionInfo, cachedAt time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.lists[ch]
	if !ok {
		return nil, time.Time{}, false
	}
	cp := make([]VersionInfo, len(cl.versions))
	copy(cp, cl.versions)
	return cp, cl.cachedAt, true
}

// Reset drops all cached data.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.latest = LatestVersions{}
	c.lists = make(map[Channel]cachedList)
	c.mu.Unlock()
}
