package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// IndexEntry tracks one cached release archive, keyed by version.
type IndexEntry struct {
	Version string    `json:"version"`
	URI     string    `json:"uri"`
	SHA256  string    `json:"sha256"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Updated time.Time `json:"updated"`
}

// Index is the on-disk archive cache index, stored as JSON next to the
// archives it describes.
type Index struct {
	mu   sync.Mutex
	root string
	file string
	m    map[string]IndexEntry
}

// LoadIndex reads the index under root. A missing or unreadable file yields
// an empty index.
func LoadIndex(root string) (*Index, error) {
	idx := &Index{root: root, file: filepath.Join(root, "index.json"), m: map[string]IndexEntry{}}
	b, err := os.ReadFile(idx.file)
	if err != nil {
		return idx, nil
	}
	_ = json.Unmarshal(b, &idx.m)
	return idx, nil
}

// Save writes the index atomically (tmp file + rename).
func (i *Index) Save() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := os.MkdirAll(i.root, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(i.m, "", "  ")
	if err != nil {
		return err
	}
	tmp := i.file + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, i.file)
}

func (i *Index) Get(version string) (IndexEntry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	e, ok := i.m[version]
	return e, ok
}

func (i *Index) Put(e IndexEntry) {
	i.mu.Lock()
	e.Updated = time.Now()
	i.m[e.Version] = e
	i.mu.Unlock()
}

// Touch refreshes an entry's LRU position.
func (i *Index) Touch(version string) {
	i.mu.Lock()
	if e, ok := i.m[version]; ok {
		e.Updated = time.Now()
		i.m[version] = e
	}
	i.mu.Unlock()
}

// Entries returns the indexed entries, unordered.
func (i *Index) Entries() []IndexEntry {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]IndexEntry, 0, len(i.m))
	for _, e := range i.m {
		out = append(out, e)
	}
	return out
}

// PruneCache trims cached archives under root by LRU until the total size
// fits maxBytes. Entries whose file vanished are dropped from the index.
// A non-positive budget disables pruning.
func PruneCache(root string, maxBytes int64) error {
	if maxBytes <= 0 {
		return nil
	}
	idx, _ := LoadIndex(root)

	idx.mu.Lock()
	type pair struct {
		key string
		e   IndexEntry
	}
	var entries []pair
	var total int64
	for k, e := range idx.m {
		st, err := os.Stat(e.Path)
		if err != nil {
			delete(idx.m, k)
			continue
		}
		if e.Size != st.Size() {
			e.Size = st.Size()
			idx.m[k] = e
		}
		total += e.Size
		entries = append(entries, pair{key: k, e: e})
	}
	if total <= maxBytes {
		idx.mu.Unlock()
		return idx.Save()
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].e.Updated.Before(entries[b].e.Updated) })
	var freed int64
	for _, p := range entries {
		if total <= maxBytes {
			break
		}
		_ = os.Remove(p.e.Path)
		delete(idx.m, p.key)
		total -= p.e.Size
		freed += p.e.Size
	}
	idx.mu.Unlock()

	if freed > 0 {
		log.Info().Str("freed", humanize.Bytes(uint64(freed))).Str("budget", humanize.Bytes(uint64(maxBytes))).Msg("archive cache pruned")
	}
	return idx.Save()
}
