package s3fs

import (
	"strings"
	"sync"
	"time"
)

// EntryType classifies a listed path.
type EntryType string

const (
	TypeFile      EntryType = "file"
	TypeDirectory EntryType = "directory"
)

// Sentinel storage classes for synthetic entries.
const (
	StorageClassDirectory = "DIRECTORY"
	StorageClassBucket    = "BUCKET"
)

// Entry describes one path in a listing. Directory and bucket entries are
// synthetic: zero size, sentinel storage class.
type Entry struct {
	Name         string
	Size         int64
	Type         EntryType
	ETag         string
	LastModified time.Time
	VersionID    string
	StorageClass string
}

// DirCache maps a normalized directory path to its one-level listing.
// Listings are replaced wholesale, never edited in place, so concurrent
// readers see either the old list or the new one. Staleness after an
// external mutation is accepted until the entry is invalidated or a
// refreshed listing is requested.
type DirCache struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewDirCache returns an empty directory cache.
func NewDirCache() *DirCache {
	return &DirCache{entries: make(map[string][]Entry)}
}

// Get returns the cached listing for dir, if present.
func (c *DirCache) Get(dir string) ([]Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries, ok := c.entries[dir]
	return entries, ok
}

// Put stores the listing for dir, replacing any previous one.
func (c *DirCache) Put(dir string, entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[dir] = entries
}

// Invalidate removes the cached listing for dir.
func (c *DirCache) Invalidate(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, dir)
}

// InvalidateAll empties the cache.
func (c *DirCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]Entry)
}

// InvalidateChanged is the single invalidation point used by every
// mutating operation: it drops the listing for path itself and for its
// parent, so neither can serve a stale view of the mutation.
func (c *DirCache) InvalidateChanged(path string) {
	path = normPath(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
	delete(c.entries, ParentPath(path))
}

// InvalidateMissing walks the ancestors of path from the bucket down and
// drops every cached listing that does not yet contain the path's name at
// its level. Used after a multipart commit so a freshly created file
// becomes visible without clearing unrelated listings.
func (c *DirCache) InvalidateMissing(path string) {
	path = normPath(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		dir := strings.Join(segments[:i], "/")
		child := strings.Join(segments[:i+1], "/")
		entries, ok := c.entries[dir]
		if !ok {
			continue
		}
		found := false
		for _, e := range entries {
			if e.Name == child {
				found = true
				break
			}
		}
		if !found {
			delete(c.entries, dir)
		}
	}
}
