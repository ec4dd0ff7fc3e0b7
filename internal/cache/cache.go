// Package cache fronts the range client with a per-handle, in-memory
// byte-range response cache, so re-reading a window already fetched (the EOCD tail,
// a re-probed local header) never repeats a network round trip.
package cache

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
)

// Cache is a small LSM-backed key/value store held entirely in memory
// (via pebble's in-memory vfs), scoped to the lifetime of one archive
// handle. It never touches disk and never outlives the process.
type Cache struct {
	mu sync.Mutex
	db *pebble.DB
}

// New opens an empty in-memory cache. The returned Cache is safe for
// concurrent use by extraction workers.
func New() (*Cache, error) {
	opts := &pebble.Options{FS: vfs.NewMem()}
	db, err := pebble.Open("", opts)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying store. Safe to call on a nil Cache.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Key derives the cache key for a byte range of effectiveURL.
func Key(effectiveURL string, offset, length int64) []byte {
	h := xxhash.Sum64String(effectiveURL)
	buf := make([]byte, 8+8+8)
	binary.BigEndian.PutUint64(buf[0:8], h)
	binary.BigEndian.PutUint64(buf[8:16], uint64(offset))
	binary.BigEndian.PutUint64(buf[16:24], uint64(length))
	return buf
}

// Get returns a copy of the cached bytes for key, or ok=false on a miss.
func (c *Cache) Get(key []byte) (data []byte, ok bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	v, closer, err := c.db.Get(key)
	if err != nil {
		return nil, false
	}
	defer closer.Close()

	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true
}

// Set stores data under key, overwriting any previous entry.
func (c *Cache) Set(key, data []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.db.Set(key, data, pebble.NoSync)
}
