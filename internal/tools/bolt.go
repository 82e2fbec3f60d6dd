package tools

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var toolCacheBucket = []byte("tool_cache")

// BoltCache persists tool responses across restarts. Each value is stored
// as an 8-byte big-endian expiry (unix nanoseconds) followed by the payload.
type BoltCache struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBoltCache opens or creates the cache file at path.
func OpenBoltCache(path string) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(toolCacheBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &BoltCache{db: db, now: time.Now}, nil
}

// Get returns a live entry. Read errors are treated as misses.
func (c *BoltCache) Get(key string) ([]byte, bool) {
	var out []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(toolCacheBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if len(v) < 8 {
			return nil
		}
		expires := time.Unix(0, int64(binary.BigEndian.Uint64(v[:8])))
		if !c.now().Before(expires) {
			return nil
		}
		// bolt values are only valid inside the transaction
		out = append([]byte(nil), v[8:]...)
		return nil
	})
	return out, out != nil
}

// Set upserts an entry. Write errors are dropped; the cache is advisory.
func (c *BoltCache) Set(key string, value []byte, ttl time.Duration) {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(c.now().Add(ttl).UnixNano()))
	copy(buf[8:], value)

	_ = c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(toolCacheBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), buf)
	})
}

// Close closes the cache file.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
