package cache

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const bucketTimeTotals = "time_totals"

// BoltCache is a bbolt-backed durable time cache. Values survive process
// restarts; one bucket keyed by user ID, values are big-endian int64.
type BoltCache struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the bolt-backed cache at path.
func OpenBolt(path string) (*BoltCache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketTimeTotals))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketTimeTotals, err)
	}

	return &BoltCache{db: db}, nil
}

// Get returns the stored total for a user, or ErrNotFound.
func (c *BoltCache) Get(userID string) (int64, error) {
	var seconds int64
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTimeTotals))
		if b == nil {
			return ErrNotFound
		}
		value := b.Get([]byte(userID))
		if value == nil {
			return ErrNotFound
		}
		if len(value) != 8 {
			return fmt.Errorf("corrupt time total for %s: %d bytes", userID, len(value))
		}
		seconds = int64(binary.BigEndian.Uint64(value))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seconds, nil
}

// Set overwrites the stored total for a user.
func (c *BoltCache) Set(userID string, seconds int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seconds))
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTimeTotals))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketTimeTotals)
		}
		return b.Put([]byte(userID), buf[:])
	})
}

// Close closes the underlying database.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
