package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	tableBucket = "volatile"
	tableKey    = "table"
)

// BoltMirror keeps the table in a bbolt file.
type BoltMirror struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string) (*BoltMirror, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("mirror path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create mirror dir: %w", err)
	}
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open mirror db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(tableBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create mirror bucket: %w", err)
	}
	return &BoltMirror{db: db}, nil
}

// Load implements Mirror.
func (m *BoltMirror) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := m.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tableBucket))
		if bucket == nil {
			return fmt.Errorf("mirror bucket is missing")
		}
		// Values are only valid for the life of the transaction.
		if v := bucket.Get([]byte(tableKey)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Save implements Mirror.
func (m *BoltMirror) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tableBucket))
		if bucket == nil {
			return fmt.Errorf("mirror bucket is missing")
		}
		return bucket.Put([]byte(tableKey), data)
	})
}

// Close implements Mirror.
func (m *BoltMirror) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}
