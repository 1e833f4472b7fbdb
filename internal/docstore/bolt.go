// ABOUTME: bbolt implementation of the document Store for pure-file deployments
// ABOUTME: All documents live in a single bucket keyed by document name

package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// BoltStore implements Store on a bbolt file database.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltStore opens (or creates) a bbolt store at the given path.
// Parent directories are created if needed.
func NewBoltStore(path string) (*BoltStore, error) {
	logger := slog.Default().With("component", "docstore")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	logger.Info("bolt document store initialized", "path", path)
	return &BoltStore{db: db, logger: logger}, nil
}

// Load retrieves the document stored under key.
func (s *BoltStore) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(documentsBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// The slice is only valid for the life of the transaction.
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Save stores the document under key.
func (s *BoltStore) Save(ctx context.Context, key string, data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("saving document %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
