// ABOUTME: Store interface for document persistence used by the messaging core
// ABOUTME: Read-after-write consistent key -> JSON document storage

package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Store persists opaque JSON documents under string keys. Implementations
// must be read-after-write consistent: a Load issued after a successful Save
// observes that Save. The messaging core holds its own write serialization,
// so implementations only need to make individual Load/Save calls safe for
// concurrent use.
type Store interface {
	// Load returns the document stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save stores the document under key, replacing any previous value.
	Save(ctx context.Context, key string, data []byte) error

	// Close releases any underlying resources.
	Close() error
}
