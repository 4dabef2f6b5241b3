// Package objstore defines the object storage contract the pipeline
// consumes and its Google Cloud Storage implementation.
package objstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the capability contract for the backing object store.
// No partial-range reads are required by the pipeline.
type Store interface {
	// Get returns the full content of an object.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// List returns the keys under a prefix.
	List(ctx context.Context, bucket, prefix string) ([]string, error)

	// Put writes an object if it does not already exist. Writing a key
	// that exists is a no-op, keeping re-uploads idempotent.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
}
