// Package store provides the durable key-value persistence that keeps the
// mutation queue across restarts and offline periods.
package store

import "context"

// Store is a single namespace of opaque values.
type Store interface {
	// Get returns the stored value. A missing key and an unavailable medium
	// both report ok=false; Get never fails.
	Get(ctx context.Context, key string) (value []byte, ok bool)

	// Set overwrites the value for key. It returns a STORAGE_ERROR AppError
	// when the medium is unavailable or full.
	Set(ctx context.Context, key string, value []byte) error

	// Load is Get for owners that must tell a missing key (ok=false, nil
	// error) from a failed read (STORAGE_ERROR). It ignores cancellation of
	// ctx so a read made on the way out of a cancelled operation still sees
	// the persisted value.
	Load(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// Backend hands out namespaced stores over one medium.
type Backend interface {
	Bucket(namespace string) Store
}

// Well-known namespace and key of the mutation queue.
const (
	NamespaceMutations = "mutations"
	KeyQueue           = "queue"
)
