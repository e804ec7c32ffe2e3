package store

import "errors"

// ErrNotFound is returned by Get for keys that have never been set or were
// deleted. Callers distinguish it from transport/backend failures, which are
// returned as wrapped errors.
var ErrNotFound = errors.New("key not found")

// Store is the key-value contract the whole security core is written
// against. It models the original deployment's local storage: a flat
// persistent string-to-string map. Backends must treat values as opaque.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)

	// Set writes value under key, overwriting any previous value.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys returns every stored key, in no particular order.
	Keys() ([]string, error)

	// Close releases backend resources.
	Close() error
}
