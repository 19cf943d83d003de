// Package kvstore is the narrow local key-value database abstraction the
// state controller runs against: a Factory opens a DB rooted at a runtime
// directory, and a DB exposes plain Get/Put/Delete/ForEach plus
// CreateSnapshot, the one extra operation the controller's snapshot flow
// needs beyond ordinary reads and writes.
package kvstore

import "context"

// DB is a single partition's local key-value database handle.
type DB interface {
	// Get returns the value for key, or (nil, false) if it isn't present.
	Get(key []byte) (value []byte, ok bool, err error)

	// Put sets key to value, overwriting any prior value.
	Put(key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// ForEach calls fn for every key/value pair in an unspecified order.
	// fn must not mutate the DB.
	ForEach(fn func(key, value []byte) error) error

	// CreateSnapshot writes a complete, consistent copy of the database
	// into dir, which must already exist and be empty. Used by the state
	// controller's take_transient_snapshot flow to populate a transient
	// snapshot's pending directory.
	CreateSnapshot(dir string) error

	// Close releases the database's underlying file handle.
	Close() error
}

// Factory opens and creates DBs rooted at a runtime directory.
type Factory interface {
	// Open opens (creating if absent) the DB rooted at dir.
	Open(ctx context.Context, dir string) (DB, error)
}
