package store

import "errors"

// Sentinel errors the Store surfaces. The top-level package wraps these
// into its own WatcherError taxonomy; callers reaching into this package
// directly (tests) can still errors.Is against them.
var (
	// ErrSchemaIncompatible is returned when the on-disk store's schema
	// version byte is newer than the one this build understands.
	ErrSchemaIncompatible = errors.New("store: incompatible schema version")
	// ErrCorrupted signals the underlying SQLite file failed an integrity
	// check or a read returned malformed data.
	ErrCorrupted = errors.New("store: corrupted database")
	// ErrNotFound is returned by single-node lookups that find nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrWatchNotFound is returned when an operation names an unregistered
	// watch id.
	ErrWatchNotFound = errors.New("store: watch not found")
)
