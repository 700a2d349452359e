package fswatch

import (
	"errors"
	"fmt"

	"github.com/tonimelisma/fswatch/internal/store"
)

// Sentinel error kinds surfaced to callers. Use errors.Is to test for a
// kind; WatcherError carries the diagnostic detail.
var (
	ErrConfiguration     = errors.New("fswatch: configuration error")
	ErrPermissionDenied  = errors.New("fswatch: permission denied")
	ErrFilesystem        = errors.New("fswatch: filesystem error")
	ErrResourceExhausted = errors.New("fswatch: resource exhausted")
	ErrStore             = errors.New("fswatch: store error")
	ErrShutdownRequested = errors.New("fswatch: shutdown requested")
)

// WatcherError wraps a sentinel kind with the operation and underlying
// cause that produced it.
type WatcherError struct {
	Op  string
	Kind error // one of the Err* sentinels above
	Err error
}

func (e *WatcherError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fswatch: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("fswatch: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *WatcherError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func wrapError(op string, kind error, err error) *WatcherError {
	return &WatcherError{Op: op, Kind: kind, Err: err}
}

// classifyStoreError maps any internal store error — transaction abort,
// schema mismatch, corruption — onto the public ErrStore kind.
func classifyStoreError(op string, err error) *WatcherError {
	return wrapError(op, ErrStore, err)
}
