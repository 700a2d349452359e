// Package rawsource normalizes raw, low-level filesystem notifications into
// the RawEvent shape the rest of the pipeline consumes. The only shipped
// implementation wraps fsnotify; callers needing something else satisfy
// Source themselves (tests do, with a synthetic channel-backed source).
package rawsource

import "time"

// Kind enumerates the raw change kinds the OS can report. Unlike the
// semantic Event.Kind further down the pipeline, Rename is a single raw
// kind here — it is the Move Correlator's job, not this package's, to pair
// a vanished path with an appeared one.
type Kind int

const (
	KindCreate Kind = iota
	KindModify
	KindRemove
	// KindRename is emitted for platforms (notably fsnotify on Linux/BSD/
	// Windows) that report a rename as two separate events — a Remove-like
	// notification for the old name and a Create-like one for the new name.
	// fsnotify exposes this as fsnotify.Rename attached to the old path; the
	// adapter reports it as KindRename, and the watcher pipeline feeds it to
	// the Correlator as a Remove so the ordinary Remove/Create pairing
	// handles both rename halves and genuine remove/create pairs uniformly.
	KindRename
	KindChmod
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindModify:
		return "modify"
	case KindRemove:
		return "remove"
	case KindRename:
		return "rename"
	case KindChmod:
		return "chmod"
	default:
		return "other"
	}
}

// Event is a normalized raw filesystem notification: a single low-level
// change on a single path, stamped with the time the adapter observed it.
type Event struct {
	Kind      Kind
	Path      string
	Timestamp time.Time
}

// Source produces a stream of normalized raw events through a bounded,
// per-path-monotonic channel, plus a side channel of non-fatal errors
// reported by the underlying OS watcher; overflowed paths are reported
// through Overflowed instead. Cross-path ordering is
// best-effort; the OS does not guarantee it and neither does this
// interface.
type Source interface {
	Events() <-chan Event
	Errors() <-chan error
	// Overflowed reports paths the adapter dropped pending raw events for
	// due to channel backpressure, since the last call. Callers (the
	// correlator/pathtype layer) must treat these paths as possibly
	// inconsistent and force a metadata refresh on next observation.
	Overflowed() []string
	Close() error
}
