// Package pathtype classifies a raw event's ambiguous is-directory flag
// using cheap, already-available signals rather than an extra stat call on
// a path that, for a Remove, no longer exists to stat.
package pathtype

import "path/filepath"

// Source identifies which signal produced a classification, for
// diagnostics and tests — never fed back into a cache mutation.
type Source int

const (
	SourceMetadataCache Source = iota
	SourceHierarchyCache
	SourcePendingCreate
	SourceFilenameHeuristic
	SourceUnknown
)

func (s Source) String() string {
	switch s {
	case SourceMetadataCache:
		return "metadata_cache"
	case SourceHierarchyCache:
		return "hierarchy_cache"
	case SourcePendingCreate:
		return "pending_create"
	case SourceFilenameHeuristic:
		return "filename_heuristic"
	default:
		return "unknown"
	}
}

// Heuristics is the diagnostic bundle returned alongside a best-effort
// is-directory classification.
type Heuristics struct {
	Path        string
	IsDirectory bool
	Source      Source
}

// MetadataCache answers whether a path was last observed as a directory.
// Satisfied by the recent-metadata cache the Move Correlator maintains.
type MetadataCache interface {
	LastKnownIsDir(path string) (isDir bool, ok bool)
}

// HierarchyCache answers whether a path is known to have children in the
// persistent hierarchy index — a parent with children on record is a
// directory by construction.
type HierarchyCache interface {
	HasChildren(path string) bool
}

// PendingCreates answers whether a pending (unmatched) Create for this
// exact path is currently held by the Correlator, and if so, what
// is-directory value it carries.
type PendingCreates interface {
	PendingCreateIsDir(path string) (isDir bool, ok bool)
}

// Infer classifies path's is-directory flag, consulting sources in a
// fixed order: metadata cache, hierarchy cache, pending creates, filename
// heuristic. First match wins. It never mutates any cache.
func Infer(path string, meta MetadataCache, hier HierarchyCache, pending PendingCreates) Heuristics {
	if meta != nil {
		if isDir, ok := meta.LastKnownIsDir(path); ok {
			return Heuristics{Path: path, IsDirectory: isDir, Source: SourceMetadataCache}
		}
	}

	if hier != nil && hier.HasChildren(path) {
		return Heuristics{Path: path, IsDirectory: true, Source: SourceHierarchyCache}
	}

	if pending != nil {
		if isDir, ok := pending.PendingCreateIsDir(path); ok {
			return Heuristics{Path: path, IsDirectory: isDir, Source: SourcePendingCreate}
		}
	}

	return Heuristics{Path: path, IsDirectory: filenameHeuristic(path), Source: SourceFilenameHeuristic}
}

// filenameHeuristic guesses directory-ness from the name alone: a path
// with a file extension is more likely a file than a directory. This is
// the weakest signal and is used only when nothing else is available.
func filenameHeuristic(path string) bool {
	return filepath.Ext(path) == ""
}
