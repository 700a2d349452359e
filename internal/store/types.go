// Package store implements the Multi-Watch Store: the single embedded
// transactional database underlying the cache, event log, hierarchy and
// prefix indices, shared-node table, and counters for every registered
// watch. It is realized as SQLite tables (via modernc.org/sqlite) rather
// than a raw key-value engine — each logical table maps directly onto a
// real SQL table with the indices its access patterns need.
package store

import "time"

// NodeKind is the tagged-union discriminant for FilesystemNode.NodeType.
type NodeKind int

const (
	NodeFile NodeKind = iota
	NodeDirectory
	NodeSymlink
)

func (k NodeKind) String() string {
	switch k {
	case NodeFile:
		return "file"
	case NodeDirectory:
		return "directory"
	case NodeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Node is a persistent cache entry describing one filesystem object,
// flattened into a single Go struct for storage convenience. Fields not
// relevant to a node's Kind are left at their zero value.
type Node struct {
	WatchID string
	Path    string

	Kind NodeKind

	// File fields.
	FileSize    *int64
	ContentHash *uint64
	Mime        string

	// Directory fields.
	DirChildCount int64
	DirTotalSize  int64
	DirMaxDepth   int64

	// Symlink fields.
	SymlinkTarget   string
	SymlinkResolved bool

	// Metadata.
	ModifiedAt  time.Time
	CreatedAt   time.Time
	AccessedAt  time.Time
	Permissions uint32
	Inode       *uint64
	WindowsID   *uint64

	// CacheInfo.
	CachedAt     time.Time
	LastVerified time.Time
	CacheVersion int
	NeedsRefresh bool

	// Computed.
	DepthFromRoot int
	PathHash      uint64
	ParentHash    *uint64
	CanonicalName string
	LastEventKind string
}

// WatchMetadata describes one registered watch root.
type WatchMetadata struct {
	WatchID    string
	RootPath   string
	ConfigJSON string
	CreatedAt  time.Time
	LastActive time.Time
	NodeCount  int64
}

// OverlapKind classifies the structural relationship between two watch
// roots.
type OverlapKind int

const (
	OverlapNestedChild OverlapKind = iota
	OverlapNestedParent
	OverlapIntersection
	OverlapSibling
)

func (k OverlapKind) String() string {
	switch k {
	case OverlapNestedChild:
		return "nested_child"
	case OverlapNestedParent:
		return "nested_parent"
	case OverlapIntersection:
		return "intersection"
	default:
		return "sibling_overlap"
	}
}

// WatchOverlap is a detected structural relationship between two watches'
// root paths.
type WatchOverlap struct {
	WatchA      string
	WatchB      string
	Kind        OverlapKind
	SharedPaths []string
}

// SharedNodeInfo represents a path observed by two or more watches,
// stored once with a membership set.
type SharedNodeInfo struct {
	PathHash      uint64
	WatchingIDs   []string
	CanonicalPath string
	LastUpdated   time.Time
}

// EventRecord is one append-only log entry.
type EventRecord struct {
	RecordID  string
	WatchID   string
	Path      string
	Kind      string
	Timestamp time.Time
	Payload   string
}

// Counters is the per-watch / per-path / global event-count tuple.
type Counters struct {
	EventCount    int64
	MetadataCount int64
	PerType       map[string]int64
}

func newCounters() Counters {
	return Counters{PerType: make(map[string]int64)}
}
