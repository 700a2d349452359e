package correlate

import (
	"container/list"
	"time"
)

// Meta is the identity and content information available for a path at a
// point in time: either the live metadata read on a Create, or the last
// observed metadata replayed from the recent-metadata cache for a Remove
// (whose path is already gone by the time the Correlator sees it).
type Meta struct {
	Size          *int64
	Inode         *uint64
	WindowsFileID *uint64
	ModTime       time.Time
	ContentHash   *uint64
	IsDirectory   bool
}

// pendingEvent is a Remove or Create held by the Correlator awaiting a
// pair. elem is the backing container/list element, kept so removal from
// the pool's insertion-order queue is O(1).
type pendingEvent struct {
	Path      string
	Timestamp time.Time
	Meta

	seq  int64
	elem *list.Element
}

// pool holds one side (removes or creates) of the Correlator's pending
// events, behind parallel indices: a single-slot inode index (with a
// single-slot Windows file-id twin), a multi-slot size index, and a
// no-size fallback bucket. A FIFO
// insertion-order list backs LRU eviction and timeout sweeps.
type pool struct {
	maxSize int

	order        *list.List // of *pendingEvent, oldest at Front
	byInode      map[uint64]*pendingEvent
	byWindowsID  map[uint64]*pendingEvent
	bySize       map[int64][]*pendingEvent
	noSize       []*pendingEvent
	nextSeq      int64
	evictedTotal int64
}

func newPool(maxSize int) *pool {
	return &pool{
		maxSize:     maxSize,
		order:       list.New(),
		byInode:     make(map[uint64]*pendingEvent),
		byWindowsID: make(map[uint64]*pendingEvent),
		bySize:      make(map[int64][]*pendingEvent),
	}
}

func (p *pool) len() int { return p.order.Len() }

// insert adds pe to the pool, evicting the oldest entry first if the pool
// is already at capacity. Returns the evicted entry, or nil if none was
// needed.
func (p *pool) insert(pe *pendingEvent) *pendingEvent {
	var evicted *pendingEvent

	if p.maxSize > 0 && p.len() >= p.maxSize {
		evicted = p.evictOldest()
	}

	pe.seq = p.nextSeq
	p.nextSeq++
	pe.elem = p.order.PushBack(pe)

	if pe.Inode != nil {
		p.byInode[*pe.Inode] = pe
	}

	if pe.WindowsFileID != nil {
		p.byWindowsID[*pe.WindowsFileID] = pe
	}

	if pe.Size != nil {
		p.bySize[*pe.Size] = append(p.bySize[*pe.Size], pe)
	} else {
		p.noSize = append(p.noSize, pe)
	}

	return evicted
}

func (p *pool) evictOldest() *pendingEvent {
	front := p.order.Front()
	if front == nil {
		return nil
	}

	pe := front.Value.(*pendingEvent) //nolint:forcetypeassert
	p.remove(pe)
	p.evictedTotal++

	return pe
}

// remove detaches pe from every index and the order list. Safe to call at
// most once per pendingEvent; a second call is a no-op.
func (p *pool) remove(pe *pendingEvent) {
	if pe.elem == nil {
		return
	}

	p.order.Remove(pe.elem)
	pe.elem = nil

	if pe.Inode != nil && p.byInode[*pe.Inode] == pe {
		delete(p.byInode, *pe.Inode)
	}

	if pe.WindowsFileID != nil && p.byWindowsID[*pe.WindowsFileID] == pe {
		delete(p.byWindowsID, *pe.WindowsFileID)
	}

	if pe.Size != nil {
		p.bySize[*pe.Size] = removeFromSlice(p.bySize[*pe.Size], pe)
		if len(p.bySize[*pe.Size]) == 0 {
			delete(p.bySize, *pe.Size)
		}
	} else {
		p.noSize = removeFromSlice(p.noSize, pe)
	}
}

func removeFromSlice(s []*pendingEvent, target *pendingEvent) []*pendingEvent {
	for i, v := range s {
		if v == target {
			return append(s[:i], s[i+1:]...)
		}
	}

	return s
}

// candidates returns the opposite-pool entries a given event should be
// scored against: same-size entries with a different path, falling back
// to the no-size bucket when the event (or the pool) carries no size.
func (p *pool) candidates(path string, size *int64) []*pendingEvent {
	var out []*pendingEvent

	if size != nil {
		for _, pe := range p.bySize[*size] {
			if pe.Path != path {
				out = append(out, pe)
			}
		}
	}

	if len(out) == 0 {
		for _, pe := range p.noSize {
			if pe.Path != path {
				out = append(out, pe)
			}
		}
	}

	return out
}

// byIdentity returns the single opposite-pool entry matching either the
// inode or the Windows file id of the given identity fields, provided its
// path differs. This is the fast, immediate match checked before scoring.
func (p *pool) byIdentity(path string, inode, windowsID *uint64) *pendingEvent {
	if inode != nil {
		if pe, ok := p.byInode[*inode]; ok && pe.Path != path {
			return pe
		}
	}

	if windowsID != nil {
		if pe, ok := p.byWindowsID[*windowsID]; ok && pe.Path != path {
			return pe
		}
	}

	return nil
}

// sweepExpired removes and returns entries older than cutoff, oldest
// first. The order list is maintained in insertion order, which tracks
// event timestamp order closely enough for this purpose: entries are
// inserted as their events arrive.
func (p *pool) sweepExpired(cutoff time.Time) []*pendingEvent {
	var expired []*pendingEvent

	for {
		front := p.order.Front()
		if front == nil {
			break
		}

		pe := front.Value.(*pendingEvent) //nolint:forcetypeassert
		if pe.Timestamp.After(cutoff) {
			break
		}

		p.remove(pe)
		expired = append(expired, pe)
	}

	return expired
}

// all returns every pending entry, oldest first, without removing them.
func (p *pool) all() []*pendingEvent {
	out := make([]*pendingEvent, 0, p.order.Len())
	for e := p.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*pendingEvent)) //nolint:forcetypeassert
	}

	return out
}

// drain removes and returns every pending entry, oldest first.
func (p *pool) drain() []*pendingEvent {
	out := p.all()
	for _, pe := range out {
		p.remove(pe)
	}

	return out
}
