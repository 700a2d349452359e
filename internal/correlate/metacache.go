package correlate

import "container/list"

// metaCache is a recent-metadata cache: path → last observed {size,
// inode, mtime, content hash}. It backs Remove-side
// identity recovery (the path is gone by the time a Remove arrives) and
// doubles as the pathtype Inferrer's metadata-cache source. Bounded the
// same way the pending pools are, by simple insertion-order LRU.
type metaCache struct {
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type metaCacheEntry struct {
	path string
	meta Meta
}

func newMetaCache(maxSize int) *metaCache {
	return &metaCache{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *metaCache) put(path string, m Meta) {
	if elem, ok := c.entries[path]; ok {
		elem.Value.(*metaCacheEntry).meta = m //nolint:forcetypeassert
		c.order.MoveToBack(elem)

		return
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			evicted := front.Value.(*metaCacheEntry) //nolint:forcetypeassert
			c.order.Remove(front)
			delete(c.entries, evicted.path)
		}
	}

	elem := c.order.PushBack(&metaCacheEntry{path: path, meta: m})
	c.entries[path] = elem
}

func (c *metaCache) get(path string) (Meta, bool) {
	elem, ok := c.entries[path]
	if !ok {
		return Meta{}, false
	}

	return elem.Value.(*metaCacheEntry).meta, true //nolint:forcetypeassert
}

// LastKnownIsDir implements pathtype.MetadataCache.
func (c *metaCache) LastKnownIsDir(path string) (bool, bool) {
	m, ok := c.get(path)

	return m.IsDirectory, ok
}
