package extdb

// The bucket cache (§4.6): a bounded set of entries, each holding a
// bucket's file offset, its in-memory image, a dirty flag, and MRU links.
// Entries live in an arena (entries []cacheEntry) linked by integer
// prev/next fields rather than pointers, per the "pointer graph" design
// note in §9 - this sidesteps any shared-ownership cycle concerns a
// doubly-linked list of pointers would raise. Lookup by file offset is
// O(1) via a Go map, satisfying §9's "specify only O(1)-expected lookup by
// file offset" (the red-black-tree/open-chaining variants it mentions are
// implementation choices the spec explicitly declines to pin down).
//
// Dirty-sequence invariant: all dirty entries form a contiguous prefix of
// the MRU list. promote flushes the current dirty prefix before moving any
// clean entry to the front, so the invariant holds after every operation.

const noEntry = -1

type cacheEntry struct {
	adr        int64
	bucket     *bucket
	dirty      bool
	prev, next int
	inUse      bool
}

type bucketCache struct {
	entries  []cacheEntry
	freeList []int
	byAdr    map[int64]int

	mru, lru int
	count    int

	// capacity is the fixed size in fixed mode, or the auto-grow ceiling
	// (2^dir_bits) in auto mode.
	capacity int
	autoGrow bool
}

func newBucketCache(capacity int, autoGrow bool, ceiling int) *bucketCache {
	limit := capacity
	if autoGrow {
		limit = ceiling
	}
	return &bucketCache{
		byAdr:    make(map[int64]int),
		mru:      noEntry,
		lru:      noEntry,
		capacity: limit,
		autoGrow: autoGrow,
	}
}

// setCeiling adjusts the auto-grow ceiling after a directory doubling.
func (c *bucketCache) setCeiling(ceiling int) {
	if c.autoGrow {
		c.capacity = ceiling
	}
}

func (c *bucketCache) newSlot() int {
	if n := len(c.freeList); n > 0 {
		idx := c.freeList[n-1]
		c.freeList = c.freeList[:n-1]
		return idx
	}
	c.entries = append(c.entries, cacheEntry{})
	return len(c.entries) - 1
}

func (c *bucketCache) unlink(idx int) {
	e := &c.entries[idx]
	if e.prev != noEntry {
		c.entries[e.prev].next = e.next
	} else {
		c.mru = e.next
	}
	if e.next != noEntry {
		c.entries[e.next].prev = e.prev
	} else {
		c.lru = e.prev
	}
	e.prev, e.next = noEntry, noEntry
}

func (c *bucketCache) linkFront(idx int) {
	e := &c.entries[idx]
	e.prev = noEntry
	e.next = c.mru
	if c.mru != noEntry {
		c.entries[c.mru].prev = idx
	}
	c.mru = idx
	if c.lru == noEntry {
		c.lru = idx
	}
}

// linkAfterMRU inserts idx immediately after the node currently at c.mru, used
// by split to insert two freshly dirty buckets right after the current MRU
// entry (§4.5 step 3) without disturbing the dirty prefix.
func (c *bucketCache) linkAfterMRU(idx int) {
	e := &c.entries[idx]
	if c.mru == noEntry {
		c.linkFront(idx)
		return
	}
	after := c.mru
	afterNext := c.entries[after].next

	e.prev = after
	e.next = afterNext
	c.entries[after].next = idx
	if afterNext != noEntry {
		c.entries[afterNext].prev = idx
	} else {
		c.lru = idx
	}
}

func (c *bucketCache) lookup(adr int64) (int, bool) {
	idx, ok := c.byAdr[adr]
	return idx, ok
}

func (c *bucketCache) bucketAt(idx int) *bucket { return c.entries[idx].bucket }
func (c *bucketCache) isDirty(idx int) bool     { return c.entries[idx].dirty }

// flushDirtyPrefix writes every currently-dirty entry (a contiguous run
// starting at MRU) back to disk via writeFn, clearing their dirty bit.
func (c *bucketCache) flushDirtyPrefix(writeFn func(*bucket) error) error {
	idx := c.mru
	for idx != noEntry && c.entries[idx].dirty {
		if err := writeFn(c.entries[idx].bucket); err != nil {
			return err
		}
		c.entries[idx].dirty = false
		idx = c.entries[idx].next
	}
	return nil
}

// promote moves an existing entry to MRU front. If the entry is clean, the
// dirty prefix is flushed first so the invariant isn't broken by a clean
// entry jumping ahead of dirty ones.
func (c *bucketCache) promote(idx int, flush func(*bucket) error) error {
	if c.entries[idx].dirty {
		if idx != c.mru {
			c.unlink(idx)
			c.linkFront(idx)
		}
		return nil
	}

	if err := c.flushDirtyPrefix(flush); err != nil {
		return err
	}
	if idx != c.mru {
		c.unlink(idx)
		c.linkFront(idx)
	}
	return nil
}

// insert adds a new entry for adr/b, promoting it to MRU (flushing the
// dirty prefix first if b itself isn't dirty), then evicts down to
// capacity if needed.
func (c *bucketCache) insert(adr int64, b *bucket, dirty bool, flush func(*bucket) error) error {
	if !dirty {
		if err := c.flushDirtyPrefix(flush); err != nil {
			return err
		}
	}

	idx := c.newSlot()
	c.entries[idx] = cacheEntry{adr: adr, bucket: b, dirty: dirty, inUse: true, prev: noEntry, next: noEntry}
	c.byAdr[adr] = idx
	c.linkFront(idx)
	c.count++

	return c.evict(flush)
}

// insertAfterMRU adds a new dirty entry linked immediately after the
// current MRU, for split's two fresh buckets (§4.5 step 3).
func (c *bucketCache) insertAfterMRU(adr int64, b *bucket) {
	idx := c.newSlot()
	c.entries[idx] = cacheEntry{adr: adr, bucket: b, dirty: true, inUse: true, prev: noEntry, next: noEntry}
	c.byAdr[adr] = idx
	c.linkAfterMRU(idx)
	c.count++
}

func (c *bucketCache) markDirty(idx int) {
	c.entries[idx].dirty = true
}

// invalidate drops an entry entirely without writing it back, for a
// bucket's file region being freed (split step 7, reorganize).
func (c *bucketCache) invalidate(adr int64) {
	idx, ok := c.byAdr[adr]
	if !ok {
		return
	}
	c.unlink(idx)
	delete(c.byAdr, adr)
	c.entries[idx] = cacheEntry{}
	c.freeList = append(c.freeList, idx)
	c.count--
}

// evict removes entries from the LRU tail while over capacity. A dirty tail
// entry is written back through flush before it is removed.
func (c *bucketCache) evict(flush func(*bucket) error) error {
	for c.capacity > 0 && c.count > c.capacity {
		idx := c.lru
		if idx == noEntry {
			return nil
		}
		if c.entries[idx].dirty {
			if err := flush(c.entries[idx].bucket); err != nil {
				return err
			}
			c.entries[idx].dirty = false
		}
		adr := c.entries[idx].adr
		c.unlink(idx)
		delete(c.byAdr, adr)
		c.entries[idx] = cacheEntry{}
		c.freeList = append(c.freeList, idx)
		c.count--
	}
	return nil
}

// dirtyPrefixLen reports the length of the contiguous dirty run at MRU, for
// tests asserting the invariant directly.
func (c *bucketCache) dirtyPrefixLen() int {
	n := 0
	idx := c.mru
	for idx != noEntry && c.entries[idx].dirty {
		n++
		idx = c.entries[idx].next
	}
	return n
}
