package extdb

import "sort"

// The free-space allocator (§4.3): two pools, the current bucket's small
// avail array and the header's master avail stack (chained through
// NextBlock when it overflows), both kept sorted ascending by size so the
// smallest adequate element can be found with a linear scan (the tables are
// tiny - bucketAvail or a few dozen entries - so this isn't worth a heap).

func sortAvailAsc(t []availElem) {
	sort.Slice(t, func(i, j int) bool { return t[i].Size < t[j].Size })
}

// findFit returns the index of the smallest element in a sorted-ascending
// table with Size >= n, or -1.
func findFit(t []availElem, n uint64) int {
	for i := range t {
		if t[i].Size >= n {
			return i
		}
	}
	return -1
}

// alloc reserves n bytes, preferring cur's local avail, then the master
// avail (popping an overflow block if the master is empty), then extending
// the file.
func (db *DB) alloc(cur *bucket, n uint32) (int64, error) {
	need := uint64(n)

	if cur != nil {
		sortAvailAsc(cur.Avail)
		if i := findFit(cur.Avail, need); i >= 0 {
			e := cur.Avail[i]
			cur.Avail = append(cur.Avail[:i], cur.Avail[i+1:]...)
			if e.Size > need {
				db.bucketPutAvail(cur, availElem{Size: e.Size - need, Adr: e.Adr + int64(need)})
			}
			return e.Adr, nil
		}
	}

	sortAvailAsc(db.header.Avail.Table[:db.header.Avail.Count])
	if i := findFit(db.header.Avail.Table[:db.header.Avail.Count], need); i >= 0 {
		e := db.header.Avail.Table[i]
		db.removeMasterAt(i)
		if e.Size > need {
			if err := db.masterPutAvail(availElem{Size: e.Size - need, Adr: e.Adr + int64(need)}); err != nil {
				return 0, err
			}
		}
		return e.Adr, nil
	}

	if db.header.Avail.Count == 0 && db.header.Avail.NextBlock != 0 {
		if err := db.popMasterOverflow(cur); err != nil {
			return 0, err
		}
		return db.alloc(cur, n)
	}

	adr := db.header.NextBlock
	if err := db.growFile(adr + int64(n)); err != nil {
		return 0, err
	}
	db.header.NextBlock += int64(n)

	return adr, nil
}

// free releases the n bytes at adr back to a pool, per the CentralFree and
// CoalesceBlocks options. A nil cur (no bucket in context) always goes to
// the master avail regardless of CentralFree.
func (db *DB) free(cur *bucket, adr int64, n uint32) error {
	e := availElem{Size: uint64(n), Adr: adr}

	if db.opts.CentralFree || cur == nil {
		if db.opts.CoalesceBlocks {
			e = db.coalesceMaster(e)
		}
		return db.masterPutAvail(e)
	}

	if db.opts.CoalesceBlocks {
		e = coalesceBucket(cur, e)
	}
	db.bucketPutAvail(cur, e)
	return nil
}

// bucketPutAvail inserts e into cur's avail array, spilling the smallest
// entry to the master avail when that would overflow bucketAvail capacity.
func (db *DB) bucketPutAvail(cur *bucket, e availElem) {
	cur.Avail = append(cur.Avail, e)
	sortAvailAsc(cur.Avail)

	if len(cur.Avail) > bucketAvail {
		spill := cur.Avail[0]
		cur.Avail = cur.Avail[1:]
		_ = db.masterPutAvail(spill) // best effort; master always has room after a push
	}
}

// coalesceBucket merges e with an adjacent entry already in cur's avail, if
// any (av_adr+av_size == a, or a+n == other.av_adr).
func coalesceBucket(cur *bucket, e availElem) availElem {
	for i := 0; i < len(cur.Avail); i++ {
		o := cur.Avail[i]
		if o.Adr+int64(o.Size) == e.Adr || e.Adr+int64(e.Size) == o.Adr {
			lo := e.Adr
			if o.Adr < lo {
				lo = o.Adr
			}
			merged := availElem{Size: e.Size + o.Size, Adr: lo}
			cur.Avail = append(cur.Avail[:i], cur.Avail[i+1:]...)
			return merged
		}
	}
	return e
}

func (db *DB) coalesceMaster(e availElem) availElem {
	t := db.header.Avail.Table[:db.header.Avail.Count]
	for i := 0; i < len(t); i++ {
		o := t[i]
		if o.Adr+int64(o.Size) == e.Adr || e.Adr+int64(e.Size) == o.Adr {
			lo := e.Adr
			if o.Adr < lo {
				lo = o.Adr
			}
			merged := availElem{Size: e.Size + o.Size, Adr: lo}
			db.removeMasterAt(i)
			return merged
		}
	}
	return e
}

func (db *DB) removeMasterAt(i int) {
	t := db.header.Avail.Table
	copy(t[i:db.header.Avail.Count-1], t[i+1:db.header.Avail.Count])
	db.header.Avail.Count--
}

// masterPutAvail inserts e into the header's inline master avail, pushing
// its current contents out to a fresh overflow block first if full.
func (db *DB) masterPutAvail(e availElem) error {
	cap := uint32(len(db.header.Avail.Table))

	if db.header.Avail.Count == cap {
		if err := db.pushMasterOverflow(); err != nil {
			return err
		}
	}

	db.header.Avail.Table[db.header.Avail.Count] = e
	db.header.Avail.Count++
	sortAvailAsc(db.header.Avail.Table[:db.header.Avail.Count])

	return nil
}

// pushMasterOverflow writes the header's current master avail contents out
// to a freshly allocated overflow block, chaining it via NextBlock, and
// resets the in-header table to empty (ready for masterPutAvail to insert
// the new element into it).
func (db *DB) pushMasterOverflow() error {
	blockSize := db.header.BlockSize
	overflowAdr := db.header.NextBlock
	if err := db.growFile(overflowAdr + int64(blockSize)); err != nil {
		return err
	}
	db.header.NextBlock += int64(blockSize)

	overflow := availBlock{
		Size:      overflowAvailCapacity(blockSize),
		Count:     db.header.Avail.Count,
		NextBlock: db.header.Avail.NextBlock,
		Table:     make([]availElem, overflowAvailCapacity(blockSize)),
	}
	copy(overflow.Table, db.header.Avail.Table[:db.header.Avail.Count])

	if err := db.writeAvailBlockAt(overflowAdr, &overflow); err != nil {
		return err
	}

	for i := range db.header.Avail.Table {
		db.header.Avail.Table[i] = availElem{}
	}
	db.header.Avail.Count = 0
	db.header.Avail.NextBlock = overflowAdr

	return nil
}

// popMasterOverflow loads the overflow block chained from the header's
// master avail into memory, replacing the header's (now empty) table with
// its contents. If the overflow block holds more entries than the header's
// inline table can hold, the excess spills into cur's bucket avail (the
// "returning any element(s) that no longer fit" case in §4.3 - it shouldn't
// arise given how pushMasterOverflow sizes pushes, but is handled for
// robustness against a database written by a different allocator history).
func (db *DB) popMasterOverflow(cur *bucket) error {
	adr := db.header.Avail.NextBlock

	overflow, err := db.readAvailBlockAt(adr)
	if err != nil {
		return err
	}
	if err := validateAvailBlock(overflow, db.header.BlockSize, db.header.NextBlock); err != nil {
		db.poison()
		return err
	}

	headerCap := uint32(len(db.header.Avail.Table))

	kept := overflow.Count
	if kept > headerCap {
		kept = headerCap
	}

	for i := range db.header.Avail.Table {
		db.header.Avail.Table[i] = availElem{}
	}
	copy(db.header.Avail.Table, overflow.Table[:kept])
	db.header.Avail.Count = kept
	db.header.Avail.NextBlock = overflow.NextBlock

	spill := func(e availElem) {
		if cur != nil {
			db.bucketPutAvail(cur, e)
		} else {
			_ = db.masterPutAvail(e)
		}
	}

	for i := kept; i < overflow.Count; i++ {
		spill(overflow.Table[i])
	}

	// The overflow block's own storage is no longer referenced by the
	// avail chain; reclaim it like any other freed region.
	spill(availElem{Size: uint64(db.header.BlockSize), Adr: adr})

	return nil
}

// validateAvailBlock enforces §4.3's validation: every element must satisfy
// av_adr >= block_size and av_adr+av_size <= next_block, with no overflow
// and no repeated offsets (cycle detection across a chain is the caller's
// responsibility; this checks one block's own table).
func validateAvailBlock(a availBlock, blockSize uint32, nextBlock int64) error {
	seen := make(map[int64]struct{}, a.Count)

	for i := uint32(0); i < a.Count; i++ {
		e := a.Table[i]

		if e.Adr < int64(blockSize) {
			return newErr(KindBadAvail, "validateAvailBlock", errAvailBelowBlockSize)
		}
		if e.Adr+int64(e.Size) < e.Adr {
			return newErr(KindBadAvail, "validateAvailBlock", errAvailOverflow)
		}
		if e.Adr+int64(e.Size) > nextBlock {
			return newErr(KindBadAvail, "validateAvailBlock", errAvailPastNextBlock)
		}
		if _, dup := seen[e.Adr]; dup {
			return newErr(KindBadAvail, "validateAvailBlock", errAvailCycle)
		}
		seen[e.Adr] = struct{}{}
	}

	return nil
}
