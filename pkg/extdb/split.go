package extdb

// split performs one bucket split for the bucket currently responsible for
// hash h, per §4.5. Store calls this in a loop ("while bucket.count ==
// bucket_elems") until the target bucket has room; split itself handles at
// most one directory doubling and one bucket pair per call.
//
// It returns the bucket and directory index that should now be consulted
// for inserting the key with hash h (either of the two new buckets,
// whichever now owns h's directory slot).
func (db *DB) split(h int64) (*bucket, uint64, error) {
	idx := dirIndex(h, db.header.DirBits)
	old, err := db.getBucket(idx)
	if err != nil {
		return nil, 0, err
	}

	newBits := old.BucketBits + 1
	if newBits > db.header.DirBits {
		if err := db.ensureDirBits(newBits); err != nil {
			return nil, 0, err
		}
		idx = dirIndex(h, db.header.DirBits)
	}

	elems := db.header.BucketElems
	size := db.header.BucketSize

	adr0, err := db.alloc(old, size)
	if err != nil {
		return nil, 0, err
	}
	adr1, err := db.alloc(old, size)
	if err != nil {
		return nil, 0, err
	}

	b0 := newBucket(newBits, elems)
	b0.Adr = adr0
	b1 := newBucket(newBits, elems)
	b1.Adr = adr1

	for i := range old.Slots {
		s := old.Slots[i]
		if s.empty() {
			continue
		}
		if s.HashValue < 0 {
			return nil, 0, newErr(KindBadBucket, "split", errNegativeHashValue)
		}

		bit := (uint64(s.HashValue) >> (31 - newBits)) & 1
		if bit == 0 {
			b0.probeInsert(s)
		} else {
			b1.probeInsert(s)
		}
	}

	// Step 5: the bucket inheriting most of the old avail entries, and the
	// other getting a single fresh block-sized element.
	b0.Avail = old.Avail
	blockAdr, err := db.alloc(b0, db.header.BlockSize)
	if err != nil {
		return nil, 0, err
	}
	b1.Avail = []availElem{{Size: uint64(db.header.BlockSize), Adr: blockAdr}}
	if len(b0.Avail) > bucketAvail {
		spill := b0.Avail[0]
		b0.Avail = b0.Avail[1:]
		if err := db.masterPutAvail(spill); err != nil {
			return nil, 0, err
		}
	}

	// Insert both new buckets into the cache immediately after the current
	// MRU, dirty (§4.6 invariant), before touching the directory or
	// freeing the old region - the Open Question in §9 resolves in favor
	// of finalizing cache state before the old entry is freed.
	db.cache.insertAfterMRU(adr0, b0)
	db.cache.insertAfterMRU(adr1, b1)

	lo, hi := dirRun(idx, db.header.DirBits, old.BucketBits)
	mid := (lo + hi) / 2
	for i := lo; i < mid; i++ {
		db.directory[i] = adr0
	}
	for i := mid; i < hi; i++ {
		db.directory[i] = adr1
	}
	db.dirDirty = true

	db.cache.invalidate(old.Adr)
	if err := db.free(b0, old.Adr, db.header.BucketSize); err != nil {
		return nil, 0, err
	}

	newIdx := dirIndex(h, db.header.DirBits)
	bit := (uint64(h) >> (31 - newBits)) & 1
	cur := b0
	if bit == 1 {
		cur = b1
	}

	db.curBucket = cur
	db.curDirIndex = newIdx

	return cur, newIdx, nil
}
