package extdb

// maxDirBits bounds the directory at a size the allocator and directory
// offset fields can represent; doubling past it fails with DirOverflow
// rather than silently wrapping (§4.5 step 2).
const maxDirBits = 30

// doubleDirectory grows the directory from 2^DirBits to 2^(DirBits+1)
// entries, each old entry copied into two consecutive new slots, per §4.5
// step 2. It points header.Dir at the new region and marks both header and
// directory dirty for the next Sync; the old directory region is freed into
// avail only after the new one is in place in memory.
func (db *DB) doubleDirectory() error {
	if db.header.DirBits+1 > maxDirBits {
		return newErr(KindDirOverflow, "doubleDirectory", nil)
	}

	oldDir := db.directory
	oldAdr := db.header.Dir
	oldSize := db.header.DirSize

	newSize := oldSize * 2
	newAdr, err := db.alloc(nil, newSize)
	if err != nil {
		return err
	}

	newDir := make([]int64, len(oldDir)*2)
	for i, e := range oldDir {
		newDir[2*i] = e
		newDir[2*i+1] = e
	}

	db.directory = newDir
	db.header.Dir = newAdr
	db.header.DirSize = newSize
	db.header.DirBits++
	db.headerDirty = true
	db.dirDirty = true

	if oldAdr != 0 {
		if err := db.free(db.curBucket, oldAdr, oldSize); err != nil {
			return err
		}
	}

	return nil
}

// ensureDirBits doubles the directory until new_bits fits (a single
// Store may need multiple splits and therefore multiple doublings).
func (db *DB) ensureDirBits(newBits uint32) error {
	for newBits > db.header.DirBits {
		if err := db.doubleDirectory(); err != nil {
			return err
		}
	}
	return nil
}

// dirRun returns [lo, hi) : the contiguous aligned run of directory indices
// that currently point at the same bucket as index i (a bucket with
// bucket_bits = b spans 2^(dir_bits-b) consecutive, aligned entries, per
// testable property 4).
func dirRun(i uint64, dirBits, bucketBits uint32) (lo, hi uint64) {
	span := uint64(1) << (dirBits - bucketBits)
	lo = (i / span) * span
	hi = lo + span
	return lo, hi
}
