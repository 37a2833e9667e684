package extdb

import "bytes"

// Replacement controls Store's behavior when the key already exists.
type Replacement int

const (
	// Insert fails with ErrCannotReplace if the key already exists.
	Insert Replacement = iota
	// Replace overwrites the existing value, if any.
	Replace
)

// getBucket establishes the current bucket for directory index idx, per
// §4.6: cache lookup by the directory's offset, reading from disk and
// validating on miss, promoting the result to MRU either way.
func (db *DB) getBucket(idx uint64) (*bucket, error) {
	adr := db.directory[idx]

	if i, ok := db.cache.lookup(adr); ok {
		if err := db.cache.promote(i, db.flushBucket); err != nil {
			return nil, err
		}
		b := db.cache.bucketAt(i)
		db.curBucket = b
		db.curDirIndex = idx
		return b, nil
	}

	b, err := db.readBucketAt(adr)
	if err != nil {
		return nil, err
	}
	if err := db.cache.insert(adr, b, false, db.flushBucket); err != nil {
		return nil, err
	}

	db.curBucket = b
	db.curDirIndex = idx
	return b, nil
}

func (db *DB) flushBucket(b *bucket) error {
	return db.writeBucketAt(b)
}

// findSlot locates key's live slot, reading its full key from the payload
// region to disambiguate a hash_value/key_size/prefix match (§4.4). It
// returns the owning bucket, directory index, and slot index, or -1 if not
// found.
func (db *DB) findSlot(key []byte) (*bucket, uint64, int, error) {
	h := hashKey(key)
	idx := dirIndex(h, db.header.DirBits)

	b, err := db.getBucket(idx)
	if err != nil {
		return nil, 0, -1, err
	}

	prefix := keyPrefixOf(key)
	elems := b.BucketElems
	home := homeSlot(h, elems)

	for i := uint32(0); i < elems; i++ {
		slotIdx := (home + i) % elems
		s := &b.Slots[slotIdx]

		if s.empty() {
			return b, idx, -1, nil
		}

		if s.HashValue == h && s.KeySize == uint32(len(key)) && bytesPrefixEqual(s.KeyPrefix[:], prefix[:], len(key)) {
			stored, err := db.readPayload(s.DataPointer, s.KeySize)
			if err != nil {
				return nil, 0, -1, err
			}
			if bytes.Equal(stored, key) {
				return b, idx, int(slotIdx), nil
			}
		}
	}

	return b, idx, -1, nil
}

// Fetch returns the value stored under key, or ErrItemNotFound.
func (db *DB) Fetch(key []byte) ([]byte, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	b, _, slotIdx, err := db.findSlot(key)
	if err != nil {
		return nil, err
	}
	if slotIdx < 0 {
		return nil, newErr(KindItemNotFound, "Fetch", nil)
	}

	s := &b.Slots[slotIdx]
	value, err := db.readPayload(s.DataPointer+int64(s.KeySize), s.DataSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Exists reports whether key is present, without allocating a value
// buffer.
func (db *DB) Exists(key []byte) (bool, error) {
	if err := db.checkOpen(); err != nil {
		return false, err
	}

	_, _, slotIdx, err := db.findSlot(key)
	if err != nil {
		return false, err
	}
	return slotIdx >= 0, nil
}

// Store inserts or replaces key/value, per mode. Never leaves a bucket
// half-split on the success path: all splits required to make room
// complete before the new slot is written.
func (db *DB) Store(key, value []byte, mode Replacement) error {
	if err := db.checkWritable("Store"); err != nil {
		return err
	}

	b, idx, slotIdx, err := db.findSlot(key)
	if err != nil {
		return err
	}

	if slotIdx >= 0 {
		if mode == Insert {
			return newErr(KindCannotReplace, "Store", nil)
		}
		return db.replaceSlot(b, slotIdx, key, value)
	}

	h := hashKey(key)
	for b.Count == b.BucketElems {
		var err error
		b, idx, err = db.split(h)
		if err != nil {
			return err
		}
	}

	size := uint32(len(key) + len(value))
	adr, err := db.alloc(b, size)
	if err != nil {
		return err
	}
	if err := db.writePayload(adr, key, value); err != nil {
		return err
	}

	prefix := keyPrefixOf(key)
	_, firstEmpty := b.findCandidates(h, uint32(len(key)), prefix[:])
	if firstEmpty < 0 {
		return newErr(KindBadBucket, "Store", nil)
	}

	b.insertSlot(firstEmpty, h, key, uint32(len(value)), adr)
	db.markCurrentDirty()

	db.directory[idx] = b.Adr

	if db.opts.SyncMode {
		return db.Sync()
	}
	return nil
}

func (db *DB) replaceSlot(b *bucket, slotIdx int, key, value []byte) error {
	s := &b.Slots[slotIdx]

	oldAdr := s.DataPointer
	oldSize := uint32(s.KeySize) + s.DataSize

	newSize := uint32(len(key) + len(value))
	adr, err := db.alloc(b, newSize)
	if err != nil {
		return err
	}
	if err := db.writePayload(adr, key, value); err != nil {
		return err
	}

	s.DataPointer = adr
	s.DataSize = uint32(len(value))
	db.markCurrentDirty()

	return db.free(b, oldAdr, oldSize)
}

// Delete removes key, or reports ErrItemNotFound.
func (db *DB) Delete(key []byte) error {
	if err := db.checkWritable("Delete"); err != nil {
		return err
	}

	b, _, slotIdx, err := db.findSlot(key)
	if err != nil {
		return err
	}
	if slotIdx < 0 {
		return newErr(KindItemNotFound, "Delete", nil)
	}

	s := b.Slots[slotIdx]
	if err := db.free(b, s.DataPointer, s.KeySize+s.DataSize); err != nil {
		return err
	}

	b.deleteSlot(slotIdx)
	db.markCurrentDirty()

	if db.opts.SyncMode {
		return db.Sync()
	}
	return nil
}

// markCurrentDirty flags the current (MRU) cache entry as dirty after an
// in-place mutation; it is already at the MRU front via getBucket, so the
// dirty-prefix invariant holds without any list movement.
func (db *DB) markCurrentDirty() {
	if db.curBucket == nil {
		return
	}
	if idx, ok := db.cache.lookup(db.curBucket.Adr); ok {
		db.cache.markDirty(idx)
	}
}

// Count returns the exact number of live slots across all buckets
// reachable via distinct directory entries.
func (db *DB) Count() (uint64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}

	var total uint64
	seen := make(map[int64]bool)

	for i := range db.directory {
		adr := db.directory[i]
		if seen[adr] {
			continue
		}
		seen[adr] = true

		b, err := db.getBucket(uint64(i))
		if err != nil {
			return 0, err
		}
		total += uint64(b.Count)
	}

	return total, nil
}
