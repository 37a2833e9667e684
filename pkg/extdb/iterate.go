package extdb

// FirstKey returns the key in the first live slot under scan order:
// directory index ascending, then slot index ascending within a bucket,
// visiting each bucket at most once (§4.7).
func (db *DB) FirstKey() ([]byte, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.scanFrom(0)
}

// NextKey resumes iteration after key, per §4.7's ordering guarantees. Not
// stable under concurrent mutation of the traversed region: a Store that
// splits the current bucket between calls may cause keys to be visited
// twice or skipped.
func (db *DB) NextKey(key []byte) ([]byte, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	b, idx, slotIdx, err := db.findSlot(key)
	if err != nil {
		return nil, err
	}
	if slotIdx < 0 {
		return nil, newErr(KindItemNotFound, "NextKey", nil)
	}

	for s := slotIdx + 1; s < int(b.BucketElems); s++ {
		if !b.Slots[s].empty() {
			return db.keyOf(b.Slots[s])
		}
	}

	_, hi := dirRun(idx, db.header.DirBits, b.BucketBits)
	return db.scanFrom(hi)
}

func (db *DB) scanFrom(start uint64) ([]byte, error) {
	n := uint64(len(db.directory))

	for i := start; i < n; i++ {
		if i > start && db.directory[i] == db.directory[i-1] {
			continue
		}

		b, err := db.getBucket(i)
		if err != nil {
			return nil, err
		}

		for s := range b.Slots {
			if !b.Slots[s].empty() {
				return db.keyOf(b.Slots[s])
			}
		}
	}

	return nil, newErr(KindItemNotFound, "scanFrom", nil)
}

func (db *DB) keyOf(s slot) ([]byte, error) {
	key, err := db.readPayload(s.DataPointer, s.KeySize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}
