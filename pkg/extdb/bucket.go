package extdb

import "errors"

// Internal causes wrapped by *Error values of KindBadBucket; not exported,
// callers classify on Kind/sentinel instead.
var (
	errCountExceedsElems    = errors.New("bucket count exceeds capacity")
	errBucketBitsExceedsDir = errors.New("bucket_bits exceeds directory bits")
	errLiveCountMismatch    = errors.New("live slot count does not match bucket.Count")
)

// findCandidates performs the linear probe described in §4.4: starting at
// home = hash mod bucket_elems, walk forward until an empty slot is hit. It
// returns the index of a slot whose hash/key-size/key-prefix match (the
// caller must still verify the full key), or -1 if the probe terminated on
// an empty slot without a hash match.
//
// It also returns the first open (i.e. empty) slot index seen along the
// way, usable for insertion. home is always a valid probe start regardless
// of match outcome.
func (b *bucket) findCandidates(h int64, keySize uint32, prefix []byte) (matchSlot int, firstEmpty int) {
	matchSlot = -1
	firstEmpty = -1

	elems := b.BucketElems
	home := homeSlot(h, elems)

	for i := uint32(0); i < elems; i++ {
		idx := (home + i) % elems
		s := &b.Slots[idx]

		if s.empty() {
			if firstEmpty == -1 {
				firstEmpty = int(idx)
			}
			return matchSlot, firstEmpty
		}

		if s.HashValue == h && s.KeySize == keySize && bytesPrefixEqual(s.KeyPrefix[:], prefix, int(keySize)) {
			if matchSlot == -1 {
				matchSlot = int(idx)
			}
		}
	}

	return matchSlot, firstEmpty
}

// bytesPrefixEqual compares the inlined prefix against key's first bytes,
// treating keys shorter than smallKeyPrefix correctly (both sides are
// zero-padded beyond their true length by construction).
func bytesPrefixEqual(stored, candidate []byte, keyLen int) bool {
	n := smallKeyPrefix
	if keyLen < n {
		n = keyLen
	}
	for i := 0; i < n; i++ {
		if stored[i] != candidate[i] {
			return false
		}
	}
	return true
}

func keyPrefixOf(key []byte) [smallKeyPrefix]byte {
	var p [smallKeyPrefix]byte
	n := len(key)
	if n > smallKeyPrefix {
		n = smallKeyPrefix
	}
	copy(p[:n], key[:n])
	return p
}

// insertSlot writes a new live slot at idx and bumps Count.
func (b *bucket) insertSlot(idx int, h int64, key []byte, dataSize uint32, dataPointer int64) {
	b.Slots[idx] = slot{
		HashValue:   h,
		KeySize:     uint32(len(key)),
		DataSize:    dataSize,
		DataPointer: dataPointer,
		KeyPrefix:   keyPrefixOf(key),
	}
	b.Count++
}

// probeInsert writes an already-populated slot (hash, size, prefix, data
// pointer already set, as copied from another bucket during split) at the
// first empty position reached by linear probing from its home slot.
func (b *bucket) probeInsert(s slot) {
	elems := b.BucketElems
	home := homeSlot(s.HashValue, elems)
	for i := uint32(0); i < elems; i++ {
		idx := (home + i) % elems
		if b.Slots[idx].empty() {
			b.Slots[idx] = s
			b.Count++
			return
		}
	}
}

// deleteSlot clears the slot at gap and restores the probe chain invariant
// described in §4.4: any subsequent slot whose home position is "covered"
// by the gap (i.e. the gap lies on the cyclic path from its home to its
// current position) must be moved back, or a lookup for that slot's key
// would incorrectly stop at the now-empty gap.
func (b *bucket) deleteSlot(gap int) {
	elems := int(b.BucketElems)
	b.Slots[gap] = slot{HashValue: emptyHash}
	b.Count--

	j := (gap + 1) % elems
	for {
		if b.Slots[j].empty() {
			return
		}

		home := int(homeSlot(b.Slots[j].HashValue, b.BucketElems))

		if cyclicBetween(home, gap, j, elems) {
			b.Slots[gap] = b.Slots[j]
			b.Slots[j] = slot{HashValue: emptyHash}
			gap = j
		}

		j = (j + 1) % elems
	}
}

// cyclicBetween reports whether, walking forward cyclically from home, gap
// is reached at or before j - i.e. whether moving the element at j back to
// gap keeps it reachable from a probe starting at home.
func cyclicBetween(home, gap, j, elems int) bool {
	distGap := (gap - home + elems) % elems
	distJ := (j - home + elems) % elems
	return distGap <= distJ
}

// validate checks the structural invariants GetBucket must enforce on every
// load (§4.6): 0 <= count <= bucket_elems, 0 <= bucket_bits <= dirBits, and
// a negative hash_value never appears except as the emptyHash sentinel
// (slots are always decoded with a clean -1/non-negative split, so this is
// really checking the live-count matches the table, which catches a
// corrupted Count field written by a previous buggy version).
func (b *bucket) validate(dirBits uint32) error {
	if b.Count > b.BucketElems {
		return newErr(KindBadBucket, "validateBucket", errCountExceedsElems)
	}
	if b.BucketBits > dirBits {
		return newErr(KindBadBucket, "validateBucket", errBucketBitsExceedsDir)
	}

	live := uint32(0)
	for i := range b.Slots {
		if !b.Slots[i].empty() {
			live++
		}
	}
	if live != b.Count {
		return newErr(KindBadBucket, "validateBucket", errLiveCountMismatch)
	}

	return nil
}
