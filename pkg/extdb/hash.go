package extdb

// hashKey computes a 31-bit, non-cryptographic hash of key, per §4.2.
//
// This is a bespoke rolling multiplicative hash (in the spirit of the
// classic ELF/PJW hash family), not one of the corpus's own hash functions:
// [Kind] and the slot format need a 31-bit value with a reserved sentinel
// (-1 means "empty"), which rules out reusing a wide hash like FNV-1a-64
// without an awkward truncation-and-remap step. See DESIGN.md for why this
// was written fresh rather than adapted from the teacher.
//
// The top bit is always zero, so the result fits comfortably in an int64
// slot field while reserving -1.
func hashKey(key []byte) int64 {
	var h uint32 = 0

	for _, c := range key {
		h = (h << 4) + uint32(c)
		if top := h & 0xf0000000; top != 0 {
			h ^= top >> 24
			h &^= top
		}
		h = h*31 + uint32(c)
	}

	return int64(h & 0x7fffffff)
}

// dirIndex returns the directory index for hash h given the directory's
// current depth (dirBits): the top dirBits bits of the 31-bit hash.
func dirIndex(h int64, dirBits uint32) uint64 {
	if dirBits == 0 {
		return 0
	}
	return uint64(h) >> (31 - dirBits)
}

// homeSlot returns the initial linear-probe slot for hash h in a bucket
// with the given slot capacity.
func homeSlot(h int64, bucketElems uint32) uint32 {
	return uint32(uint64(h) % uint64(bucketElems))
}
