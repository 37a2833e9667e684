package extdb

import "testing"

func Test_Bucket_InsertAndFindCandidates(t *testing.T) {
	t.Parallel()

	b := newBucket(0, 8)

	key := []byte("alpha")
	h := hashKey(key)
	prefix := keyPrefixOf(key)

	matchSlot, firstEmpty := b.findCandidates(h, uint32(len(key)), prefix[:])
	if matchSlot != -1 {
		t.Fatalf("findCandidates on empty bucket returned match %d", matchSlot)
	}
	if firstEmpty < 0 {
		t.Fatalf("findCandidates on empty bucket found no empty slot")
	}

	b.insertSlot(firstEmpty, h, key, 10, 4096)

	matchSlot, _ = b.findCandidates(h, uint32(len(key)), prefix[:])
	if matchSlot != firstEmpty {
		t.Fatalf("findCandidates after insert = %d, want %d", matchSlot, firstEmpty)
	}
	if b.Count != 1 {
		t.Fatalf("Count = %d, want 1", b.Count)
	}
}

func Test_Bucket_ProbeInsert_LinearProbesPastCollision(t *testing.T) {
	t.Parallel()

	const elems = 4
	b := newBucket(0, elems)

	home := uint32(1)
	b.probeInsert(slot{HashValue: int64(home), KeySize: 1, DataSize: 1, DataPointer: 100})
	if b.Slots[home].empty() {
		t.Fatalf("expected slot %d occupied", home)
	}

	// A second slot with the same home must land in the next free slot.
	b.probeInsert(slot{HashValue: int64(home), KeySize: 1, DataSize: 1, DataPointer: 200})
	if b.Slots[(home+1)%elems].empty() {
		t.Fatalf("expected collision to probe forward into slot %d", (home+1)%elems)
	}
	if b.Count != 2 {
		t.Fatalf("Count = %d, want 2", b.Count)
	}
}

func Test_Bucket_DeleteSlot_PreservesProbeChain(t *testing.T) {
	t.Parallel()

	const elems = 4
	b := newBucket(0, elems)

	// Two keys whose home is slot 0; occupy 0 then 1 via linear probing.
	b.probeInsert(slot{HashValue: 0, KeySize: 1, DataSize: 1, DataPointer: 100})
	b.probeInsert(slot{HashValue: 0, KeySize: 1, DataSize: 1, DataPointer: 200})

	if b.Slots[0].empty() || b.Slots[1].empty() {
		t.Fatalf("setup failed: expected slots 0 and 1 occupied, got %+v", b.Slots)
	}

	// Deleting slot 0 must move the element at slot 1 (home 0, reachable
	// through the gap) back into slot 0, not leave it stranded behind a gap.
	b.deleteSlot(0)

	if b.Slots[0].empty() {
		t.Fatalf("expected the second element to have moved into the freed gap")
	}
	if b.Slots[0].DataPointer != 200 {
		t.Fatalf("DataPointer after shift = %d, want 200", b.Slots[0].DataPointer)
	}
	if !b.Slots[1].empty() {
		t.Fatalf("slot 1 should be empty after the shift")
	}
	if b.Count != 1 {
		t.Fatalf("Count after delete = %d, want 1", b.Count)
	}
}

func Test_Bucket_Validate_RejectsCountMismatch(t *testing.T) {
	t.Parallel()

	b := newBucket(0, 4)
	b.Count = 1 // no live slots, but Count says one

	err := b.validate(4)
	if err == nil {
		t.Fatalf("expected validate to reject a count/live-slot mismatch")
	}
}

func Test_Bucket_Validate_RejectsBucketBitsExceedingDirBits(t *testing.T) {
	t.Parallel()

	b := newBucket(3, 4)
	if err := b.validate(2); err == nil {
		t.Fatalf("expected validate to reject bucket_bits > dir_bits")
	}
}

func Test_Bucket_Validate_AcceptsConsistentBucket(t *testing.T) {
	t.Parallel()

	b := newBucket(1, 4)
	b.probeInsert(slot{HashValue: 5, KeySize: 1, DataSize: 1, DataPointer: 10})

	if err := b.validate(2); err != nil {
		t.Fatalf("validate rejected a consistent bucket: %v", err)
	}
}
