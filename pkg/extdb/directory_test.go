package extdb

import "testing"

func Test_DoubleDirectory_DuplicatesEachEntry(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	before := append([]int64(nil), db.directory...)
	beforeBits := db.header.DirBits

	if err := db.doubleDirectory(); err != nil {
		t.Fatalf("doubleDirectory: %v", err)
	}

	if db.header.DirBits != beforeBits+1 {
		t.Fatalf("DirBits = %d, want %d", db.header.DirBits, beforeBits+1)
	}
	if len(db.directory) != len(before)*2 {
		t.Fatalf("directory length = %d, want %d", len(db.directory), len(before)*2)
	}
	for i, e := range before {
		if db.directory[2*i] != e || db.directory[2*i+1] != e {
			t.Fatalf("entry %d not duplicated correctly: got %d/%d, want %d",
				i, db.directory[2*i], db.directory[2*i+1], e)
		}
	}
	if !db.dirDirty || !db.headerDirty {
		t.Fatalf("doubleDirectory must mark both header and directory dirty")
	}
}

func Test_EnsureDirBits_DoublesUntilTargetReached(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if err := db.ensureDirBits(3); err != nil {
		t.Fatalf("ensureDirBits: %v", err)
	}
	if db.header.DirBits != 3 {
		t.Fatalf("DirBits = %d, want 3", db.header.DirBits)
	}
	if len(db.directory) != 8 {
		t.Fatalf("directory length = %d, want 8", len(db.directory))
	}
}

func Test_EnsureDirBits_NoOpWhenAlreadySufficient(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	if err := db.ensureDirBits(2); err != nil {
		t.Fatalf("ensureDirBits: %v", err)
	}
	before := len(db.directory)

	if err := db.ensureDirBits(1); err != nil {
		t.Fatalf("ensureDirBits: %v", err)
	}
	if len(db.directory) != before {
		t.Fatalf("directory grew on a no-op ensureDirBits call: %d -> %d", before, len(db.directory))
	}
}

func Test_DirRun_ReturnsAlignedSpan(t *testing.T) {
	t.Parallel()

	// dir_bits=3 (8 entries), bucket_bits=1 -> each bucket spans 4 entries.
	lo, hi := dirRun(5, 3, 1)
	if lo != 4 || hi != 8 {
		t.Fatalf("dirRun(5, 3, 1) = [%d, %d), want [4, 8)", lo, hi)
	}

	lo, hi = dirRun(0, 3, 1)
	if lo != 0 || hi != 4 {
		t.Fatalf("dirRun(0, 3, 1) = [%d, %d), want [0, 4)", lo, hi)
	}

	// bucket_bits == dir_bits -> span of 1, every index its own run.
	lo, hi = dirRun(5, 3, 3)
	if lo != 5 || hi != 6 {
		t.Fatalf("dirRun(5, 3, 3) = [%d, %d), want [5, 6)", lo, hi)
	}
}
