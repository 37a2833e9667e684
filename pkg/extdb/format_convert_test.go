package extdb

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/extdb/pkg/fs"
)

func Test_ToExtendedFormat_ToStandardFormat_RoundTrips(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if db.header.extended() {
		t.Fatalf("freshly created database should start in standard format")
	}

	if err := db.ToExtendedFormat(); err != nil {
		t.Fatalf("ToExtendedFormat: %v", err)
	}
	if !db.header.extended() {
		t.Fatalf("header not marked extended after ToExtendedFormat")
	}
	if db.header.Magic != magicNumSync {
		t.Fatalf("Magic = %x, want %x", db.header.Magic, magicNumSync)
	}

	if err := db.ToStandardFormat(); err != nil {
		t.Fatalf("ToStandardFormat: %v", err)
	}
	if db.header.extended() {
		t.Fatalf("header still marked extended after ToStandardFormat")
	}
	if db.header.Magic != magicStd {
		t.Fatalf("Magic = %x, want %x", db.header.Magic, magicStd)
	}
}

func Test_ToExtendedFormat_IsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if err := db.ToExtendedFormat(); err != nil {
		t.Fatalf("ToExtendedFormat: %v", err)
	}
	if err := db.ToExtendedFormat(); err != nil {
		t.Fatalf("second ToExtendedFormat should be a no-op, got: %v", err)
	}
	if db.header.Magic != magicNumSync {
		t.Fatalf("Magic = %x, want %x", db.header.Magic, magicNumSync)
	}
}

func Test_ToStandardFormat_IsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if err := db.ToStandardFormat(); err != nil {
		t.Fatalf("ToStandardFormat on already-standard db should be a no-op, got: %v", err)
	}
	if db.header.Magic != magicStd {
		t.Fatalf("Magic = %x, want %x", db.header.Magic, magicStd)
	}
}

func Test_ToExtendedFormat_PreservesStoredKeys(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	const n = 20
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("conv-%03d", i))
		if err := db.Store(k, []byte(fmt.Sprintf("val-%03d", i)), Insert); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}

	if err := db.ToExtendedFormat(); err != nil {
		t.Fatalf("ToExtendedFormat: %v", err)
	}

	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("conv-%03d", i))
		want := []byte(fmt.Sprintf("val-%03d", i))
		got, err := db.Fetch(k)
		if err != nil {
			t.Fatalf("Fetch %q after ToExtendedFormat: %v", k, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Fetch %q = %q, want %q", k, got, want)
		}
	}

	if err := db.ToStandardFormat(); err != nil {
		t.Fatalf("ToStandardFormat: %v", err)
	}

	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("conv-%03d", i))
		want := []byte(fmt.Sprintf("val-%03d", i))
		got, err := db.Fetch(k)
		if err != nil {
			t.Fatalf("Fetch %q after ToStandardFormat: %v", k, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Fetch %q = %q, want %q", k, got, want)
		}
	}
}

func Test_ToExtendedFormat_SurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := Open(fs.NewReal(), path, 0, NewDb, 0o600, WithNoLock())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := db.Store([]byte("k"), []byte("v"), Insert); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := db.ToExtendedFormat(); err != nil {
		t.Fatalf("ToExtendedFormat: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(fs.NewReal(), path, 0, WrCreate, 0o600, WithNoLock())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if !reopened.header.extended() {
		t.Fatalf("extended format did not survive reopen")
	}
	got, err := reopened.Fetch([]byte("k"))
	if err != nil {
		t.Fatalf("Fetch after reopen: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Fatalf("Fetch after reopen = %q, want %q", got, "v")
	}
}

func Test_ToExtendedFormat_RejectsOnReaderHandle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	writer, err := Open(fs.NewReal(), path, 0, NewDb, 0o600, WithNoLock())
	if err != nil {
		t.Fatalf("Open (create): %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, err := Open(fs.NewReal(), path, 0, Reader, 0o600, WithNoLock())
	if err != nil {
		t.Fatalf("Open (reader): %v", err)
	}
	defer reader.Close()

	if err := reader.ToExtendedFormat(); err == nil {
		t.Fatalf("expected ToExtendedFormat on a Reader handle to fail")
	}
}

// Test_ToExtendedFormat_OnNonRealFS_UsesAtomicWriter drives
// rewriteHeaderAtomically's non-*fs.Real branch, which goes through
// fs.AtomicWriter instead of github.com/natefinch/atomic. fs.Chaos with a
// zero-rate config is a pure passthrough wrapper, so this exercises
// AtomicWriter's temp-file-create/write/fsync/rename/fsync-dir sequence
// against a real working directory without injecting any faults.
func Test_ToExtendedFormat_OnNonRealFS_UsesAtomicWriter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	chaos := fs.NewChaos(fs.NewReal(), 3, &fs.ChaosConfig{})

	db, err := Open(chaos, path, 0, NewDb, 0o600, WithNoLock())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	const n = 20
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("awr-%03d", i))
		if err := db.Store(k, []byte(fmt.Sprintf("val-%03d", i)), Insert); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}

	if err := db.ToExtendedFormat(); err != nil {
		t.Fatalf("ToExtendedFormat: %v", err)
	}
	if !db.header.extended() {
		t.Fatalf("header not marked extended after ToExtendedFormat")
	}

	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("awr-%03d", i))
		want := []byte(fmt.Sprintf("val-%03d", i))
		got, err := db.Fetch(k)
		if err != nil {
			t.Fatalf("Fetch %q after ToExtendedFormat: %v", k, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Fetch %q = %q, want %q", k, got, want)
		}
	}

	if err := db.ToStandardFormat(); err != nil {
		t.Fatalf("ToStandardFormat: %v", err)
	}
	if db.header.extended() {
		t.Fatalf("header still marked extended after ToStandardFormat")
	}

	got, err := db.Fetch([]byte("awr-000"))
	if err != nil {
		t.Fatalf("Fetch after ToStandardFormat: %v", err)
	}
	if !bytes.Equal(got, []byte("val-000")) {
		t.Fatalf("Fetch after ToStandardFormat = %q, want %q", got, "val-000")
	}
}

func Test_SpillMasterAvailOverflow_NoOpWhenUnderCapacity(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	before := db.header.Avail.Count
	db.spillMasterAvailOverflow()
	if db.header.Avail.Count != before {
		t.Fatalf("spillMasterAvailOverflow changed Avail.Count from %d to %d with nothing over capacity", before, db.header.Avail.Count)
	}
}
