package extdb

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func Test_StoreFetch_RoundTrips(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if err := db.Store([]byte("alpha"), []byte("one"), Insert); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := db.Fetch([]byte("alpha"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, []byte("one")) {
		t.Fatalf("Fetch = %q, want %q", got, "one")
	}
}

func Test_Fetch_MissingKey_ReturnsItemNotFound(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	_, err := db.Fetch([]byte("nope"))
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("Fetch of missing key = %v, want ErrItemNotFound", err)
	}
}

func Test_Store_Insert_RejectsExistingKey(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if err := db.Store([]byte("k"), []byte("v1"), Insert); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	err := db.Store([]byte("k"), []byte("v2"), Insert)
	if !errors.Is(err, ErrCannotReplace) {
		t.Fatalf("second Insert = %v, want ErrCannotReplace", err)
	}
}

func Test_Store_Replace_OverwritesValue(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if err := db.Store([]byte("k"), []byte("v1"), Insert); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := db.Store([]byte("k"), []byte("v2-longer"), Replace); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := db.Fetch([]byte("k"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, []byte("v2-longer")) {
		t.Fatalf("Fetch after Replace = %q, want %q", got, "v2-longer")
	}
}

func Test_Exists(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	ok, err := db.Exists([]byte("k"))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatalf("Exists = true before Store")
	}

	if err := db.Store([]byte("k"), []byte("v"), Insert); err != nil {
		t.Fatalf("Store: %v", err)
	}

	ok, err = db.Exists([]byte("k"))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatalf("Exists = false after Store")
	}
}

func Test_Delete_RemovesKey(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if err := db.Store([]byte("k"), []byte("v"), Insert); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err := db.Fetch([]byte("k"))
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("Fetch after Delete = %v, want ErrItemNotFound", err)
	}
}

func Test_Delete_MissingKey_ReturnsItemNotFound(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	err := db.Delete([]byte("nope"))
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("Delete of missing key = %v, want ErrItemNotFound", err)
	}
}

func Test_Count_TracksLiveKeys(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	n, err := db.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("Count on empty db = %d, want 0", n)
	}

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := db.Store(key, []byte("v"), Insert); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}

	n, err = db.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 20 {
		t.Fatalf("Count after 20 stores = %d, want 20", n)
	}

	if err := db.Delete([]byte("key-000")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	n, err = db.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 19 {
		t.Fatalf("Count after delete = %d, want 19", n)
	}
}

func Test_Store_TriggersSplitUnderLoad(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("load-key-%05d", i))
		if err := db.Store(key, []byte(fmt.Sprintf("value-%05d", i)), Insert); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}

	if db.header.DirBits == 0 {
		t.Fatalf("expected the directory to have grown under %d keys", n)
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("load-key-%05d", i))
		want := []byte(fmt.Sprintf("value-%05d", i))
		got, err := db.Fetch(key)
		if err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Fetch %d = %q, want %q", i, got, want)
		}
	}

	count, err := db.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != n {
		t.Fatalf("Count = %d, want %d", count, n)
	}
}

func Test_Store_SyncMode_FlushesEveryMutation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_ = dir

	db := newTestDB(t)
	if err := db.SetOpt(OptSyncMode, true); err != nil {
		t.Fatalf("SetOpt: %v", err)
	}

	if err := db.Store([]byte("k"), []byte("v"), Insert); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if db.headerDirty || db.dirDirty {
		t.Fatalf("expected SyncMode to flush header/directory dirty flags immediately")
	}
}
