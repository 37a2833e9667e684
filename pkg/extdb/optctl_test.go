package extdb

import "testing"

func Test_SetOpt_GetOpt_CacheSize(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if err := db.SetOpt(OptCacheSize, 64); err != nil {
		t.Fatalf("SetOpt: %v", err)
	}
	v, err := db.GetOpt(OptCacheSize)
	if err != nil {
		t.Fatalf("GetOpt: %v", err)
	}
	if v.(int) != 64 {
		t.Fatalf("GetOpt(OptCacheSize) = %v, want 64", v)
	}
	if db.cache.capacity != 64 || db.cache.autoGrow {
		t.Fatalf("cache not reconfigured: capacity=%d autoGrow=%v", db.cache.capacity, db.cache.autoGrow)
	}
}

func Test_SetOpt_WrongType_ReturnsOptBadVal(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	err := db.SetOpt(OptSyncMode, "not-a-bool")
	if err == nil {
		t.Fatalf("expected an error for a wrong-typed option value")
	}
}

func Test_SetOpt_FixedAtOpenOption_NoOpWhenUnchanged(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if err := db.SetOpt(OptNoLock, db.opts.NoLock); err != nil {
		t.Fatalf("SetOpt(OptNoLock, current value) should be a no-op: %v", err)
	}
	if err := db.SetOpt(OptNoLock, !db.opts.NoLock); err == nil {
		t.Fatalf("expected an error trying to flip NoLock on a live handle")
	}
}

func Test_GetOpt_DbNameAndFlags(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	name, err := db.GetOpt(OptDbName)
	if err != nil {
		t.Fatalf("GetOpt(OptDbName): %v", err)
	}
	if name.(string) != db.path {
		t.Fatalf("GetOpt(OptDbName) = %v, want %v", name, db.path)
	}

	mode, err := db.GetOpt(OptFlags)
	if err != nil {
		t.Fatalf("GetOpt(OptFlags): %v", err)
	}
	if mode.(Mode) != db.mode {
		t.Fatalf("GetOpt(OptFlags) = %v, want %v", mode, db.mode)
	}
}

func Test_SetOpt_ReadOnlyOption_Rejected(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	if err := db.SetOpt(OptDbName, "anything"); err == nil {
		t.Fatalf("expected an error setting a read-only option")
	}
}
