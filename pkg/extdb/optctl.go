package extdb

// Opt identifies a post-open tunable recognized by SetOpt/GetOpt (§4.1, §6).
type Opt int

const (
	OptCacheSize Opt = iota
	OptSyncMode
	OptCentralFree
	OptCoalesceBlocks
	OptMmapSize
	OptMaxMapSize
	OptNoLock
	OptNoMMap
	OptCloseOnExec
	OptDbName
	OptFlags
)

// SetOpt changes a tunable on an open handle. Every accepted value is
// applied as given, zero values included: false turns a boolean option off,
// and a CacheSize of 0 or less switches the cache to auto-grow. Options fixed
// at Open accept only the value already in effect.
func (db *DB) SetOpt(opt Opt, val any) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	switch opt {
	case OptCacheSize:
		n, ok := val.(int)
		if !ok {
			return newErr(KindOptBadVal, "SetOpt", nil)
		}
		db.opts.CacheSize = n
		db.cache.capacity = n
		db.cache.autoGrow = n <= 0
	case OptSyncMode:
		b, ok := val.(bool)
		if !ok {
			return newErr(KindOptBadVal, "SetOpt", nil)
		}
		db.opts.SyncMode = b
	case OptCentralFree:
		b, ok := val.(bool)
		if !ok {
			return newErr(KindOptBadVal, "SetOpt", nil)
		}
		db.opts.CentralFree = b
	case OptCoalesceBlocks:
		b, ok := val.(bool)
		if !ok {
			return newErr(KindOptBadVal, "SetOpt", nil)
		}
		db.opts.CoalesceBlocks = b
	case OptMmapSize:
		n, ok := val.(int)
		if !ok {
			return newErr(KindOptBadVal, "SetOpt", nil)
		}
		db.opts.MmapSize = n
	case OptMaxMapSize:
		n, ok := val.(int)
		if !ok {
			return newErr(KindOptBadVal, "SetOpt", nil)
		}
		db.opts.MaxMapSize = n
	case OptNoLock, OptNoMMap, OptCloseOnExec:
		// Fixed at Open time (locking/mmap/fd flags can't be toggled on a
		// live descriptor without reopening); accepted only as a no-op
		// matching the value already in effect.
		b, ok := val.(bool)
		if ok && b == db.optFlagValue(opt) {
			return nil
		}
		return newErr(KindOptAlreadySet, "SetOpt", nil)
	case OptDbName, OptFlags:
		return newErr(KindOptBadVal, "SetOpt", nil) // read-only
	default:
		return newErr(KindOptBadVal, "SetOpt", nil)
	}

	return nil
}

func (db *DB) optFlagValue(opt Opt) bool {
	switch opt {
	case OptNoLock:
		return db.opts.NoLock
	case OptNoMMap:
		return db.opts.NoMMap
	case OptCloseOnExec:
		return db.opts.CloseOnExec
	default:
		return false
	}
}

// GetOpt reads a tunable's current value.
func (db *DB) GetOpt(opt Opt) (any, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	switch opt {
	case OptCacheSize:
		return db.opts.CacheSize, nil
	case OptSyncMode:
		return db.opts.SyncMode, nil
	case OptCentralFree:
		return db.opts.CentralFree, nil
	case OptCoalesceBlocks:
		return db.opts.CoalesceBlocks, nil
	case OptMmapSize:
		return db.opts.MmapSize, nil
	case OptMaxMapSize:
		return db.opts.MaxMapSize, nil
	case OptNoLock:
		return db.opts.NoLock, nil
	case OptNoMMap:
		return db.opts.NoMMap, nil
	case OptCloseOnExec:
		return db.opts.CloseOnExec, nil
	case OptDbName:
		return db.path, nil
	case OptFlags:
		return db.mode, nil
	default:
		return nil, newErr(KindOptBadVal, "GetOpt", nil)
	}
}
