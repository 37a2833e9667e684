package extdb

import (
	"errors"
	"fmt"
)

// Reorganize copies every live key/value into a fresh database file and
// atomically renames it over the original, per §4.1. This also compacts
// away fragmentation that normal Store/Delete avail reuse leaves behind.
func (db *DB) Reorganize() error {
	if err := db.checkWritable("Reorganize"); err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.reorg-%d", db.path, db.header.NextBlock)

	fresh, err := Open(db.fsys, tmpPath, db.header.BlockSize, NewDb, 0600, WithNoLock())
	if err != nil {
		return newErr(KindIO, "Reorganize", err)
	}

	key, err := db.FirstKey()
	for err == nil {
		value, ferr := db.Fetch(key)
		if ferr != nil {
			_ = fresh.Close()
			_ = db.fsys.Remove(tmpPath)
			return ferr
		}
		if serr := fresh.Store(key, value, Insert); serr != nil {
			_ = fresh.Close()
			_ = db.fsys.Remove(tmpPath)
			return serr
		}
		key, err = db.NextKey(key)
	}
	if !isNotFound(err) {
		_ = fresh.Close()
		_ = db.fsys.Remove(tmpPath)
		return err
	}

	if err := fresh.Sync(); err != nil {
		_ = fresh.Close()
		_ = db.fsys.Remove(tmpPath)
		return err
	}
	if err := fresh.Close(); err != nil {
		_ = db.fsys.Remove(tmpPath)
		return err
	}

	if err := db.file.Close(); err != nil {
		return newErr(KindIO, "Reorganize", err)
	}
	if err := db.fsys.Rename(tmpPath, db.path); err != nil {
		return newErr(KindIO, "Reorganize", err)
	}

	reopened, err := Open(db.fsys, db.path, db.header.BlockSize, reopenModeAfterRebuild(db.mode), 0600, optsToExtOptions(db.opts)...)
	if err != nil {
		return newErr(KindIO, "Reorganize", err)
	}

	*db = *reopened

	return nil
}

func isNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindItemNotFound
}

// reopenModeAfterRebuild translates the handle's original open mode into one
// safe for reopening a file that Reorganize/Recover just rebuilt and renamed
// into place: NewDb would truncate it right back to empty, so it is mapped
// to the nearest writable mode that doesn't disturb an existing file.
func reopenModeAfterRebuild(mode Mode) Mode {
	if mode == NewDb {
		return WrCreate
	}
	return mode
}

func optsToExtOptions(o Options) []ExtOption {
	return []ExtOption{
		WithCacheSize(o.CacheSize),
		WithSyncMode(o.SyncMode),
		WithCentralFree(o.CentralFree),
		WithCoalesceBlocks(o.CoalesceBlocks),
	}
}
