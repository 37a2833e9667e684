package extdb

import (
	"bytes"

	"github.com/calvinalkan/extdb/pkg/fs"
)

// ToExtendedFormat upgrades the header in place to the numsync-carrying
// extended format (§6). Because this implementation always reserves the
// extended fields' space in the fixed header region (see format.go), the
// master avail's capacity is unaffected by the upgrade - the "spill
// entries that no longer fit" step §6 describes for a shrinking master
// avail is a structural no-op here, called anyway so the spill path stays
// exercised and documented. See DESIGN.md.
func (db *DB) ToExtendedFormat() error {
	if err := db.checkWritable("ToExtendedFormat"); err != nil {
		return err
	}
	if db.header.extended() {
		return nil
	}

	db.header.Magic = magicNumSync
	db.header.Version = 1
	db.header.NumSync = 0

	db.spillMasterAvailOverflow()
	db.headerDirty = true

	return db.rewriteHeaderAtomically()
}

// ToStandardFormat downgrades the header in place to the standard format,
// dropping version/numsync (they remain reserved-but-unused on disk until
// the next upgrade).
func (db *DB) ToStandardFormat() error {
	if err := db.checkWritable("ToStandardFormat"); err != nil {
		return err
	}
	if !db.header.extended() {
		return nil
	}

	db.header.Magic = magicStd
	db.headerDirty = true

	return db.rewriteHeaderAtomically()
}

// spillMasterAvailOverflow moves any master avail entries beyond the
// (format-invariant, in this implementation) capacity into the current
// bucket's pool. Kept for symmetry with the spec's described upgrade path.
func (db *DB) spillMasterAvailOverflow() {
	cap := uint32(len(db.header.Avail.Table))
	for db.header.Avail.Count > cap && db.curBucket != nil {
		last := db.header.Avail.Count - 1
		db.bucketPutAvail(db.curBucket, db.header.Avail.Table[last])
		db.header.Avail.Count--
	}
}

// rewriteHeaderAtomically writes the header block via a temp-file-plus-
// rename, so a concurrent reader never observes a half-written header
// straddling a format change. [fs.Real] takes a fast path through
// github.com/natefinch/atomic ([fs.Real.WriteFileAtomic]); every other
// [fs.FS] (including the [fs.Chaos] and [fs.Crash] test doubles) goes
// through [fs.AtomicWriter], which implements the same temp-file-create,
// write, fsync, rename, fsync-parent-dir sequence generically against the
// [fs.FS] interface instead of the real OS.
func (db *DB) rewriteHeaderAtomically() error {
	buf := encodeHeader(&db.header, db.header.BlockSize)

	if real, ok := db.fsys.(*fs.Real); ok {
		whole, err := real.ReadFile(db.path)
		if err != nil {
			return newErr(KindIO, "rewriteHeaderAtomically", err)
		}
		copy(whole[:len(buf)], buf)

		if err := real.WriteFileAtomic(db.path, whole); err != nil {
			return newErr(KindIO, "rewriteHeaderAtomically", err)
		}
		// WriteFileAtomic renamed a new inode over db.path; db.file's
		// descriptor still refers to the old (now unlinked) inode, so it
		// must be reopened against the new one before any further I/O.
		if err := db.reopenFile(); err != nil {
			return err
		}
		db.headerDirty = false
		return nil
	}

	whole, err := db.fsys.ReadFile(db.path)
	if err != nil {
		return newErr(KindIO, "rewriteHeaderAtomically", err)
	}
	copy(whole[:len(buf)], buf)

	info, err := db.fsys.Stat(db.path)
	if err != nil {
		return newErr(KindIO, "rewriteHeaderAtomically", err)
	}

	writer := fs.NewAtomicWriter(db.fsys)
	if err := writer.Write(db.path, bytes.NewReader(whole), fs.AtomicWriteOptions{
		Perm:    info.Mode().Perm(),
		SyncDir: true,
	}); err != nil {
		return newErr(KindIO, "rewriteHeaderAtomically", err)
	}
	// AtomicWriter renamed a new inode over db.path, same as WriteFileAtomic
	// above; db.file's descriptor must be reopened against it.
	if err := db.reopenFile(); err != nil {
		return err
	}
	db.headerDirty = false
	return nil
}
