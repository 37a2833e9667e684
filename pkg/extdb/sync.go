package extdb

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/extdb/pkg/fs"
)

// Sync flushes the contiguous dirty bucket prefix, the directory (if
// changed), and the header (if changed), then fsyncs the file, per §4.9. If
// the extended header format is in use, numsync is incremented before the
// header is written. When a snapshot pair is armed, a successful Sync
// drives one step of the crash-tolerant snapshot protocol.
func (db *DB) Sync() error {
	if err := db.checkWritable("Sync"); err != nil {
		return err
	}

	if err := db.cache.flushDirtyPrefix(db.flushBucket); err != nil {
		return err
	}

	if db.dirDirty {
		if err := db.writeDirectory(); err != nil {
			return err
		}
		db.dirDirty = false
	}

	if db.headerDirty {
		if err := db.growFile(db.header.NextBlock); err != nil {
			return err
		}
		if db.header.extended() {
			db.header.NumSync++
		}
		if err := db.writeHeaderBlock(); err != nil {
			return err
		}
		db.headerDirty = false
	}

	if err := db.file.Sync(); err != nil {
		db.poison()
		return newErrno(KindIO, "Sync", err, db.lastErrno(err))
	}

	if db.snapshot != nil {
		return db.snapshotStep()
	}

	return nil
}

// snapshotState holds the two alternating snapshot files armed by
// SetFailureAtomic, per §4.9.
type snapshotState struct {
	evenPath string
	oddPath  string
	current  int // 0 = even is current, 1 = odd is current
}

func (s *snapshotState) currentPath() string {
	if s.current == 0 {
		return s.evenPath
	}
	return s.oddPath
}

func (s *snapshotState) previousPath() string {
	if s.current == 0 {
		return s.oddPath
	}
	return s.evenPath
}

// SetFailureAtomic arms the crash-tolerant snapshot protocol with two
// filenames on the same reflink-capable filesystem as the database. Both
// must not already exist. Re-arming replaces the prior pair without
// affecting database content (testable property 9).
func (db *DB) SetFailureAtomic(even, odd string) error {
	if err := db.checkWritable("SetFailureAtomic"); err != nil {
		return err
	}
	if even == "" || odd == "" || even == odd {
		return newErr(KindUsage, "SetFailureAtomic", nil)
	}

	for _, p := range []string{even, odd} {
		exists, err := db.fsys.Exists(p)
		if err != nil {
			return newErr(KindIO, "SetFailureAtomic", err)
		}
		if exists {
			return newErr(KindUsage, "SetFailureAtomic", fmt.Errorf("%s already exists", p))
		}
		if err := db.realpathSameFS(p); err != nil {
			return err
		}
	}

	for _, p := range []string{db.path, even, odd} {
		if err := fs.FsyncDir(db.fsys, p); err != nil {
			return newErr(KindIO, "SetFailureAtomic", err)
		}
	}

	for _, p := range []string{even, odd} {
		f, err := db.fsys.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0200)
		if err != nil {
			return newErr(KindIO, "SetFailureAtomic", err)
		}
		_ = f.Close()
	}

	db.snapshot = &snapshotState{evenPath: even, oddPath: odd, current: 0}

	return nil
}

// realpathSameFS checks that p's containing directory lives on the same
// device as the database file.
func (db *DB) realpathSameFS(p string) error {
	dbInfo, err := db.fsys.Stat(db.path)
	if err != nil {
		return newErr(KindRealpath, "SetFailureAtomic", err)
	}
	dirInfo, err := db.fsys.Stat(filepath.Dir(p))
	if err != nil {
		return newErr(KindRealpath, "SetFailureAtomic", err)
	}
	if !sameDevice(dbInfo, dirInfo) {
		return newErr(KindRealpath, "SetFailureAtomic", fmt.Errorf("%s not on the same filesystem as %s", p, db.path))
	}
	return nil
}

func sameDevice(a, b os.FileInfo) bool {
	as, aok := a.Sys().(*syscall.Stat_t)
	bs, bok := b.Sys().(*syscall.Stat_t)
	if !aok || !bok {
		return true // best-effort: can't compare, don't block on it
	}
	return as.Dev == bs.Dev
}

// snapshotStep executes one successful Sync's worth of the protocol
// (§4.9 steps 1-5): demote-then-clone-then-promote the current slot,
// demote the previous slot, then toggle.
func (db *DB) snapshotStep() error {
	s := db.snapshot
	cur := s.currentPath()
	prev := s.previousPath()

	if err := db.chmodFsync(cur, 0200); err != nil {
		return err
	}

	if err := db.cloneInto(cur); err != nil {
		return newErr(KindSnapshotClone, "Sync", err)
	}
	if err := db.fsyncPath(cur); err != nil {
		return newErr(KindIO, "Sync", err)
	}

	if err := db.chmodFsync(cur, 0400); err != nil {
		return err
	}

	if err := db.chmodFsync(prev, 0200); err != nil {
		return err
	}

	s.current = 1 - s.current

	return nil
}

func (db *DB) chmodFsync(path string, mode os.FileMode) error {
	f, err := db.fsys.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return newErr(KindFileMode, "Sync", err)
	}
	defer func() { _ = f.Close() }()

	if err := f.Chmod(mode); err != nil {
		return newErr(KindFileMode, "Sync", err)
	}
	if err := f.Sync(); err != nil {
		return newErr(KindIO, "Sync", err)
	}
	return nil
}

func (db *DB) fsyncPath(path string) error {
	f, err := db.fsys.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return f.Sync()
}

// cloneInto reflink-clones the database file's current data over dst via
// FICLONE, giving dst the database's content without a byte-for-byte copy.
func (db *DB) cloneInto(dst string) error {
	dstFile, err := db.fsys.OpenFile(dst, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = dstFile.Close() }()

	srcFd := int(db.file.Fd())
	dstFd := int(dstFile.Fd())

	return unix.IoctlFileClone(dstFd, srcFd)
}

// SnapshotStatus reports the post-crash selection outcome of §4.9.
type SnapshotStatus int

const (
	SnapshotBad SnapshotStatus = iota
	SnapshotSame
	SnapshotSuspicious
	SnapshotOK
)

// SelectSnapshot implements the post-crash selection procedure: read both
// snapshot files' modes and (if present) numsync, and decide which one
// reflects the most recent durably-completed Sync.
func SelectSnapshot(fsys fs.FS, even, odd string, extended bool) (path string, status SnapshotStatus, err error) {
	evenReadable, evenInfo, everr := readableMode0400(fsys, even)
	oddReadable, oddInfo, oerr := readableMode0400(fsys, odd)
	if everr != nil && oerr != nil {
		return "", SnapshotBad, fmt.Errorf("reading snapshot metadata: %v / %v", everr, oerr)
	}

	switch {
	case evenReadable && !oddReadable:
		return even, SnapshotOK, nil
	case oddReadable && !evenReadable:
		return odd, SnapshotOK, nil
	case !evenReadable && !oddReadable:
		return "", SnapshotBad, nil
	}

	if extended {
		evenSync, e1 := readNumSync(fsys, even)
		oddSync, e2 := readNumSync(fsys, odd)
		if e1 == nil && e2 == nil {
			if numSyncAhead(evenSync, oddSync) {
				return even, SnapshotOK, nil
			}
			if numSyncAhead(oddSync, evenSync) {
				return odd, SnapshotOK, nil
			}
		}
	}

	if evenInfo.ModTime().After(oddInfo.ModTime()) {
		return even, SnapshotSuspicious, nil
	}
	if oddInfo.ModTime().After(evenInfo.ModTime()) {
		return odd, SnapshotSuspicious, nil
	}

	return even, SnapshotSame, nil
}

// numSyncAhead reports whether a's numsync is exactly one greater than b's,
// accounting for 32-bit wraparound.
func numSyncAhead(a, b uint32) bool {
	return a-b == 1
}

func readNumSync(fsys fs.FS, path string) (uint32, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, minBlockSize)
	if _, err := f.Read(buf); err != nil {
		return 0, err
	}
	h := decodeHeader(buf)
	return h.NumSync, nil
}

func readableMode0400(fsys fs.FS, path string) (bool, os.FileInfo, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return false, nil, err
	}
	return info.Mode().Perm()&0400 != 0, info, nil
}
