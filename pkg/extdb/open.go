package extdb

import (
	"encoding/binary"
	"os"

	"github.com/calvinalkan/extdb/pkg/fs"
)

// Mode selects how Open treats the underlying file (§4.1).
type Mode int

const (
	// Reader requires the file to exist; disables all mutating operations.
	Reader Mode = iota
	// Writer requires the file to exist and allows mutation.
	Writer
	// WrCreate opens for writing, creating the file if absent.
	WrCreate
	// NewDb truncates an existing file or creates a new one.
	NewDb
)

// Options configures Open. The zero value is a usable default: auto
// cache growth, per-bucket free, no coalescing, locking and the direct
// I/O path enabled.
type Options struct {
	// CacheSize is the fixed bucket-cache capacity in entries. Zero
	// selects auto-grow mode (§4.6).
	CacheSize int

	// SyncMode forces an fsync-equivalent Sync after every mutation
	// instead of only on an explicit Sync call.
	SyncMode bool

	// CentralFree sends freed regions to the master avail pool instead of
	// the current bucket's local pool (§4.3).
	CentralFree bool

	// CoalesceBlocks merges adjacent avail elements on free (§4.3).
	CoalesceBlocks bool

	// NoLock disables the whole-file advisory lock; the caller accepts
	// responsibility for external mutual exclusion.
	NoLock bool

	// NoMMap is accepted for API compatibility with the tunables table in
	// §6 but has no effect: this implementation always uses the direct
	// read/write/seek path described in §4.8, never mmap. See DESIGN.md.
	NoMMap bool

	// CloseOnExec sets close-on-exec on the underlying file descriptor.
	CloseOnExec bool

	// MmapSize/MaxMapSize are accepted for API compatibility and returned
	// verbatim by GetOpt; they have no effect since there is no mmap path.
	MmapSize    int
	MaxMapSize  int
}

// ExtOption overrides a field of Options when passed to Open.
type ExtOption func(*Options)

func WithCacheSize(n int) ExtOption        { return func(o *Options) { o.CacheSize = n } }
func WithSyncMode(b bool) ExtOption        { return func(o *Options) { o.SyncMode = b } }
func WithCentralFree(b bool) ExtOption     { return func(o *Options) { o.CentralFree = b } }
func WithCoalesceBlocks(b bool) ExtOption  { return func(o *Options) { o.CoalesceBlocks = b } }
func WithNoLock() ExtOption                { return func(o *Options) { o.NoLock = true } }
func WithNoMMap() ExtOption                { return func(o *Options) { o.NoMMap = true } }
func WithCloseOnExec() ExtOption           { return func(o *Options) { o.CloseOnExec = true } }
func WithMmapSize(n int) ExtOption         { return func(o *Options) { o.MmapSize = n } }
func WithMaxMapSize(n int) ExtOption       { return func(o *Options) { o.MaxMapSize = n } }

// DB is a handle to an open database file.
//
// A DB must be obtained via [Open]; the zero value is not usable. DB is
// not safe for concurrent use by multiple goroutines: the engine is
// single-threaded and cooperative per §5, matching one process's single
// handle. Cross-process concurrency is serialized by the whole-file
// advisory lock acquired in Open.
type DB struct {
	_ [0]func() // prevent external construction

	fsys fs.FS
	file fs.File
	path string
	mode Mode
	opts Options

	locker *fs.Locker
	lock   *fs.Lock

	header      Header
	headerDirty bool
	directory   []int64
	dirDirty    bool

	cache *bucketCache

	fileSize int64

	curBucket   *bucket
	curDirIndex uint64

	needRecovery bool
	closed       bool

	snapshot *snapshotState
}

// Open opens or creates a database at path, per §4.1. requestedBlockSize
// is clamped to [minBlockSize, maxBlockSize] and rounded up to a multiple
// of minBlockSize; zero selects minBlockSize (standing in for "the
// file-system block size", which this implementation has no portable way
// to query without cgo - see DESIGN.md).
func Open(fsys fs.FS, path string, requestedBlockSize uint32, mode Mode, filemode os.FileMode, opts ...ExtOption) (*DB, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	db := &DB{fsys: fsys, path: path, mode: mode, opts: o}

	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, newErr(KindIO, "Open", err)
	}

	switch mode {
	case Reader:
		if !exists {
			return nil, newErr(KindIO, "Open", os.ErrNotExist)
		}
	case Writer:
		if !exists {
			return nil, newErr(KindIO, "Open", os.ErrNotExist)
		}
	case WrCreate, NewDb:
		// created below if absent, or truncated if NewDb.
	default:
		return nil, newErr(KindBadOpenFlags, "Open", nil)
	}

	flag := os.O_RDONLY
	if mode != Reader {
		flag = os.O_RDWR
	}
	if (mode == WrCreate && !exists) || mode == NewDb {
		flag |= os.O_CREATE
	}
	if mode == NewDb {
		flag |= os.O_TRUNC
	}

	f, err := fsys.OpenFile(path, flag, filemode)
	if err != nil {
		return nil, newErr(KindIO, "Open", err)
	}
	db.file = f

	if !o.NoLock {
		db.locker = fs.NewLocker(fsys)
		var l *fs.Lock
		var lockErr error
		if mode == Reader {
			l, lockErr = db.locker.RLock(path)
		} else {
			l, lockErr = db.locker.Lock(path)
		}
		if lockErr != nil {
			_ = f.Close()
			return nil, newErr(KindCannotLock, "Open", lockErr)
		}
		db.lock = l
	}

	info, err := f.Stat()
	if err != nil {
		db.closeQuiet()
		return nil, newErr(KindIO, "Open", err)
	}
	db.fileSize = info.Size()

	if mode == NewDb || db.fileSize == 0 {
		if err := db.createFresh(requestedBlockSize); err != nil {
			db.closeQuiet()
			return nil, err
		}
		return db, nil
	}

	if err := db.loadExisting(); err != nil {
		db.closeQuiet()
		return nil, err
	}

	return db, nil
}

func clampBlockSize(requested uint32) uint32 {
	if requested == 0 {
		return minBlockSize
	}
	if requested < minBlockSize {
		return minBlockSize
	}
	if requested > maxBlockSize {
		return maxBlockSize
	}
	rounded := ((requested + minBlockSize - 1) / minBlockSize) * minBlockSize
	if rounded > maxBlockSize {
		return maxBlockSize
	}
	return rounded
}

func (db *DB) createFresh(requestedBlockSize uint32) error {
	blockSize := clampBlockSize(requestedBlockSize)
	bucketElems, bucketSize := bucketLayout(blockSize)
	if bucketElems == 0 {
		return newErr(KindBadOpenFlags, "Open", nil)
	}

	db.header = Header{
		Magic:       magicStd,
		BlockSize:   blockSize,
		DirBits:     0,
		DirSize:     offsetSize,
		BucketSize:  bucketSize,
		BucketElems: bucketElems,
		Avail: availBlock{
			Size:  headerAvailCapacity(blockSize),
			Table: make([]availElem, headerAvailCapacity(blockSize)),
		},
	}
	db.header.Dir = int64(blockSize)
	rootAdr := db.header.Dir + int64(db.header.DirSize)
	db.directory = []int64{rootAdr}
	db.header.NextBlock = rootAdr + int64(bucketSize)

	db.fileSize = 0
	if err := db.growFile(db.header.NextBlock); err != nil {
		return err
	}

	root := newBucket(0, bucketElems)
	root.Adr = rootAdr

	db.cache = newBucketCache(db.opts.CacheSize, db.opts.CacheSize <= 0, cacheCeiling(db.header.DirBits))
	if err := db.cache.insert(rootAdr, root, true, db.flushBucket); err != nil {
		return err
	}
	db.curBucket = root
	db.curDirIndex = 0

	db.headerDirty = true
	db.dirDirty = true

	return db.Sync()
}

func (db *DB) loadExisting() error {
	buf := make([]byte, minBlockSize)
	if err := db.fullRead(0, buf); err != nil {
		return err
	}

	rawMagic := rawMagicOf(buf)
	if !isKnownMagic(rawMagic) {
		if detectByteSwap(rawMagic) {
			return newErr(KindByteSwapped, "Open", nil)
		}
		return newErr(KindBadMagic, "Open", nil)
	}

	h, err := db.readHeaderBlock0(buf)
	if err != nil {
		return err
	}
	db.header = h

	dir, err := db.readDirectory()
	if err != nil {
		return err
	}
	db.directory = dir

	db.cache = newBucketCache(db.opts.CacheSize, db.opts.CacheSize <= 0, cacheCeiling(db.header.DirBits))

	if db.mode != Reader {
		db.repairAvailOrderIfNeeded()
	}

	return nil
}

// readHeaderBlock0 decodes the header from a buffer already read for magic
// sniffing, extending it to the real block size first.
func (db *DB) readHeaderBlock0(probe []byte) (Header, error) {
	blockSize := rawBlockSizeOf(probe)
	if blockSize < minBlockSize || blockSize > maxBlockSize {
		return Header{}, newErr(KindBadHeader, "Open", nil)
	}

	db.header.BlockSize = blockSize
	buf := make([]byte, blockSize)
	if err := db.fullRead(0, buf); err != nil {
		return Header{}, err
	}

	h := decodeHeader(buf)
	if !isKnownMagic(h.Magic) {
		return Header{}, newErr(KindBadMagic, "Open", nil)
	}

	return h, nil
}

func rawMagicOf(buf []byte) uint32 {
	return binary.NativeEndian.Uint32(buf[0:4])
}

func rawBlockSizeOf(buf []byte) uint32 {
	return binary.NativeEndian.Uint32(buf[4:8])
}

// repairAvailOrderIfNeeded silently re-sorts the master avail table if an
// older writer left it out of ascending order, per the §9 open question
// resolution: detected and repaired, but only when writable.
func (db *DB) repairAvailOrderIfNeeded() {
	t := db.header.Avail.Table[:db.header.Avail.Count]
	for i := 1; i < len(t); i++ {
		if t[i-1].Size > t[i].Size {
			sortAvailAsc(t)
			db.headerDirty = true
			return
		}
	}
}

func cacheCeiling(dirBits uint32) int {
	if dirBits >= 20 {
		return 1 << 20
	}
	return 1 << dirBits
}

// Close syncs (if opened for writing and not already poisoned), releases
// the lock, and releases all memory. Idempotent.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}

	var syncErr error
	if db.mode != Reader && !db.needRecovery {
		syncErr = db.Sync()
	}

	db.closeQuiet()

	return syncErr
}

func (db *DB) closeQuiet() {
	if db.closed {
		return
	}
	if db.lock != nil {
		_ = db.lock.Close()
	}
	if db.file != nil {
		_ = db.file.Close()
	}
	db.closed = true
}

// reopenFile closes the current descriptor and reopens db.path, used after
// an atomic rename replaces the file's inode out from under an already-open
// descriptor (format upgrade/downgrade's header rewrite).
func (db *DB) reopenFile() error {
	flag := os.O_RDONLY
	if db.mode != Reader {
		flag = os.O_RDWR
	}

	if db.file != nil {
		_ = db.file.Close()
	}

	f, err := db.fsys.OpenFile(db.path, flag, 0)
	if err != nil {
		return newErr(KindIO, "reopenFile", err)
	}
	db.file = f

	info, err := f.Stat()
	if err != nil {
		return newErr(KindIO, "reopenFile", err)
	}
	db.fileSize = info.Size()

	return nil
}

func (db *DB) checkOpen() error {
	if db.closed {
		return newErr(KindClosed, "checkOpen", nil)
	}
	if db.needRecovery {
		return newErr(KindNeedRecovery, "checkOpen", nil)
	}
	return nil
}

func (db *DB) checkWritable(op string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if db.mode == Reader {
		return newErr(KindReaderCannotStore, op, nil)
	}
	return nil
}
