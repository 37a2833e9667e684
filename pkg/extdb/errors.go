package extdb

import (
	"errors"
	"fmt"
)

// Kind classifies an [Error] into one of the taxonomy buckets a caller
// might want to branch on (retry, rebuild, surface to a user, ...).
//
// Kind deliberately does not distinguish every internal failure mode -
// it mirrors the groupings a caller actually needs, not every code path.
type Kind int

const (
	KindUnknown Kind = iota

	// I/O failures: seek, read, write, truncate, sync, stat, open, close,
	// realpath, reflink clone.
	KindIO

	// Format/compatibility failures.
	KindBadMagic
	KindBadHeader
	KindBadOpenFlags
	KindByteSwapped

	// Structural integrity failures.
	KindBadAvail
	KindBadBucket
	KindBadHashTable
	KindBadDirEntry
	KindBadHashEntry
	KindDirOverflow
	KindBucketCacheCorrupted
	KindMalformedData

	// Semantic, expected-case results.
	KindItemNotFound
	KindCannotReplace

	// Mode violations.
	KindReaderCannotStore
	KindReaderCannotDelete
	KindReaderCannotReorganize
	KindCannotBeReader
	KindCannotBeWriter

	// Resource exhaustion.
	KindMalloc

	// Snapshot arming.
	KindNoDbName
	KindFileOwner
	KindFileMode
	KindSnapshotClone
	KindRealpath

	// Recovery.
	KindNeedRecovery
	KindBackupFailed

	// Configuration.
	KindOptAlreadySet
	KindOptBadVal

	// API contract violation.
	KindUsage

	// Handle state.
	KindCannotLock
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindBadMagic:
		return "bad_magic"
	case KindBadHeader:
		return "bad_header"
	case KindBadOpenFlags:
		return "bad_open_flags"
	case KindByteSwapped:
		return "byte_swapped"
	case KindBadAvail:
		return "bad_avail"
	case KindBadBucket:
		return "bad_bucket"
	case KindBadHashTable:
		return "bad_hash_table"
	case KindBadDirEntry:
		return "bad_dir_entry"
	case KindBadHashEntry:
		return "bad_hash_entry"
	case KindDirOverflow:
		return "dir_overflow"
	case KindBucketCacheCorrupted:
		return "bucket_cache_corrupted"
	case KindMalformedData:
		return "malformed_data"
	case KindItemNotFound:
		return "item_not_found"
	case KindCannotReplace:
		return "cannot_replace"
	case KindReaderCannotStore:
		return "reader_cannot_store"
	case KindReaderCannotDelete:
		return "reader_cannot_delete"
	case KindReaderCannotReorganize:
		return "reader_cannot_reorganize"
	case KindCannotBeReader:
		return "cannot_be_reader"
	case KindCannotBeWriter:
		return "cannot_be_writer"
	case KindMalloc:
		return "malloc"
	case KindNoDbName:
		return "no_db_name"
	case KindFileOwner:
		return "file_owner"
	case KindFileMode:
		return "file_mode"
	case KindSnapshotClone:
		return "snapshot_clone"
	case KindRealpath:
		return "realpath"
	case KindNeedRecovery:
		return "need_recovery"
	case KindBackupFailed:
		return "backup_failed"
	case KindOptAlreadySet:
		return "opt_already_set"
	case KindOptBadVal:
		return "opt_bad_val"
	case KindUsage:
		return "usage"
	case KindCannotLock:
		return "cannot_lock"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error is the uniform error type returned by every public extdb API that
// can fail.
//
// Use [errors.As] to extract it for [Error.Kind] and [Error.Errno] (the last
// system errno observed alongside the failure, when there was one). Use
// [errors.Is] against the sentinel Err* values for a quick classification
// check without importing extdb.Kind.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the operation that failed, e.g. "Store", "split", "readBucket".
	Op string

	// Errno is the last system errno observed alongside this error, if any.
	Errno error

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Op
	if msg == "" {
		msg = e.Kind.String()
	} else {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if e.Errno != nil {
		msg = fmt.Sprintf("%s (errno: %v)", msg, e.Errno)
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is(err, sentinel) to match against the sentinel that
// corresponds to this error's Kind, even when Err wraps something else.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

func newErr(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func newErrno(kind Kind, op string, cause error, errno error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause, Errno: errno}
}

// Sentinel errors, one per [Kind], for errors.Is(err, extdb.ErrXxx) checks.
var (
	ErrIO                     = errors.New("extdb: io error")
	ErrBadMagic               = errors.New("extdb: bad magic")
	ErrBadHeader              = errors.New("extdb: bad header")
	ErrBadOpenFlags           = errors.New("extdb: bad open flags")
	ErrByteSwapped            = errors.New("extdb: byte-swapped database")
	ErrBadAvail               = errors.New("extdb: bad avail table")
	ErrBadBucket              = errors.New("extdb: bad bucket")
	ErrBadHashTable           = errors.New("extdb: bad hash table")
	ErrBadDirEntry            = errors.New("extdb: bad directory entry")
	ErrBadHashEntry           = errors.New("extdb: bad hash entry")
	ErrDirOverflow            = errors.New("extdb: directory would overflow")
	ErrBucketCacheCorrupted   = errors.New("extdb: bucket cache corrupted")
	ErrMalformedData          = errors.New("extdb: malformed data")
	ErrItemNotFound           = errors.New("extdb: item not found")
	ErrCannotReplace          = errors.New("extdb: cannot replace existing item")
	ErrReaderCannotStore      = errors.New("extdb: reader handle cannot store")
	ErrReaderCannotDelete     = errors.New("extdb: reader handle cannot delete")
	ErrReaderCannotReorganize = errors.New("extdb: reader handle cannot reorganize")
	ErrCannotBeReader         = errors.New("extdb: handle cannot be a reader")
	ErrCannotBeWriter         = errors.New("extdb: handle cannot be a writer")
	ErrMalloc                 = errors.New("extdb: allocation failed")
	ErrNoDbName               = errors.New("extdb: no database name")
	ErrFileOwner              = errors.New("extdb: unexpected file owner")
	ErrFileMode               = errors.New("extdb: unexpected file mode")
	ErrSnapshotClone          = errors.New("extdb: snapshot clone failed")
	ErrRealpath               = errors.New("extdb: realpath failed")
	ErrNeedRecovery           = errors.New("extdb: database needs recovery")
	ErrBackupFailed           = errors.New("extdb: backup failed")
	ErrOptAlreadySet          = errors.New("extdb: option already set")
	ErrOptBadVal              = errors.New("extdb: invalid option value")
	ErrUsage                  = errors.New("extdb: invalid usage")
	ErrCannotLock             = errors.New("extdb: cannot acquire file lock")
	ErrClosed                 = errors.New("extdb: handle is closed")
)

var kindSentinels = map[Kind]error{
	KindIO:                     ErrIO,
	KindBadMagic:               ErrBadMagic,
	KindBadHeader:              ErrBadHeader,
	KindBadOpenFlags:           ErrBadOpenFlags,
	KindByteSwapped:            ErrByteSwapped,
	KindBadAvail:               ErrBadAvail,
	KindBadBucket:              ErrBadBucket,
	KindBadHashTable:           ErrBadHashTable,
	KindBadDirEntry:            ErrBadDirEntry,
	KindBadHashEntry:           ErrBadHashEntry,
	KindDirOverflow:            ErrDirOverflow,
	KindBucketCacheCorrupted:   ErrBucketCacheCorrupted,
	KindMalformedData:          ErrMalformedData,
	KindItemNotFound:           ErrItemNotFound,
	KindCannotReplace:          ErrCannotReplace,
	KindReaderCannotStore:      ErrReaderCannotStore,
	KindReaderCannotDelete:     ErrReaderCannotDelete,
	KindReaderCannotReorganize: ErrReaderCannotReorganize,
	KindCannotBeReader:         ErrCannotBeReader,
	KindCannotBeWriter:         ErrCannotBeWriter,
	KindMalloc:                 ErrMalloc,
	KindNoDbName:               ErrNoDbName,
	KindFileOwner:              ErrFileOwner,
	KindFileMode:               ErrFileMode,
	KindSnapshotClone:          ErrSnapshotClone,
	KindRealpath:               ErrRealpath,
	KindNeedRecovery:           ErrNeedRecovery,
	KindBackupFailed:           ErrBackupFailed,
	KindOptAlreadySet:          ErrOptAlreadySet,
	KindOptBadVal:              ErrOptBadVal,
	KindUsage:                  ErrUsage,
	KindCannotLock:             ErrCannotLock,
	KindClosed:                 ErrClosed,
}

// Internal causes wrapped by *Error values of KindBadAvail, raised while
// validating an avail block loaded from disk (§4.3).
var (
	errAvailBelowBlockSize = errors.New("avail element address below block_size")
	errAvailOverflow       = errors.New("avail element size overflows its address")
	errAvailPastNextBlock  = errors.New("avail element extends past next_block")
	errAvailCycle          = errors.New("avail element address repeated in table")
)

// errNegativeHashValue is wrapped by KindBadBucket when split encounters a
// slot whose hash_value is negative but not the emptyHash sentinel (§4.5).
var errNegativeHashValue = errors.New("slot has negative hash_value other than empty sentinel")
