// Package extdb implements an embedded, single-writer key/value store
// backed by a single regular file whose on-disk layout is an extensible
// (dynamic) hash table.
//
// extdb is not a general-purpose database: there is no ordered range scan,
// no multi-statement transaction, and no schema. It gives you fetch, store,
// delete, and unordered iteration over byte-string keys and values, with a
// free-space allocator that reclaims deleted space and an optional
// crash-tolerant snapshot protocol for durability beyond a single fsync.
//
// # Basic usage
//
//	db, err := extdb.Open(fs.NewReal(), "data.db", 0, extdb.WrCreate, 0o644)
//	if err != nil {
//	    // handle extdb.ErrBadMagic / extdb.ErrBadHeader by treating the file
//	    // as unusable, or run Recover on it.
//	}
//	defer db.Close()
//
//	err = db.Store([]byte("key"), []byte("value"), extdb.Insert)
//	val, err := db.Fetch([]byte("key"))
//
// # Concurrency
//
// A handle is single-threaded and cooperative: there are no internal
// goroutines and no callback into user code except the optional Recover
// diagnostic. Multiple processes may open the same file; a whole-file
// advisory lock (shared for readers, exclusive for writers) serializes
// them. Multiple goroutines must not share one handle without external
// synchronization.
//
// # Error handling
//
// Every returned error can be inspected with [errors.As] into *[Error] for
// its [Kind], and with [errors.Is] against the sentinel Err* values. A write
// failure or structural corruption found mid-operation poisons the handle:
// it stops accepting mutations and every subsequent call fails with
// [ErrNeedRecovery] until the caller either closes the handle or runs
// [DB.Recover].
package extdb
