package extdb

import (
	"errors"
	"fmt"
	"io"
)

// fullRead reads exactly len(buf) bytes at offset off, retrying on short
// reads. EOF before buf is full is reported as KindIO and poisons the
// handle (need_recovery), per §4.8 "_full_read ... EOF inside a read yields
// FileEof and triggers need_recovery".
func (db *DB) fullRead(off int64, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := db.file.Seek(off+int64(total), io.SeekStart)
		_ = n
		if err != nil {
			db.poison()
			return newErrno(KindIO, "fullRead.seek", err, db.lastErrno(err))
		}

		read, err := db.file.Read(buf[total:])
		if read > 0 {
			total += read
		}
		if err != nil {
			if errors.Is(err, io.EOF) && total < len(buf) {
				db.poison()
				return newErr(KindIO, "fullRead", fmt.Errorf("unexpected EOF at offset %d: %w", off, io.ErrUnexpectedEOF))
			}
			if !errors.Is(err, io.EOF) {
				db.poison()
				return newErrno(KindIO, "fullRead.read", err, db.lastErrno(err))
			}
		}
		if read == 0 && err == nil {
			db.poison()
			return newErr(KindIO, "fullRead", errors.New("read made no progress"))
		}
	}
	return nil
}

// fullWrite writes all of buf at offset off, retrying on short writes.
func (db *DB) fullWrite(off int64, buf []byte) error {
	total := 0
	for total < len(buf) {
		_, err := db.file.Seek(off+int64(total), io.SeekStart)
		if err != nil {
			db.poison()
			return newErrno(KindIO, "fullWrite.seek", err, db.lastErrno(err))
		}

		n, err := db.file.Write(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			db.poison()
			return newErrno(KindIO, "fullWrite.write", err, db.lastErrno(err))
		}
		if n == 0 {
			db.poison()
			return newErr(KindIO, "fullWrite", errors.New("write made no progress"))
		}
	}
	return nil
}

// lastErrno surfaces the last system errno alongside a library error, per
// §7 "the last system errno is retained alongside each library error".
func (db *DB) lastErrno(err error) error {
	return err
}

// poison transitions the handle toward NeedsRecovery: a fatal I/O failure
// or structural corruption was observed mid-operation, so subsequent
// mutations must fail with NeedRecovery until the caller closes or recovers
// the handle (§4.11).
func (db *DB) poison() {
	db.needRecovery = true
}

// growFile extends the file from its current size to newSize with
// zero-filled writes rather than a sparse ftruncate-only hole, so the
// allocator's invariant ("av_adr + av_size <= next_block", with every byte
// below next_block either live data or a tracked avail element) never lets
// stale bytes masquerade as valid structure (§4.8).
func (db *DB) growFile(newSize int64) error {
	if newSize <= db.fileSize {
		return nil
	}

	const chunk = 64 * 1024
	zeros := make([]byte, chunk)

	off := db.fileSize
	for off < newSize {
		n := newSize - off
		if n > chunk {
			n = chunk
		}
		if err := db.fullWrite(off, zeros[:n]); err != nil {
			return err
		}
		off += n
	}

	db.fileSize = newSize
	return nil
}

func (db *DB) readHeaderBlock() (Header, error) {
	buf := make([]byte, db.header.BlockSize)
	if err := db.fullRead(0, buf); err != nil {
		return Header{}, err
	}
	return decodeHeader(buf), nil
}

func (db *DB) writeHeaderBlock() error {
	buf := encodeHeader(&db.header, db.header.BlockSize)
	return db.fullWrite(0, buf)
}

func (db *DB) readDirectory() ([]int64, error) {
	buf := make([]byte, db.header.DirSize)
	if err := db.fullRead(db.header.Dir, buf); err != nil {
		return nil, err
	}
	return decodeDirectory(buf), nil
}

func (db *DB) writeDirectory() error {
	buf := encodeDirectory(db.directory)
	return db.fullWrite(db.header.Dir, buf)
}

func (db *DB) readBucketAt(adr int64) (*bucket, error) {
	buf := make([]byte, db.header.BucketSize)
	if err := db.fullRead(adr, buf); err != nil {
		return nil, err
	}
	b := decodeBucket(buf, db.header.BucketElems)
	b.Adr = adr
	if err := b.validate(db.header.DirBits); err != nil {
		db.poison()
		return nil, err
	}
	return b, nil
}

func (db *DB) writeBucketAt(b *bucket) error {
	buf := encodeBucket(b, db.header.BucketSize)
	return db.fullWrite(b.Adr, buf)
}

func (db *DB) readAvailBlockAt(adr int64) (availBlock, error) {
	buf := make([]byte, db.header.BlockSize)
	if err := db.fullRead(adr, buf); err != nil {
		return availBlock{}, err
	}
	return decodeAvailBlock(buf, overflowAvailCapacity(db.header.BlockSize)), nil
}

func (db *DB) writeAvailBlockAt(adr int64, a *availBlock) error {
	buf := make([]byte, db.header.BlockSize)
	encodeAvailBlock(buf, a)
	return db.fullWrite(adr, buf)
}

func (db *DB) readPayload(adr int64, size uint32) ([]byte, error) {
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	if err := db.fullRead(adr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (db *DB) writePayload(adr int64, key, value []byte) error {
	buf := make([]byte, len(key)+len(value))
	copy(buf, key)
	copy(buf[len(key):], value)
	return db.fullWrite(adr, buf)
}
