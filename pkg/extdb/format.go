package extdb

import (
	"encoding/binary"
)

// On-disk magic words. Stored in host byte order; a mismatch against both
// the expected value and its byte-swapped form means the file isn't one of
// ours, while a match against the byte-swapped form means the file was
// written on a machine of the opposite endianness ([ErrByteSwapped]).
const (
	magicOld     uint32 = 0x4f4c4400 // "old" standard format (no numsync)
	magicStd     uint32 = 0x53544400 // standard format
	magicNumSync uint32 = 0x4e534e00 // extended ("numsync") format
)

// Size/layout constants.
const (
	minBlockSize = 512
	maxBlockSize = 64 * 1024

	// smallKeyPrefix is the number of leading key bytes inlined into each
	// slot for a fast negative match without reading the payload.
	smallKeyPrefix = 4

	// bucketAvail is the capacity of a bucket's embedded avail array.
	bucketAvail = 6

	// emptyHash marks an empty slot. Never produced by hashKey.
	emptyHash int64 = -1

	// offsetSize is the on-disk width of a file offset (directory entries,
	// avail element addresses, next_block, data_pointer).
	offsetSize = 8

	availElemSize = 8 + offsetSize // {av_size uint64, av_adr int64}

	// headerFixedSize is the size of the fixed-width portion of the header
	// block, before the inline master avail block that fills the remainder.
	headerFixedSize = 64

	// masterAvailFixedSize is the size of the master avail block's fixed
	// fields (size, count, next_block) before its av_table.
	masterAvailFixedSize = 4 + 4 + offsetSize

	// slotFixedSize is the fixed portion of a bucket element, before the
	// inlined key prefix: hash_value(8) + key_size(4) + data_size(4) +
	// data_pointer(8).
	slotFixedSize = 8 + 4 + 4 + offsetSize
	slotSize      = slotFixedSize + smallKeyPrefix

	// bucketHeaderSize: bucket_bits(4) + count(4) + avail count(4) + padding(4)
	// + bucketAvail avail elements.
	bucketHeaderFixedSize = 4 + 4 + 4 + 4
	bucketHeaderSize      = bucketHeaderFixedSize + bucketAvail*availElemSize
)

// Header mirrors §3's "Header (first block of file)".
type Header struct {
	Magic       uint32
	BlockSize   uint32
	Dir         int64
	DirSize     uint32
	DirBits     uint32
	BucketSize  uint32
	BucketElems uint32
	NextBlock   int64

	// Extended-format-only fields.
	Version uint32
	NumSync uint32

	Avail availBlock
}

func (h *Header) extended() bool { return h.Magic == magicNumSync }

// bucketLayout computes, for a given block size, how many slots a bucket can
// hold and the resulting bucket_size, satisfying
// bucket_size == sizeof(bucket_header) + bucket_elems*sizeof(bucket_element)
// and block_size >= bucket_size.
func bucketLayout(blockSize uint32) (elems, size uint32) {
	avail := blockSize - bucketHeaderSize
	elems = avail / slotSize
	size = bucketHeaderSize + elems*slotSize
	return elems, size
}

// headerAvailCapacity returns how many avail elements fit in the header
// block's inline master avail block, which shares the block with the fixed
// header fields.
func headerAvailCapacity(blockSize uint32) uint32 {
	return (blockSize - headerFixedSize - masterAvailFixedSize) / availElemSize
}

// overflowAvailCapacity returns how many avail elements fit in a standalone
// overflow avail block, which (unlike the header's inline block) has the
// whole block available for its table.
func overflowAvailCapacity(blockSize uint32) uint32 {
	return (blockSize - masterAvailFixedSize) / availElemSize
}

// availElem is {av_size, av_adr}: a descriptor of a free region in the file.
type availElem struct {
	Size uint64
	Adr  int64
}

// availBlock is the master avail structure: either the header's inline
// block or a standalone overflow block chained via NextBlock.
type availBlock struct {
	Size      uint32 // capacity (len of Table)
	Count     uint32 // entries in use, 0..Size
	NextBlock int64  // chain to a further overflow block, 0 = none
	Table     []availElem
}

// encodeHeader serializes h into a blockSize-byte buffer: fixed header
// fields followed by the inline master avail block filling the remainder.
func encodeHeader(h *Header, blockSize uint32) []byte {
	buf := make([]byte, blockSize)
	bo := binary.NativeEndian

	bo.PutUint32(buf[0:], h.Magic)
	bo.PutUint32(buf[4:], h.BlockSize)
	bo.PutUint64(buf[8:], uint64(h.Dir))
	bo.PutUint32(buf[16:], h.DirSize)
	bo.PutUint32(buf[20:], h.DirBits)
	bo.PutUint32(buf[24:], h.BucketSize)
	bo.PutUint32(buf[28:], h.BucketElems)
	bo.PutUint64(buf[32:], uint64(h.NextBlock))
	bo.PutUint32(buf[40:], h.Version)
	bo.PutUint32(buf[44:], h.NumSync)
	// bytes 48..64 reserved for future fields, left zero.

	encodeAvailBlock(buf[headerFixedSize:], &h.Avail)

	return buf
}

func decodeHeader(buf []byte) Header {
	bo := binary.NativeEndian

	var h Header
	h.Magic = bo.Uint32(buf[0:])
	h.BlockSize = bo.Uint32(buf[4:])
	h.Dir = int64(bo.Uint64(buf[8:]))
	h.DirSize = bo.Uint32(buf[16:])
	h.DirBits = bo.Uint32(buf[20:])
	h.BucketSize = bo.Uint32(buf[24:])
	h.BucketElems = bo.Uint32(buf[28:])
	h.NextBlock = int64(bo.Uint64(buf[32:]))
	h.Version = bo.Uint32(buf[40:])
	h.NumSync = bo.Uint32(buf[44:])

	h.Avail = decodeAvailBlock(buf[headerFixedSize:], headerAvailCapacity(h.BlockSize))

	return h
}

func encodeAvailBlock(buf []byte, a *availBlock) {
	bo := binary.NativeEndian

	bo.PutUint32(buf[0:], a.Size)
	bo.PutUint32(buf[4:], a.Count)
	bo.PutUint64(buf[8:], uint64(a.NextBlock))

	off := masterAvailFixedSize
	for i := range a.Table {
		bo.PutUint64(buf[off:], a.Table[i].Size)
		bo.PutUint64(buf[off+8:], uint64(a.Table[i].Adr))
		off += availElemSize
	}
}

func decodeAvailBlock(buf []byte, tableLen uint32) availBlock {
	bo := binary.NativeEndian

	var a availBlock
	a.Size = bo.Uint32(buf[0:])
	a.Count = bo.Uint32(buf[4:])
	a.NextBlock = int64(bo.Uint64(buf[8:]))

	a.Table = make([]availElem, tableLen)
	off := masterAvailFixedSize
	for i := range a.Table {
		a.Table[i].Size = bo.Uint64(buf[off:])
		a.Table[i].Adr = int64(bo.Uint64(buf[off+8:]))
		off += availElemSize
	}

	return a
}

// slot is the in-memory form of a bucket_element.
type slot struct {
	HashValue   int64 // -1 (emptyHash) marks an empty slot
	KeySize     uint32
	DataSize    uint32
	DataPointer int64
	KeyPrefix   [smallKeyPrefix]byte
}

func (s *slot) empty() bool { return s.HashValue == emptyHash }

// bucket is the in-memory form of a hash bucket: header plus its slot table
// and per-bucket avail array.
type bucket struct {
	Adr         int64 // file offset this bucket occupies (cache key)
	BucketBits  uint32
	Count       uint32
	Avail       []availElem // up to bucketAvail entries, sorted ascending by Size
	Slots       []slot
	BucketElems uint32
}

func newBucket(bucketBits, elems uint32) *bucket {
	s := make([]slot, elems)
	for i := range s {
		s[i].HashValue = emptyHash
	}
	return &bucket{
		BucketBits:  bucketBits,
		BucketElems: elems,
		Slots:       s,
	}
}

func encodeBucket(b *bucket, size uint32) []byte {
	bo := binary.NativeEndian
	buf := make([]byte, size)

	bo.PutUint32(buf[0:], b.BucketBits)
	bo.PutUint32(buf[4:], b.Count)
	bo.PutUint32(buf[8:], uint32(len(b.Avail)))
	// buf[12:16] reserved/padding

	off := bucketHeaderFixedSize
	for i := 0; i < bucketAvail; i++ {
		if i < len(b.Avail) {
			bo.PutUint64(buf[off:], b.Avail[i].Size)
			bo.PutUint64(buf[off+8:], uint64(b.Avail[i].Adr))
		}
		off += availElemSize
	}

	off = bucketHeaderSize
	for i := range b.Slots {
		s := &b.Slots[i]
		bo.PutUint64(buf[off:], uint64(s.HashValue))
		bo.PutUint32(buf[off+8:], s.KeySize)
		bo.PutUint32(buf[off+12:], s.DataSize)
		bo.PutUint64(buf[off+16:], uint64(s.DataPointer))
		copy(buf[off+24:off+24+smallKeyPrefix], s.KeyPrefix[:])
		off += slotSize
	}

	return buf
}

func decodeBucket(buf []byte, elems uint32) *bucket {
	bo := binary.NativeEndian
	b := &bucket{BucketElems: elems}

	b.BucketBits = bo.Uint32(buf[0:])
	b.Count = bo.Uint32(buf[4:])
	availCount := bo.Uint32(buf[8:])

	off := bucketHeaderFixedSize
	avail := make([]availElem, 0, availCount)
	for i := uint32(0); i < availCount && i < bucketAvail; i++ {
		avail = append(avail, availElem{
			Size: bo.Uint64(buf[off:]),
			Adr:  int64(bo.Uint64(buf[off+8:])),
		})
		off += availElemSize
	}
	b.Avail = avail

	b.Slots = make([]slot, elems)
	off = bucketHeaderSize
	for i := uint32(0); i < elems; i++ {
		s := &b.Slots[i]
		s.HashValue = int64(bo.Uint64(buf[off:]))
		s.KeySize = bo.Uint32(buf[off+8:])
		s.DataSize = bo.Uint32(buf[off+12:])
		s.DataPointer = int64(bo.Uint64(buf[off+16:]))
		copy(s.KeyPrefix[:], buf[off+24:off+24+smallKeyPrefix])
		off += slotSize
	}

	return b
}

// encodeDirectory/decodeDirectory serialize the directory array of file
// offsets.
func encodeDirectory(entries []int64) []byte {
	bo := binary.NativeEndian
	buf := make([]byte, len(entries)*offsetSize)
	for i, e := range entries {
		bo.PutUint64(buf[i*offsetSize:], uint64(e))
	}
	return buf
}

func decodeDirectory(buf []byte) []int64 {
	bo := binary.NativeEndian
	n := len(buf) / offsetSize
	entries := make([]int64, n)
	for i := 0; i < n; i++ {
		entries[i] = int64(bo.Uint64(buf[i*offsetSize:]))
	}
	return entries
}

// detectByteSwap reports whether raw (the file's magic word) matches a known
// magic value only after reversing its byte order - i.e. the file was
// written on a machine of the opposite endianness.
func detectByteSwap(raw uint32) bool {
	swapped := bswap32(raw)
	return swapped == magicOld || swapped == magicStd || swapped == magicNumSync
}

func bswap32(v uint32) uint32 {
	return (v>>24)&0xff | (v>>8)&0xff00 | (v<<8)&0xff0000 | (v<<24)&0xff000000
}

func isKnownMagic(m uint32) bool {
	return m == magicOld || m == magicStd || m == magicNumSync
}
