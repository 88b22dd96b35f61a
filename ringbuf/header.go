package ringbuf

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed, cache-line-padded header size preceding the
// data region of every ring buffer file.
const headerSize = 64

var magicBytes = [8]byte{'D', 'A', 'Q', 'R', 'I', 'N', 'G', 0}

const formatVersion uint32 = 1

// Header offsets within the mapped file, per the on-disk layout:
//
//	offset  size  field
//	     0    8   magic
//	     8    4   version (u32 LE)
//	    12    4   flags   (u32 LE, reserved)
//	    16    8   capacity (u64 LE, power of two)
//	    24    8   write_head (u64 LE, atomic)
//	    32    8   read_tail  (u64 LE, atomic)
//	    40   24   reserved; pad to 64-byte cache line
//	    64  cap   data region
const (
	offMagic      = 0
	offVersion    = 8
	offFlags      = 12
	offCapacity   = 16
	offWriteHead  = 24
	offReadTail   = 32
	offReserved   = 40
	reservedBytes = headerSize - offReserved
)

// writeHeader stamps a fresh header into buf, which must be at least
// headerSize+capacity bytes.
func writeHeader(buf []byte, capacity uint64) {
	copy(buf[offMagic:offMagic+8], magicBytes[:])
	binary.LittleEndian.PutUint32(buf[offVersion:offVersion+4], formatVersion)
	binary.LittleEndian.PutUint32(buf[offFlags:offFlags+4], 0)
	binary.LittleEndian.PutUint64(buf[offCapacity:offCapacity+8], capacity)
	binary.LittleEndian.PutUint64(buf[offWriteHead:offWriteHead+8], 0)
	binary.LittleEndian.PutUint64(buf[offReadTail:offReadTail+8], 0)
	for i := offReserved; i < headerSize; i++ {
		buf[i] = 0
	}
}

// validateHeader checks magic and version on an existing mapping and
// returns the stored capacity.
func validateHeader(buf []byte) (capacity uint64, err error) {
	if len(buf) < headerSize {
		return 0, fmt.Errorf("ringbuf: mapping too small for header (%d bytes)", len(buf))
	}
	if string(buf[offMagic:offMagic+8]) != string(magicBytes[:]) {
		return 0, fmt.Errorf("ringbuf: corrupt: bad magic")
	}
	version := binary.LittleEndian.Uint32(buf[offVersion : offVersion+4])
	if version != formatVersion {
		return 0, fmt.Errorf("ringbuf: version mismatch: file has %d, expected %d", version, formatVersion)
	}
	capacity = binary.LittleEndian.Uint64(buf[offCapacity : offCapacity+8])
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return 0, fmt.Errorf("ringbuf: corrupt: capacity %d is not a power of two", capacity)
	}
	return capacity, nil
}

// nextPowerOfTwo rounds n up to the next power of two, with a floor of
// 1 MiB per the spec's minimum buffer size.
func nextPowerOfTwo(n uint64) uint64 {
	const minSize = 1 << 20
	if n < minSize {
		n = minSize
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}
