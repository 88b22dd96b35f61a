// Package ringbuf implements the memory-mapped circular byte buffer
// used as the high-rate transport between producer drivers and
// snapshot consumers.
package ringbuf

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/easternanemone/daq-core/internal/daqerr"
)

// RingBuffer is a memory-mapped circular byte buffer with a single
// writer and many snapshot readers. Capacity is fixed at creation and
// is always a power of two.
type RingBuffer struct {
	file     *os.File
	data     []byte // full mapping: header + capacity bytes
	capacity uint64
	closed   bool
}

// uint64PtrAt returns a pointer to the uint64 at the given byte offset
// within buf, for use with sync/atomic. buf must outlive the pointer.
//
//go:noinline
func uint64PtrAt(buf []byte, offset int) *uint64 {
	return (*uint64)(unsafe.Pointer(&buf[offset]))
}

// Create creates a new ring buffer file at path with at least the
// requested capacity (rounded up to a power of two, floor 1 MiB), maps
// it, and stamps a fresh header with write_head = read_tail = 0.
func Create(path string, capacityBytes uint64) (*RingBuffer, error) {
	capacity := nextPowerOfTwo(capacityBytes)
	totalSize := int64(headerSize) + int64(capacity)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, daqerr.New("Create", daqerr.CategoryConfiguration, fmt.Sprintf("ringbuf: open %s: %v", path, err))
	}
	if err := f.Truncate(totalSize); err != nil {
		f.Close()
		return nil, daqerr.New("Create", daqerr.CategoryConfiguration, fmt.Sprintf("ringbuf: truncate %s: %v", path, err))
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, daqerr.New("Create", daqerr.CategoryConfiguration, fmt.Sprintf("ringbuf: mmap %s: %v", path, err))
	}

	writeHeader(data, capacity)

	return &RingBuffer{file: f, data: data, capacity: capacity}, nil
}

// CreateAnonymous behaves like Create but backs the mapping with an
// anonymous, non-file-backed region — used for in-process transport
// where no on-disk artefact is wanted.
func CreateAnonymous(capacityBytes uint64) (*RingBuffer, error) {
	capacity := nextPowerOfTwo(capacityBytes)
	totalSize := int(headerSize + capacity)

	data, err := unix.Mmap(-1, 0, totalSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, daqerr.New("Create", daqerr.CategoryConfiguration, fmt.Sprintf("ringbuf: anonymous mmap: %v", err))
	}
	writeHeader(data, capacity)
	return &RingBuffer{data: data, capacity: capacity}, nil
}

// OpenExisting attaches a reader to a ring buffer file previously
// produced by Create, validating its magic and version.
func OpenExisting(path string) (*RingBuffer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, daqerr.New("OpenExisting", daqerr.CategoryConfiguration, fmt.Sprintf("ringbuf: open %s: %v", path, err))
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, daqerr.New("OpenExisting", daqerr.CategoryConfiguration, fmt.Sprintf("ringbuf: stat %s: %v", path, err))
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, daqerr.New("OpenExisting", daqerr.CategoryConfiguration, fmt.Sprintf("ringbuf: mmap %s: %v", path, err))
	}

	capacity, err := validateHeader(data)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, daqerr.New("OpenExisting", daqerr.CategoryConfiguration, err.Error())
	}

	return &RingBuffer{file: f, data: data, capacity: capacity}, nil
}

// Capacity returns the buffer's fixed capacity in bytes.
func (r *RingBuffer) Capacity() uint64 { return r.capacity }

// WriteHead returns the current write-head counter, loaded with
// acquire ordering semantics (sync/atomic on amd64/arm64 gives
// sequential consistency, which is a strict superset of acquire).
func (r *RingBuffer) WriteHead() uint64 {
	return atomic.LoadUint64(uint64PtrAt(r.data, offWriteHead))
}

// ReadTail returns the current read-tail counter.
func (r *RingBuffer) ReadTail() uint64 {
	return atomic.LoadUint64(uint64PtrAt(r.data, offReadTail))
}

// Write copies p into the ring, advancing write_head. Writes that
// would lap the unread region are accepted and silently overwrite
// unread data, moving read_tail forward so that write_head - read_tail
// never exceeds capacity — the contract is snapshot-at-a-point, not
// loss-free.
// It returns a resource-exhaustion error only if p is larger than the
// buffer's capacity.
func (r *RingBuffer) Write(p []byte) error {
	if uint64(len(p)) > r.capacity {
		return daqerr.New("write", daqerr.CategoryResourceExhaustion,
			fmt.Sprintf("ringbuf: write of %d bytes exceeds capacity %d", len(p), r.capacity))
	}
	if len(p) == 0 {
		return nil
	}

	head := atomic.LoadUint64(uint64PtrAt(r.data, offWriteHead))
	newHead := head + uint64(len(p))
	for {
		tail := atomic.LoadUint64(uint64PtrAt(r.data, offReadTail))
		if newHead-tail <= r.capacity ||
			atomic.CompareAndSwapUint64(uint64PtrAt(r.data, offReadTail), tail, newHead-r.capacity) {
			break
		}
	}
	region := r.data[headerSize:]

	start := head % r.capacity
	end := start + uint64(len(p))
	if end <= r.capacity {
		copy(region[start:end], p)
	} else {
		firstLen := r.capacity - start
		copy(region[start:], p[:firstLen])
		copy(region[:end-r.capacity], p[firstLen:])
	}

	atomic.StoreUint64(uint64PtrAt(r.data, offWriteHead), newHead)
	return nil
}

// ReadSnapshot returns a freshly allocated copy of the currently valid
// unread region, [read_tail, write_head), clamped to at most capacity
// bytes (older data has already been overwritten by lapping writers).
// It does not advance read_tail.
func (r *RingBuffer) ReadSnapshot() []byte {
	head := atomic.LoadUint64(uint64PtrAt(r.data, offWriteHead))
	tail := atomic.LoadUint64(uint64PtrAt(r.data, offReadTail))

	avail := head - tail
	if avail > r.capacity {
		avail = r.capacity
		tail = head - r.capacity
	}
	if avail == 0 {
		return nil
	}

	region := r.data[headerSize:]
	out := make([]byte, avail)
	start := tail % r.capacity
	end := start + avail
	if end <= r.capacity {
		copy(out, region[start:end])
	} else {
		firstLen := r.capacity - start
		copy(out[:firstLen], region[start:])
		copy(out[firstLen:], region[:end-r.capacity])
	}
	return out
}

// AdvanceTail advances read_tail by n bytes, never past the current
// write_head.
func (r *RingBuffer) AdvanceTail(n uint64) {
	for {
		tail := atomic.LoadUint64(uint64PtrAt(r.data, offReadTail))
		head := atomic.LoadUint64(uint64PtrAt(r.data, offWriteHead))
		next := tail + n
		if next > head {
			next = head
		}
		if atomic.CompareAndSwapUint64(uint64PtrAt(r.data, offReadTail), tail, next) {
			return
		}
	}
}

// Close unmaps the buffer and closes its backing file, if any.
func (r *RingBuffer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := unix.Munmap(r.data); err != nil {
		return daqerr.Wrap("Close", err)
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
