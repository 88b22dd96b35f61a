package ringbuf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateRoundsCapacityToPowerOfTwo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.bin")
	rb, err := Create(path, 3<<20) // 3 MiB -> rounds to 4 MiB
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer rb.Close()

	if rb.Capacity() != 4<<20 {
		t.Errorf("expected capacity 4MiB, got %d", rb.Capacity())
	}
	if rb.WriteHead() != 0 || rb.ReadTail() != 0 {
		t.Error("expected head=tail=0 on creation")
	}
}

func TestCreateEnforcesMinimumSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.bin")
	rb, err := Create(path, 1024)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer rb.Close()

	if rb.Capacity() != 1<<20 {
		t.Errorf("expected floor of 1 MiB, got %d", rb.Capacity())
	}
}

func TestWrapAroundSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.bin")
	rb, err := Create(path, 1<<20) // 1 MiB
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer rb.Close()

	chunk := 512 * 1024
	a := bytes.Repeat([]byte{0xAA}, chunk)
	b := bytes.Repeat([]byte{0xBB}, chunk)
	c := bytes.Repeat([]byte{0xCC}, chunk)

	if err := rb.Write(a); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := rb.Write(b); err != nil {
		t.Fatalf("write b: %v", err)
	}
	if err := rb.Write(c); err != nil {
		t.Fatalf("write c: %v", err)
	}

	snap := rb.ReadSnapshot()
	if len(snap) != 1<<20 {
		t.Fatalf("expected 1MiB snapshot, got %d bytes", len(snap))
	}
	if !bytes.Equal(snap[:chunk], b) {
		t.Error("expected first half of snapshot to be 0xBB")
	}
	if !bytes.Equal(snap[chunk:], c) {
		t.Error("expected second half of snapshot to be 0xCC")
	}
}

func TestWriteLargerThanCapacityFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.bin")
	rb, err := Create(path, 1<<20)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer rb.Close()

	oversized := make([]byte, (1<<20)+1)
	if err := rb.Write(oversized); err == nil {
		t.Error("expected error writing slice larger than capacity")
	}
}

func TestAdvanceTailNeverExceedsHead(t *testing.T) {
	rb, err := CreateAnonymous(1 << 20)
	if err != nil {
		t.Fatalf("CreateAnonymous: %v", err)
	}
	defer rb.Close()

	payload := bytes.Repeat([]byte{0x01}, 100)
	if err := rb.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	rb.AdvanceTail(1_000_000)
	if rb.ReadTail() != rb.WriteHead() {
		t.Errorf("expected tail clamped to head: tail=%d head=%d", rb.ReadTail(), rb.WriteHead())
	}
}

func TestInvariantHeadMinusTailWithinCapacity(t *testing.T) {
	rb, err := CreateAnonymous(1 << 20)
	if err != nil {
		t.Fatalf("CreateAnonymous: %v", err)
	}
	defer rb.Close()

	chunk := make([]byte, 4096)
	for i := 0; i < 1000; i++ {
		if err := rb.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if i%3 == 0 {
			rb.AdvanceTail(2048)
		}
		head := rb.WriteHead()
		tail := rb.ReadTail()
		if head < tail {
			t.Fatalf("write_head (%d) < read_tail (%d)", head, tail)
		}
		if head-tail > rb.Capacity() {
			t.Fatalf("write_head - read_tail (%d) exceeds capacity (%d)", head-tail, rb.Capacity())
		}
	}
}

func TestOpenExistingValidatesMagicAndVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.bin")
	rb, err := Create(path, 1<<20)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := rb.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := rb.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenExisting(path)
	if err != nil {
		t.Fatalf("OpenExisting: %v", err)
	}
	defer reopened.Close()

	if reopened.Capacity() != 1<<20 {
		t.Errorf("expected capacity 1MiB after reopen, got %d", reopened.Capacity())
	}
	snap := reopened.ReadSnapshot()
	if !bytes.HasPrefix(snap, []byte("hello")) {
		t.Errorf("expected snapshot to start with 'hello', got %q", snap)
	}
}

func TestOpenExistingRejectsCorruptMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.bin")
	rb, err := Create(path, 1<<20)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rb.Close()

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopen for corruption: %v", err)
	}
	if _, err := f.WriteAt([]byte("XXXXXXXX"), 0); err != nil {
		t.Fatalf("corrupt magic: %v", err)
	}
	f.Close()

	if _, err := OpenExisting(path); err == nil {
		t.Error("expected error opening buffer with corrupt magic")
	}
}
