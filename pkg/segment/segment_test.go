package segment

import (
	"testing"

	"github.com/infra-structure/RAMCloud/pkg/types"
)

type recordingNotifier struct {
	opened, closed int
	writes         [][]byte
}

func (r *recordingNotifier) OpenSegment(types.LogID, types.SegmentID) { r.opened++ }
func (r *recordingNotifier) WriteSegment(_ types.LogID, _ types.SegmentID, _ uint32, data []byte) {
	r.writes = append(r.writes, append([]byte(nil), data...))
}
func (r *recordingNotifier) CloseSegment(types.LogID, types.SegmentID) { r.closed++ }

func TestAppendAndReadAtRoundTrip(t *testing.T) {
	buf := AllocateAligned(4096)
	n := &recordingNotifier{}
	s := New(1, 1, buf, n)

	p, ok := s.Append(1, []byte("hello world"))
	if !ok {
		t.Fatal("append should have fit")
	}

	got, ok := s.ReadAt(p, len("hello world"))
	if !ok || string(got) != "hello world" {
		t.Fatalf("got %q ok=%v, want %q", got, ok, "hello world")
	}
	if n.opened != 1 {
		t.Fatalf("expected exactly one OpenSegment notification, got %d", n.opened)
	}
	if len(n.writes) != 1 {
		t.Fatalf("expected exactly one WriteSegment notification, got %d", len(n.writes))
	}
}

func TestAppendRefusesWhenFull(t *testing.T) {
	buf := AllocateAligned(64)
	s := New(1, 1, buf, nil)

	if _, ok := s.Append(1, make([]byte, 64)); ok {
		t.Fatal("a payload as large as the whole buffer should never fit once framing overhead is added")
	}
}

func TestFreeIsATallyNotASet(t *testing.T) {
	buf := AllocateAligned(4096)
	s := New(1, 1, buf, nil)

	p, _ := s.Append(1, []byte("abc"))
	s.Free(p)
	s.Free(p)

	if got := s.FreedBytes(); got != 6 {
		t.Fatalf("expected double free to double-count, got %d want 6", got)
	}
	if _, ok := s.ReadAt(p, 3); !ok {
		t.Fatal("freeing an entry must not invalidate reads through its pointer")
	}
}

func TestEntriesExcludesFooter(t *testing.T) {
	buf := AllocateAligned(4096)
	s := New(1, 1, buf, nil)

	if _, ok := s.Append(3, []byte("x")); !ok {
		t.Fatal("append should have fit")
	}
	s.Close()

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Type != 3 || string(entries[0].Payload) != "x" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestReadAtRejectsPointerOutsideSegment(t *testing.T) {
	buf := AllocateAligned(4096)
	s := New(1, 1, buf, nil)
	other := AllocateAligned(4096)
	o := New(1, 2, other, nil)

	p, _ := o.Append(1, []byte("foreign"))
	if _, ok := s.ReadAt(p, 7); ok {
		t.Fatal("a pointer from a different segment's buffer must not resolve")
	}
}

func TestAllocateAlignedProducesAlignedBase(t *testing.T) {
	const size = 4096
	buf := AllocateAligned(size)
	if len(buf) != size {
		t.Fatalf("got len %d, want %d", len(buf), size)
	}
	s := New(1, 1, buf, nil)
	if uintptr(s.GetBaseAddress())%size != 0 {
		t.Fatalf("base address %#x is not %d-aligned", uintptr(s.GetBaseAddress()), size)
	}
}
