package icgcb

import "testing"

// TestAllocFreeGCCompaction walks through the AGAIN/compaction property from
// spec.md §8: a request that the contiguous tail cannot satisfy but total
// free space can must return AGAIN, and GC must then make it succeed.
func TestAllocFreeGCCompaction(t *testing.T) {
	// 3 live blocks of payload 100 (header 4 + 100 = 104 bytes each) plus
	// one trailing sentinel header leaves no slack: cap = 3*104 + 4.
	buf := make([]byte, 3*104+4)
	a := New(buf, 1)

	if got := a.Alloc(100, 1); got != OK {
		t.Fatalf("alloc A: got %v, want OK", got)
	}
	if got := a.Alloc(100, 2); got != OK {
		t.Fatalf("alloc B: got %v, want OK", got)
	}
	if got := a.Alloc(100, 3); got != OK {
		t.Fatalf("alloc C: got %v, want OK", got)
	}
	if a.FreeSpace() != 0 {
		t.Fatalf("FreeSpace() = %d, want 0 after filling arena", a.FreeSpace())
	}

	a.Free(2) // free B; 104 bytes now free, but buried between A and C

	if got := a.Alloc(90, 4); got != Again {
		t.Fatalf("alloc D (90) after freeing B: got %v, want AGAIN (tail is empty, only B's hole has room)", got)
	}

	var moved []Ref
	a.GC(func(ref Ref, newData []byte, arg any) {
		moved = append(moved, ref)
	}, nil)

	if len(moved) != 1 {
		t.Fatalf("GC moved %d blocks, want 1 (C; A already sits at the base)", len(moved))
	}

	if got := a.Alloc(90, 4); got != OK {
		t.Fatalf("alloc D (90) after GC: got %v, want OK", got)
	}

	size, err := a.GetSize(4)
	if err != nil {
		t.Fatalf("GetSize(D): %v", err)
	}
	if size != 90 {
		t.Fatalf("GetSize(D) = %d, want 90", size)
	}

	for _, ref := range []Ref{1, 3, 4} {
		data, err := a.Resolve(ref)
		if err != nil {
			t.Fatalf("Resolve(%d): %v", ref, err)
		}
		if len(data) == 0 {
			t.Fatalf("Resolve(%d) returned empty slice", ref)
		}
	}
}

func TestAllocNoSpace(t *testing.T) {
	buf := make([]byte, 50)
	a := New(buf, 1)
	if got := a.Alloc(100, 1); got != NoSpace {
		t.Fatalf("alloc larger than capacity: got %v, want NOSPACE", got)
	}
}

func TestFreeUnknownRefIsNoop(t *testing.T) {
	buf := make([]byte, 64)
	a := New(buf, 1)
	a.Free(7) // no panic, no-op

	if got := a.Alloc(10, 7); got != OK {
		t.Fatalf("alloc after no-op free of unrelated ref: got %v, want OK", got)
	}
}

func TestResolveUnknownRef(t *testing.T) {
	buf := make([]byte, 64)
	a := New(buf, 1)
	if _, err := a.Resolve(99); err != ErrUnknownRef {
		t.Fatalf("Resolve(unknown): got %v, want ErrUnknownRef", err)
	}
	if _, err := a.GetSize(99); err != ErrUnknownRef {
		t.Fatalf("GetSize(unknown): got %v, want ErrUnknownRef", err)
	}
}

func TestAllocRoundsUpToUnit(t *testing.T) {
	buf := make([]byte, 128)
	a := New(buf, 8)
	if got := a.Alloc(1, 1); got != OK {
		t.Fatalf("alloc: got %v, want OK", got)
	}
	// header(4) + payload(1) = 5, rounded up to unit 8 = 8 bytes consumed.
	if a.FreeSpace() != 128-4-8 {
		t.Fatalf("FreeSpace() = %d, want %d", a.FreeSpace(), 128-4-8)
	}
}
