package heap

import "testing"

func TestUpdateAndMin(t *testing.T) {
	h := New(4)
	if !h.IsEmpty() {
		t.Fatal("expected empty heap")
	}
	h.UpdateSeq(0, 10)
	h.UpdateSeq(1, 5)
	h.UpdateSeq(2, 20)
	if h.Min() != 5 {
		t.Fatalf("Min() = %d, want 5", h.Min())
	}
	if got := h.UpdateSeq(1, 30); got != 10 {
		t.Fatalf("UpdateSeq raising peer1 to 30: Min() = %d, want 10", got)
	}
}

func TestDelete(t *testing.T) {
	h := New(3)
	h.UpdateSeq(0, 10)
	h.UpdateSeq(1, 5)
	h.UpdateSeq(2, 7)
	if !h.Delete(1) {
		t.Fatal("expected Delete(1) to report true")
	}
	if h.Delete(1) {
		t.Fatal("expected second Delete(1) to report false")
	}
	if h.Min() != 7 {
		t.Fatalf("Min() after delete = %d, want 7", h.Min())
	}
	h.Delete(0)
	h.Delete(2)
	if !h.IsEmpty() {
		t.Fatal("expected heap empty after deleting all peers")
	}
}

func TestManyRandomish(t *testing.T) {
	h := New(8)
	seqs := []uint32{50, 3, 42, 7, 99, 1, 23, 64}
	for i, s := range seqs {
		h.UpdateSeq(i, s)
	}
	if h.Min() != 1 {
		t.Fatalf("Min() = %d, want 1", h.Min())
	}
	h.Delete(5) // removes the seq=1 entry
	if h.Min() != 3 {
		t.Fatalf("Min() after delete = %d, want 3", h.Min())
	}
}
