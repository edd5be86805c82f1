package bitset

import "testing"

func TestSetClearTest(t *testing.T) {
	s := New(10)
	if !s.IsZero() {
		t.Fatal("expected zero set on construction")
	}
	s.Set(3)
	s.Set(9)
	if !s.Test(3) || !s.Test(9) {
		t.Fatal("expected bits 3 and 9 set")
	}
	if s.Test(4) {
		t.Fatal("expected bit 4 clear")
	}
	if s.FindFirst() != 3 {
		t.Fatalf("FindFirst = %d, want 3", s.FindFirst())
	}
	s.Clear(3)
	if s.FindFirst() != 9 {
		t.Fatalf("FindFirst after clear = %d, want 9", s.FindFirst())
	}
	s.ClearAll()
	if !s.IsZero() {
		t.Fatal("expected zero set after ClearAll")
	}
	if s.FindFirst() != -1 {
		t.Fatal("expected FindFirst -1 on empty set")
	}
}

func TestOrInto(t *testing.T) {
	dst := New(4)
	src := New(4)
	dst.Set(0)
	src.Set(1)
	src.Set(2)
	OrInto(dst, src)
	for i := 0; i < 3; i++ {
		if !dst.Test(i) {
			t.Fatalf("expected bit %d set after OrInto", i)
		}
	}
	if dst.Test(3) {
		t.Fatal("expected bit 3 clear after OrInto")
	}
}

func TestMask32Boundary(t *testing.T) {
	var m Mask32
	m.SetBit(31)
	m.SetBit(32) // 33rd missing sequence: out of range, dropped per spec
	if !m.TestBit(31) {
		t.Fatal("expected bit 31 set")
	}
	if m.TestBit(32) {
		t.Fatal("bit 32 should never be representable")
	}
	if m.IsZero() {
		t.Fatal("mask should not be zero")
	}
}
