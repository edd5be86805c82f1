package framing

import (
	"testing"
	"time"
)

func TestFeedAccumulatesAndAdvanceConsumes(t *testing.T) {
	now := time.Unix(0, 0)
	r := New(16, 300*time.Millisecond)

	r.Feed(now, []byte{1, 2, 3})
	r.Feed(now, []byte{4, 5})
	if string(r.Bytes()) != string([]byte{1, 2, 3, 4, 5}) {
		t.Fatalf("Bytes() = %v", r.Bytes())
	}

	r.Advance(now, 3)
	if string(r.Bytes()) != string([]byte{4, 5}) {
		t.Fatalf("Bytes() after Advance = %v", r.Bytes())
	}
}

func TestIdleResetDiscardsStalledBuffer(t *testing.T) {
	now := time.Unix(0, 0)
	r := New(16, 300*time.Millisecond)
	r.Feed(now, []byte{1, 2, 3})

	later := now.Add(301 * time.Millisecond)
	if !r.CheckIdle(later) {
		t.Fatal("expected idle reset to fire")
	}
	if len(r.Bytes()) != 0 {
		t.Fatal("expected buffer cleared after idle reset")
	}
}

func TestNoIdleResetBeforeDeadline(t *testing.T) {
	now := time.Unix(0, 0)
	r := New(16, 300*time.Millisecond)
	r.Feed(now, []byte{1, 2, 3})

	soon := now.Add(100 * time.Millisecond)
	if r.CheckIdle(soon) {
		t.Fatal("did not expect idle reset before deadline")
	}
	if len(r.Bytes()) != 3 {
		t.Fatal("buffer should be untouched")
	}
}

func TestFeedDiscardsOnOverflow(t *testing.T) {
	now := time.Unix(0, 0)
	r := New(4, 300*time.Millisecond)
	r.Feed(now, []byte{1, 2, 3})
	r.Feed(now, []byte{4, 5, 6}) // 3+3=6 > cap 4 -> discard old, keep new fragment only
	if string(r.Bytes()) != string([]byte{4, 5, 6}) {
		t.Fatalf("Bytes() = %v, want [4 5 6]", r.Bytes())
	}
}
