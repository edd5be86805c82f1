package wireproto

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		kind  Kind
		flags Flags
	}{
		{KindSData, FlagR},
		{KindAckNack, FlagMZ},
		{KindScout, 0},
		{KindDeclare, FlagR | FlagS},
	}
	for _, c := range cases {
		b := EncodeHeader(c.kind, c.flags)
		h := DecodeHeader(b)
		if h.Kind != c.kind {
			t.Fatalf("kind round trip: got %v, want %v", h.Kind, c.kind)
		}
		if h.Flags != c.flags {
			t.Fatalf("flags round trip: got %v, want %v", h.Flags, c.flags)
		}
	}
}

func TestHasFlag(t *testing.T) {
	h := DecodeHeader(EncodeHeader(KindSData, FlagR|FlagS))
	if !h.HasFlag(FlagR) || !h.HasFlag(FlagS) {
		t.Fatal("expected R and S set")
	}
	if h.HasFlag(FlagP) {
		t.Fatal("expected P unset")
	}
}
