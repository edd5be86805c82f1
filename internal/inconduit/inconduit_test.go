package inconduit

import "testing"

func TestInOrderDelivery(t *testing.T) {
	ic := New(4)
	delivered := 0
	for _, s := range []uint32{0, 4, 8} {
		if !ic.ReceiveReliable(s, func() { delivered++ }) {
			t.Fatalf("seq %d: expected delivery", s)
		}
	}
	if delivered != 3 {
		t.Fatalf("delivered = %d, want 3", delivered)
	}
	if ic.Seq() != 12 {
		t.Fatalf("Seq() = %d, want 12", ic.Seq())
	}
}

func TestOutOfOrderDiscardedAndGapRecorded(t *testing.T) {
	ic := New(4)
	delivered := 0
	deliver := func() { delivered++ }

	if ic.ReceiveReliable(8, deliver) {
		t.Fatal("out-of-order sample must not deliver")
	}
	if delivered != 0 {
		t.Fatalf("delivered = %d, want 0", delivered)
	}
	if ic.LSeqPU() != 12 {
		t.Fatalf("LSeqPU() = %d, want 12", ic.LSeqPU())
	}
	if !ic.NeedsAckNack(false) {
		t.Fatal("expected a gap to require ACKNACK")
	}
	// The gap runs from seq 0 up to lseqpU 12 (cnt=3), so the low three
	// bits of the mask are set regardless of which individual sequence
	// actually arrived.
	if !ic.AckNackMask().TestBit(0) {
		t.Fatal("bit 0 (seq 4) should be marked missing")
	}
	if !ic.AckNackMask().TestBit(1) {
		t.Fatal("bit 1 (seq 8) should be marked missing")
	}

	// The missing seq 0 and 4 arrive; 0 delivers immediately, 4 after it.
	if !ic.ReceiveReliable(0, deliver) {
		t.Fatal("seq 0 should now be in-order deliverable")
	}
	if !ic.ReceiveReliable(4, deliver) {
		t.Fatal("seq 4 should now be in-order deliverable")
	}
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}
	if ic.Seq() != 8 {
		t.Fatalf("Seq() = %d, want 8", ic.Seq())
	}
}

func TestUnreliableGapsPermitted(t *testing.T) {
	ic := New(4)
	delivered := 0
	deliver := func() { delivered++ }

	if !ic.ReceiveUnreliable(0, deliver) {
		t.Fatal("expected delivery")
	}
	if !ic.ReceiveUnreliable(12, deliver) { // gap is fine for unreliable
		t.Fatal("expected delivery despite gap")
	}
	if ic.USeq() != 16 {
		t.Fatalf("USeq() = %d, want 16", ic.USeq())
	}
	if ic.ReceiveUnreliable(4, deliver) { // stale, below useq
		t.Fatal("stale unreliable sample must not deliver")
	}
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}
}

func TestSynchResetsCursor(t *testing.T) {
	ic := New(4)
	ic.ReceiveReliable(20, func() {}) // creates a gap
	ic.ReceiveSynch(8, 3)
	if ic.Seq() != 8 {
		t.Fatalf("Seq() = %d, want 8", ic.Seq())
	}
	if ic.LSeqPU() != 20 {
		t.Fatalf("LSeqPU() = %d, want 20", ic.LSeqPU())
	}
	// cnt = (20-8)/4 = 3: the gap width, not a record of prior arrivals.
	if ic.AckNackMask() != 0x7 {
		t.Fatalf("AckNackMask() = %#x, want 0x7", ic.AckNackMask())
	}
}

func TestNeedsAckNackOnSFlagAlone(t *testing.T) {
	ic := New(4)
	ic.ReceiveReliable(0, func() {})
	if ic.NeedsAckNack(false) {
		t.Fatal("no gap, no S flag: ACKNACK not needed")
	}
	if !ic.NeedsAckNack(true) {
		t.Fatal("S flag alone must trigger ACKNACK")
	}
}
