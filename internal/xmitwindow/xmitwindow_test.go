package xmitwindow

import (
	"testing"
	"time"

	"github.com/topcatse/zhe-go/internal/bitset"
)

func appendSample(t *testing.T, oc *OutConduit, now time.Time, payload []byte) uint32 {
	t.Helper()
	if err := oc.BeginAppend(); err != nil {
		t.Fatalf("BeginAppend: %v", err)
	}
	oc.WriteBytes(payload)
	return oc.FinishAppend(now)
}

func TestAppendAndAckInvariants(t *testing.T) {
	now := time.Unix(0, 0)
	oc := New(64, 4, 500*time.Millisecond)

	for i := 0; i < 3; i++ {
		appendSample(t, oc, now, []byte{byte(i), byte(i), byte(i)})
		checkInvariants(t, oc)
	}
	if oc.NSamples() != 3 {
		t.Fatalf("NSamples() = %d, want 3", oc.NSamples())
	}

	oc.AckUpTo(oc.SeqBase() + 2*4) // ack first two samples
	checkInvariants(t, oc)
	if oc.NSamples() != 1 {
		t.Fatalf("NSamples() after ack = %d, want 1", oc.NSamples())
	}
}

func TestAckClampsToSeq(t *testing.T) {
	now := time.Unix(0, 0)
	oc := New(64, 4, 500*time.Millisecond)
	appendSample(t, oc, now, []byte{1, 2, 3})
	future := oc.Seq() + 10*4
	oc.AckUpTo(future) // remote acks beyond seq; must clamp
	checkInvariants(t, oc)
	if oc.SeqBase() != oc.Seq() {
		t.Fatalf("SeqBase()=%d Seq()=%d, want equal after clamp-ack of all samples", oc.SeqBase(), oc.Seq())
	}
}

// TestRetransmitSelectedByMask mirrors spec.md §8 scenario 2: three writes,
// then ACKNACK(seq=seqbase, mask=0b010) must re-emit samples "0" and "2"
// (the base, always implied, plus the mask-selected one two units ahead).
func TestRetransmitSelectedByMask(t *testing.T) {
	now := time.Unix(0, 0)
	oc := New(128, 4, 500*time.Millisecond)
	base := oc.SeqBase()

	var payloads [][]byte
	for i := 0; i < 3; i++ {
		p := []byte{byte('a' + i), byte('a' + i)}
		payloads = append(payloads, p)
		appendSample(t, oc, now, p)
	}

	var mask bitset.Mask32
	mask.SetBit(1) // i=1 -> offset (i+1)*unit = 2 units ahead of base

	var got []uint32
	matched, last := oc.Retransmit(base, mask, func(seq uint32, payload []byte) {
		got = append(got, seq)
		if string(payload) != string(payloads[(seq-base)/4]) {
			t.Fatalf("retransmitted payload mismatch at seq %d", seq)
		}
	})
	if !matched {
		t.Fatal("expected a match")
	}
	if len(got) != 2 {
		t.Fatalf("got %d retransmits, want 2 (base + mask-selected)", len(got))
	}
	if got[0] != base || got[1] != base+2*4 {
		t.Fatalf("got %v, want [base, base+2units]", got)
	}
	if last != base+2*4 {
		t.Fatalf("lastSeq = %d, want %d", last, base+2*4)
	}
	// a pure NACK does not change seqbase
	if oc.SeqBase() != base {
		t.Fatalf("SeqBase() changed from %d to %d on retransmit-only", base, oc.SeqBase())
	}
}

func TestRingWrap(t *testing.T) {
	now := time.Unix(0, 0)
	// Small capacity forces wraparound within a handful of samples.
	oc := New(16, 4, 500*time.Millisecond)
	for i := 0; i < 10; i++ {
		payload := []byte{byte(i), byte(i)}
		if oc.FreeBytes() < lenPrefixSize+len(payload) {
			oc.AckUpTo(oc.Seq())
		}
		appendSample(t, oc, now, payload)
		checkInvariants(t, oc)
		oc.AckUpTo(oc.Seq()) // immediately ack everything up to and including this one
	}
}

func TestMulticastAckFloorIsMinAcrossPeers(t *testing.T) {
	now := time.Unix(0, 0)
	m := NewMulticast(64, 4, 500*time.Millisecond, 3)
	base := m.SeqBase()
	appendSample(t, m.OutConduit, now, []byte{1})
	appendSample(t, m.OutConduit, now, []byte{2})
	appendSample(t, m.OutConduit, now, []byte{3})

	m.AckFromPeer(1, base+1*4) // peer 1 only the first sample
	m.AckFromPeer(0, base+3*4) // peer 0 has everything
	if m.NSamples() != 2 {
		t.Fatalf("NSamples() = %d, want 2 (floor held back by peer 1)", m.NSamples())
	}

	m.PeerLeft(1)
	if m.NSamples() != 0 {
		t.Fatalf("NSamples() after slow peer left = %d, want 0", m.NSamples())
	}
}

func checkInvariants(t *testing.T, oc *OutConduit) {
	t.Helper()
	if oc.NSamples() < 0 {
		t.Fatalf("nsamples < 0")
	}
	if seqLT(oc.Seq(), oc.SeqBase()) {
		t.Fatalf("seq %d < seqbase %d", oc.Seq(), oc.SeqBase())
	}
	if oc.BytesUsed() > oc.Cap() {
		t.Fatalf("bytesused %d > cap %d", oc.BytesUsed(), oc.Cap())
	}
	if (oc.NSamples() == 0) != (oc.SeqBase() == oc.Seq()) {
		t.Fatalf("nsamples==0 <=> seqbase==seq violated: nsamples=%d seqbase=%d seq=%d", oc.NSamples(), oc.SeqBase(), oc.Seq())
	}
}
