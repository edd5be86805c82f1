// Package inconduit implements the per-conduit incoming delivery cursor
// (spec.md §4.3 "Incoming conduit delivery"): in-order reliable delivery
// with gaps recovered by ACKNACK, and relaxed (reorder-tolerant,
// loss-tolerant) unreliable delivery. No reassembly buffer is kept for
// reliable samples that arrive out of order — they are discarded and
// recovered by retransmission, consistent with the ICGCB-era design's
// fixed-footprint stance on buffering.
package inconduit

import "github.com/topcatse/zhe-go/internal/bitset"

// InConduit is one incoming conduit's delivery state.
type InConduit struct {
	unit uint32

	seq    uint32 // next deliverable reliable sequence
	lseqpU uint32 // one unit past the highest reliable sequence seen

	useq uint32 // next acceptable unreliable sequence
}

// New constructs an InConduit for the given sequence unit.
func New(unit uint32) *InConduit {
	return &InConduit{unit: unit}
}

func (ic *InConduit) Seq() uint32    { return ic.seq }
func (ic *InConduit) LSeqPU() uint32 { return ic.lseqpU }
func (ic *InConduit) USeq() uint32   { return ic.useq }

// ReceiveReliable processes an inbound reliable sample with sequence s. If
// s is the next expected sequence, deliver is invoked and the cursor
// advances by one unit; otherwise the sample is discarded (its arrival is
// still recorded for ACKNACK gap reporting) and the cursor does not move.
// It reports whether the sample was delivered.
func (ic *InConduit) ReceiveReliable(s uint32, deliver func()) bool {
	if seqGE(s+ic.unit, ic.lseqpU) {
		ic.lseqpU = s + ic.unit
	}
	if s == ic.seq {
		if deliver != nil {
			deliver()
		}
		ic.seq += ic.unit
		return true
	}
	return false
}

// ReceiveUnreliable processes an inbound unreliable sample with sequence
// s. It is deliverable iff useq <= s (no reordering buffer; a sample
// older than useq is a stale duplicate and dropped).
func (ic *InConduit) ReceiveUnreliable(s uint32, deliver func()) bool {
	if seqLE(ic.useq, s) {
		if deliver != nil {
			deliver()
		}
		ic.useq = s + ic.unit
		return true
	}
	return false
}

// ReceiveSynch applies a SYNCH announcement of (seqbase, cnt): the cursor
// jumps to seqbase (discarding any still-outstanding gap state, since the
// sender has now told us authoritatively where its window begins) and
// lseqpU is set to seqbase + cnt*unit.
func (ic *InConduit) ReceiveSynch(seqbase uint32, cnt uint32) {
	ic.seq = seqbase
	ic.lseqpU = seqbase + cnt*ic.unit
}

// NeedsAckNack reports whether the engine must emit an ACKNACK: either a
// gap exists between seq and lseqpU, or the inbound message that triggered
// this check carried the synch-request (S) flag (spec.md §4.3).
func (ic *InConduit) NeedsAckNack(sFlagSet bool) bool {
	return sFlagSet || seqLT(ic.seq, ic.lseqpU)
}

// AckNackMask builds the missing-sample bitmask to accompany an ACKNACK, per
// zeno.c's acknack_if_needed: cnt = (lseqpU-seq)/unit is the width of the gap
// between the next deliverable sequence and the highest sequence seen, and
// the low cnt bits of the mask are set unconditionally — every sequence in
// that span is outstanding, whether or not any later sample out of order
// happened to confirm its existence. Bits beyond 32 are not represented.
func (ic *InConduit) AckNackMask() bitset.Mask32 {
	cnt := (ic.lseqpU - ic.seq) / ic.unit
	if cnt == 0 {
		return 0
	}
	if cnt >= 32 {
		return bitset.Mask32(^uint32(0))
	}
	return bitset.Mask32(^uint32(0) >> (32 - cnt))
}

// seqLT, seqLE, seqGE are signed-difference comparisons tolerant of
// wraparound (spec.md §5).
func seqLT(a, b uint32) bool { return int32(a-b) < 0 }
func seqLE(a, b uint32) bool { return int32(a-b) <= 0 }
func seqGE(a, b uint32) bool { return int32(a-b) >= 0 }
