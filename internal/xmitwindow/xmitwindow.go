// Package xmitwindow implements the per-outgoing-conduit reliable sample
// store (spec.md §4.2 "Transmit window (OC)"): a byte ring holding samples
// awaiting acknowledgment, laid out as a sequence of
// [len1][msg1 bytes]...[lenN][msgN bytes] frames wrapping modulo the
// window's byte capacity.
package xmitwindow

import (
	"errors"
	"time"

	"github.com/topcatse/zhe-go/internal/bitset"
	"github.com/topcatse/zhe-go/internal/heap"
)

// lenPrefixSize is the fixed 2-byte length prefix preceding each sample.
const lenPrefixSize = 2

// ErrNoSpace is returned by BeginAppend when the pre-checked reservation
// cannot actually be honored; callers are expected to pre-check with
// FreeBytes before calling BeginAppend, so this indicates caller error
// rather than a normal flow-control outcome.
var ErrNoSpace = errors.New("xmitwindow: reservation exceeds free space")

// OutConduit is one unicast outgoing conduit's reliable transmit window.
type OutConduit struct {
	rbuf []byte
	cap  int
	unit uint32

	pos      int // next write offset
	firstpos int // offset of the oldest unacked sample's length prefix
	nsamples int
	bytesused int

	seqbase uint32
	seq     uint32

	msynchInterval time.Duration
	synchScheduled bool
	tsynch         time.Time

	// in-progress append state
	appending    bool
	curHeaderPos int
	curLen       int
}

// New constructs an OutConduit over a freshly allocated byte ring of the
// given capacity. unit is the sequence-number increment (spec.md
// SEQNUM_UNIT).
func New(capBytes int, unit uint32, msynchInterval time.Duration) *OutConduit {
	return &OutConduit{
		rbuf:           make([]byte, capBytes),
		cap:            capBytes,
		unit:           unit,
		msynchInterval: msynchInterval,
	}
}

func (oc *OutConduit) Cap() int         { return oc.cap }
func (oc *OutConduit) BytesUsed() int    { return oc.bytesused }
func (oc *OutConduit) FreeBytes() int    { return oc.cap - oc.bytesused }
func (oc *OutConduit) NSamples() int     { return oc.nsamples }
func (oc *OutConduit) SeqBase() uint32   { return oc.seqbase }
func (oc *OutConduit) Seq() uint32       { return oc.seq }
func (oc *OutConduit) Unit() uint32      { return oc.unit }

// ThreeQuartersFull reports whether the window is more than 3/4 full, the
// threshold at which the packer is told to piggyback the SYNCH flag on a
// flushed packet (spec.md §4.4).
func (oc *OutConduit) ThreeQuartersFull() bool {
	return oc.bytesused*4 > oc.cap*3
}

// SynchDue reports whether a SYNCH is scheduled and due at now.
func (oc *OutConduit) SynchDue(now time.Time) bool {
	return oc.nsamples > 0 && oc.synchScheduled && !now.Before(oc.tsynch)
}

// ScheduleSynch arms (or re-arms) the SYNCH deadline relative to now.
func (oc *OutConduit) ScheduleSynch(now time.Time) {
	oc.synchScheduled = true
	oc.tsynch = now.Add(oc.msynchInterval)
}

// ClearSynch disarms the SYNCH deadline, e.g. after one has been sent.
func (oc *OutConduit) ClearSynch() { oc.synchScheduled = false }

// BeginAppend reserves the length-prefix slot for a new reliable sample.
// Callers must have already verified FreeBytes() against their own
// worst-case overhead estimate (spec.md: "the window is assumed not full;
// callers enforce the pre-check").
func (oc *OutConduit) BeginAppend() error {
	if oc.appending {
		panic("xmitwindow: BeginAppend called while a sample is already in progress")
	}
	if oc.FreeBytes() < lenPrefixSize {
		return ErrNoSpace
	}
	oc.curHeaderPos = oc.pos
	oc.pos = (oc.pos + lenPrefixSize) % oc.cap
	oc.bytesused += lenPrefixSize
	oc.curLen = 0
	oc.appending = true
	return nil
}

// WriteBytes appends p to the sample currently being built, wrapping
// around the ring as needed.
func (oc *OutConduit) WriteBytes(p []byte) {
	if !oc.appending {
		panic("xmitwindow: WriteBytes called with no sample in progress")
	}
	for _, b := range p {
		oc.rbuf[oc.pos] = b
		oc.pos = (oc.pos + 1) % oc.cap
	}
	oc.curLen += len(p)
	oc.bytesused += len(p)
}

// FinishAppend patches the sample's length prefix, assigns it the next
// sequence number, and arms the first-unacked SYNCH deadline if this was
// the window's first outstanding sample (spec.md §4.2).
func (oc *OutConduit) FinishAppend(now time.Time) uint32 {
	if !oc.appending {
		panic("xmitwindow: FinishAppend called with no sample in progress")
	}
	oc.writeLen(oc.curHeaderPos, oc.curLen)
	firstSample := oc.nsamples == 0
	oc.nsamples++
	assigned := oc.seq
	oc.seq += oc.unit
	oc.appending = false
	if firstSample {
		oc.ScheduleSynch(now)
	}
	return assigned
}

// AckUpTo drops every sample with sequence < seq from the window (spec.md
// §4.2 remove_acked_messages). A seq beyond the highest assigned sequence
// is clamped, per "if seq > oc.seq (remote acks future), clamp to oc.seq".
func (oc *OutConduit) AckUpTo(seq uint32) {
	if seqGT(seq, oc.seq) {
		seq = oc.seq
	}
	for seqLT(oc.seqbase, seq) {
		length := oc.readLen(oc.firstpos)
		oc.firstpos = (oc.firstpos + lenPrefixSize + length) % oc.cap
		oc.nsamples--
		oc.bytesused -= lenPrefixSize + length
		oc.seqbase += oc.unit
	}
	if oc.nsamples == 0 {
		oc.synchScheduled = false
	}
}

// Retransmit walks the outstanding samples in order and re-emits the ones
// the peer's ACKNACK asked for (spec.md §4.2). The sample named by ackSeq
// itself is always retransmitted if still outstanding ("bit 0 stands for
// the seq named in the ACKNACK"); mask bit i additionally selects the
// sample at ackSeq + (i+1)*unit, the same bit numbering inconduit.InConduit
// uses when it fills its ACKNACK mask across the receive gap. It
// reports whether any sample matched and, if so, the sequence of the last
// one emitted (the caller marks that retransmission with the SYNCH flag
// and reschedules SYNCH).
func (oc *OutConduit) Retransmit(ackSeq uint32, mask bitset.Mask32, emit func(seq uint32, payload []byte)) (matched bool, lastSeq uint32) {
	pos := oc.firstpos
	s := oc.seqbase
	for i := 0; i < oc.nsamples; i++ {
		length := oc.readLen(pos)
		payloadPos := (pos + lenPrefixSize) % oc.cap
		if !seqLT(s, ackSeq) {
			wanted := s == ackSeq
			if !wanted && seqGT(s, ackSeq) {
				idx := (s-ackSeq)/oc.unit - 1
				wanted = idx < 32 && mask.TestBit(int(idx))
			}
			if wanted {
				emit(s, oc.readPayload(payloadPos, length))
				matched = true
				lastSeq = s
			}
		}
		pos = (pos + lenPrefixSize + length) % oc.cap
		s += oc.unit
	}
	return matched, lastSeq
}

func (oc *OutConduit) readLen(pos int) int {
	a := oc.rbuf[pos]
	b := oc.rbuf[(pos+1)%oc.cap]
	return int(a) | int(b)<<8
}

func (oc *OutConduit) writeLen(pos, n int) {
	oc.rbuf[pos] = byte(n)
	oc.rbuf[(pos+1)%oc.cap] = byte(n >> 8)
}

func (oc *OutConduit) readPayload(pos, length int) []byte {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = oc.rbuf[(pos+i)%oc.cap]
	}
	return out
}

// seqLT and seqGT are signed-difference comparisons that tolerate wrap
// (spec.md §5 "comparisons are signed-difference to tolerate wrap").
func seqLT(a, b uint32) bool { return int32(a-b) < 0 }
func seqGT(a, b uint32) bool { return int32(a-b) > 0 }

// MulticastOutConduit is the multicast variant of OutConduit: the ACK
// floor is the minimum watermark across every subscribing peer, tracked by
// a MinSeqHeap (spec.md §2 "Min-sequence heap").
type MulticastOutConduit struct {
	*OutConduit
	heap *heap.MinSeqHeap
}

// NewMulticast constructs a multicast outgoing conduit tracking up to
// maxPeers distinct peer indices.
func NewMulticast(capBytes int, unit uint32, msynchInterval time.Duration, maxPeers int) *MulticastOutConduit {
	return &MulticastOutConduit{
		OutConduit: New(capBytes, unit, msynchInterval),
		heap:       heap.New(maxPeers),
	}
}

// AckFromPeer records peerIdx's watermark and advances the shared ACK
// floor to the new minimum across all tracked peers.
func (m *MulticastOutConduit) AckFromPeer(peerIdx int, seq uint32) {
	min := m.heap.UpdateSeq(peerIdx, seq)
	m.OutConduit.AckUpTo(min)
}

// PeerLeft removes peerIdx from ACK tracking, e.g. on session close, and
// re-evaluates the ACK floor against the remaining peers.
func (m *MulticastOutConduit) PeerLeft(peerIdx int) {
	if m.heap.Delete(peerIdx) && !m.heap.IsEmpty() {
		m.OutConduit.AckUpTo(m.heap.Min())
	}
}
