// Package packer implements the single-packet output buffer that
// coalesces outbound messages into MTU-sized datagrams under a latency
// deadline (spec.md §4.4 "Packet packer").
package packer

import (
	"time"

	"github.com/topcatse/zhe-go/internal/vle"
	"github.com/topcatse/zhe-go/internal/wireproto"
	"github.com/topcatse/zhe-go/internal/xmitwindow"
)

// Dest is an opaque destination handle; the packer never interprets it,
// only compares it for equality to decide whether to flush (spec.md:
// "changes outdst").
type Dest any

// FlushFunc sends one complete packet to dst.
type FlushFunc func(dst Dest, buf []byte)

// Packer accumulates messages into one outbound buffer of at most mtu
// bytes, flushing to a FlushFunc when full, when the destination or
// reliable-owning conduit changes, or when a latency deadline expires.
type Packer struct {
	mtu            int
	latencyBudget  time.Duration // 0 = flush every write; <0 = never flush by time
	msynchInterval time.Duration

	buf []byte
	dst Dest
	oc  *xmitwindow.OutConduit // conduit currently owning this packet's reliable payload, if any

	deadlineArmed bool
	deadline      time.Time

	// lastRelHeaderPos is the offset, within buf, of the most recently
	// packed reliable message's header byte; -1 if none since the last
	// flush. On flush, if oc is more than 3/4 full, the SYNCH flag bit is
	// set in that header (spec.md §4.4).
	lastRelHeaderPos int

	flush FlushFunc
}

// New constructs a Packer. With latencyBudget 0 (spec.md
// LATENCY_BUDGET==0) each reservation arms a deadline that is already
// due, so the next DeadlineDue check reports true; the Packer does not
// flush by itself. A negative value disables time-based flushing
// (LATENCY_BUDGET==INF).
func New(mtu int, latencyBudget, msynchInterval time.Duration, flush FlushFunc) *Packer {
	return &Packer{
		mtu:              mtu,
		latencyBudget:    latencyBudget,
		msynchInterval:   msynchInterval,
		buf:              make([]byte, 0, mtu),
		lastRelHeaderPos: -1,
		flush:            flush,
	}
}

// Len returns the number of bytes currently staged.
func (p *Packer) Len() int { return len(p.buf) }

// DeadlineDue reports whether the armed latency deadline has passed.
func (p *Packer) DeadlineDue(now time.Time) bool {
	return p.deadlineArmed && !now.Before(p.deadline)
}

// Reserve prepares the packer to accept n more bytes destined for dst,
// attributed to the reliable conduit oc (nil for unreliable-only
// content). It flushes the current packet first if the reservation would
// overflow the MTU, or if dst or oc differs from the packet in progress
// (spec.md §4.4).
func (p *Packer) Reserve(now time.Time, dst Dest, oc *xmitwindow.OutConduit, n int) {
	if len(p.buf) > 0 && (len(p.buf)+n > p.mtu || p.dst != dst || (oc != nil && p.oc != nil && p.oc != oc)) {
		p.Flush(now)
	}
	wasEmpty := len(p.buf) == 0
	p.dst = dst
	if oc != nil {
		p.oc = oc
	}
	if wasEmpty && p.latencyBudget >= 0 {
		p.deadlineArmed = true
		p.deadline = now.Add(p.latencyBudget)
	}
}

// Pack1 appends a single byte.
func (p *Packer) Pack1(b byte) { p.buf = append(p.buf, b) }

// Pack2 appends two bytes little-endian.
func (p *Packer) Pack2(v uint16) {
	p.buf = append(p.buf, byte(v), byte(v>>8))
}

// PackU16 is an alias for Pack2 matching spec.md's named primitive.
func (p *Packer) PackU16(v uint16) { p.Pack2(v) }

// PackVLE appends a VLE-encoded unsigned integer.
func (p *Packer) PackVLE(v uint64) {
	p.buf = vle.AppendUint64(p.buf, v)
}

// PackVec appends a VLE length prefix followed by data.
func (p *Packer) PackVec(data []byte) {
	p.buf = vle.AppendVec(p.buf, data)
}

// PackBytes appends raw bytes with no length prefix.
func (p *Packer) PackBytes(data []byte) {
	p.buf = append(p.buf, data...)
}

// BeginReliable marks the position of a reliable message's header byte
// about to be packed, so Flush can retroactively set its SYNCH flag if
// the owning conduit is more than 3/4 full.
func (p *Packer) BeginReliable() {
	p.lastRelHeaderPos = len(p.buf)
}

// PackCopyRel packs data into the current packet AND mirrors it into oc's
// transmit window (spec.md §4.4 "oc_pack_copyrel"). The caller must have
// already called oc.BeginAppend(); PackCopyRel does not call
// FinishAppend — callers finish the window append once the full message
// body has been emitted.
func (p *Packer) PackCopyRel(oc *xmitwindow.OutConduit, data []byte) {
	p.buf = append(p.buf, data...)
	oc.WriteBytes(data)
}

// Flush emits the staged packet (if non-empty) via FlushFunc and resets
// packer state for the next packet. If the attributed reliable conduit is
// more than 3/4 full, the last reliable message's header has its SYNCH
// flag set and a SYNCH is (re)scheduled on that conduit.
func (p *Packer) Flush(now time.Time) {
	if len(p.buf) == 0 {
		return
	}
	if p.lastRelHeaderPos >= 0 && p.oc != nil && p.oc.ThreeQuartersFull() {
		setSynchFlag(p.buf, p.lastRelHeaderPos)
		p.oc.ScheduleSynch(now)
	}
	p.flush(p.dst, p.buf)
	p.buf = p.buf[:0]
	p.oc = nil
	p.lastRelHeaderPos = -1
	p.deadlineArmed = false
}

// setSynchFlag ORs the S flag into the header byte at pos.
func setSynchFlag(buf []byte, pos int) {
	buf[pos] |= byte(wireproto.FlagS)
}
