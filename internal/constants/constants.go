// Package constants holds the compile-time defaults for the engine.
//
// The protocol core treats these as fixed at construction time: nothing in
// the engine resizes a ring, arena, or table after New() returns. Config
// (see the root config.go) lets a host override any of these per engine
// instance; the values here are only the factory defaults.
package constants

import "time"

// TransportMode selects how the external Transport collaborator delivers
// bytes: one complete packet per recv, or an unbounded byte stream that the
// engine must reassemble.
type TransportMode int

const (
	TransportPacket TransportMode = iota
	TransportStream
)

// LatencyBudget special values (spec.md §6).
const (
	// LatencyBudgetFlushEveryWrite makes every reliable/unreliable write
	// flush the packer immediately; no coalescing.
	LatencyBudgetFlushEveryWrite time.Duration = 0
	// LatencyBudgetInf disables the packer's time-based flush entirely;
	// only MTU/destination/conduit changes trigger a flush.
	LatencyBudgetInf time.Duration = -1
)

// Default configuration constants, named to match spec.md §6 one-for-one.
const (
	// DefaultTransportMTU is the default outbound/inbound packet size cap.
	DefaultTransportMTU = 1500

	// DefaultXmitWindowBytes is the default per-conduit reliable ring size.
	DefaultXmitWindowBytes = 16384

	// DefaultSeqnumLen is the bit width of a sequence number, excluding the
	// low SeqnumShift bits reserved for flags on the wire.
	DefaultSeqnumLen = 28

	// SeqnumShift is the number of low bits of a wire seq field reserved
	// for flags; SeqnumUnit = 1 << SeqnumShift is the increment between
	// consecutive sequence numbers (spec.md §3, "Sequence unit").
	SeqnumShift = 4
	SeqnumUnit  = 1 << SeqnumShift

	// DefaultMaxPeers is 0 for client mode (single broker peer slot only).
	DefaultMaxPeers = 0

	DefaultNInConduits  = 1
	DefaultNOutConduits = 1

	DefaultMaxPubs = 8
	DefaultMaxSubs = 8

	// DefaultResourceNameArenaBytes sizes the ICGCB arena backing declared
	// RESOURCE name bindings (spec.md §2, "ICGCB used for resource
	// storage"): a handful of short URI-style names, compacted in place
	// rather than grown on the Go heap.
	DefaultResourceNameArenaBytes = 512

	// DefaultPeerIDSize bounds the peer id byte string (spec.md §3, Peer).
	DefaultPeerIDSize = 16

	// DefaultMSynchInterval is how long an OutConduit waits, once it has
	// unacknowledged samples, before re-announcing SYNCH.
	DefaultMSynchInterval = 500 * time.Millisecond

	// DefaultScoutInterval governs re-scouting while SCOUT_SENT.
	DefaultScoutInterval = 1000 * time.Millisecond

	// DefaultOpenInterval governs retry pacing while OPENING.
	DefaultOpenInterval = 400 * time.Millisecond

	// DefaultOpenRetries bounds the OPENING[i] ladder before falling back
	// to SCOUT (spec.md §4.6).
	DefaultOpenRetries = 5

	// DefaultLeaseDeciseconds is the wire lease unit (tenths of a second)
	// offered at OPEN/ACCEPT time, matching zeno.c's lease_dur = 300.
	DefaultLeaseDeciseconds = 300

	// StreamIdleResetDuration: in TRANSPORT_STREAM mode, the in-progress
	// reassembly buffer is discarded after this much time with no new
	// bytes (spec.md §6).
	StreamIdleResetDuration = 300 * time.Millisecond

	// WaitinputToScoutDuration and DrainToScoutDuration implement the
	// WAITINPUT/DRAININPUT warm-up timers of spec.md §4.6.
	WaitinputToScoutDuration = 5 * time.Second
	DrainToScoutDuration     = 1 * time.Second
)

// DefaultPeerID is the fallback local peer id used only when a Config does
// not supply one and no id-generation dependency is wired in; zeno.c used
// the literal bytes {'z','b','o','t'}.
var DefaultPeerID = []byte{'z', 'b', 'o', 't'}
