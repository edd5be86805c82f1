// Package session implements the per-peer connection state machine
// (spec.md §4.6 "Session state machine (per peer)"). It holds only the
// state-transition and timer logic; the actual wire messages each
// transition emits are produced by the Actions the Engine supplies, kept
// separate so the state machine is testable without a transport.
package session

import "time"

// State enumerates the per-peer lifecycle states. OPENING[0..OpenRetries)
// in spec.md is modeled here as a single Opening state plus a retry
// counter, rather than one Go const per retry slot.
type State int

const (
	WaitInput State = iota
	DrainInput
	Scout
	ScoutSent
	Opening
	Connected
	Operational
)

func (s State) String() string {
	switch s {
	case WaitInput:
		return "WAITINPUT"
	case DrainInput:
		return "DRAININPUT"
	case Scout:
		return "SCOUT"
	case ScoutSent:
		return "SCOUT_SENT"
	case Opening:
		return "OPENING"
	case Connected:
		return "CONNECTED"
	case Operational:
		return "OPERATIONAL"
	default:
		return "UNKNOWN"
	}
}

// Timing bundles the timer-driven constants Tick needs (spec.md §6
// configuration constants), passed in rather than imported from
// internal/constants to keep this package import-cycle-free and unit
// testable with arbitrary values.
type Timing struct {
	WaitinputToScout time.Duration
	DrainToScout     time.Duration
	ScoutInterval    time.Duration
	OpenInterval     time.Duration
	OpenRetries      int
}

// Actions are the side effects a Peer's transitions trigger. The Engine
// implements this by emitting the corresponding wire message via its
// packer and conduits.
type Actions interface {
	SendScout()
	SendOpen(retry int)
	// SendInitialDeclare emits the DSUB+DCOMMIT pair spec.md §4.6 requires
	// on entering CONNECTED, before the peer moves to OPERATIONAL.
	SendInitialDeclare()
	// CloseAndScout performs close_connection_and_scout's side effects
	// external to this state machine: resetting declare state and
	// requeuing pubs/subs for redeclaration.
	CloseAndScout()
}

// Peer is one remote endpoint's connection state.
type Peer struct {
	State         State
	OpeningRetry  int
	TStateChanged time.Time
	tNextRetry    time.Time

	BrokerID         []byte
	LeaseDeciseconds int
	tLease           time.Time
}

// New constructs a Peer starting in WAITINPUT (spec.md §4.6's entry state
// for stream-mode warm-up). The Engine reports every received packet via
// OnInboundByte in both transport modes, so WAITINPUT moves to DRAININPUT
// on the first inbound packet, or to SCOUT once Timing.WaitinputToScout
// passes with none.
func New(now time.Time) *Peer {
	return &Peer{State: WaitInput, TStateChanged: now}
}

// NewAccepted constructs a Peer that begins already OPERATIONAL, for a
// broker-mode Engine that creates a Peer upon receiving a fresh OPEN
// rather than driving its own scout/open ladder.
func NewAccepted(now time.Time, peerLeaseDeciseconds int) *Peer {
	p := &Peer{State: Operational, TStateChanged: now, LeaseDeciseconds: peerLeaseDeciseconds}
	p.refreshLease(now)
	return p
}

func (p *Peer) transition(now time.Time, s State) {
	p.State = s
	p.TStateChanged = now
}

func (p *Peer) refreshLease(now time.Time) {
	p.tLease = now.Add(time.Duration(p.LeaseDeciseconds) * 100 * time.Millisecond)
}

// OnInboundByte implements the stream-mode warm-up transition WAITINPUT →
// DRAININPUT on any inbound byte.
func (p *Peer) OnInboundByte(now time.Time) {
	if p.State == WaitInput {
		p.transition(now, DrainInput)
	}
}

// OnPacketReceived refreshes the lease deadline on any inbound packet
// (spec.md §4.6 "each inbound packet updates the peer's tlease"). If
// leaseDeciseconds is positive it replaces the previously offered lease
// (e.g. on ACCEPT); pass 0 to refresh against the existing lease only.
func (p *Peer) OnPacketReceived(now time.Time, leaseDeciseconds int) {
	if leaseDeciseconds > 0 {
		p.LeaseDeciseconds = leaseDeciseconds
	}
	p.refreshLease(now)
}

// enterScout performs the SCOUT→SCOUT_SENT transition: spec.md describes
// SCOUT as transient ("emits one MSCOUT and moves to SCOUT_SENT"), so
// Peer never rests in Scout between Tick calls.
func (p *Peer) enterScout(now time.Time, t Timing, act Actions) {
	p.transition(now, Scout)
	act.SendScout()
	p.OpeningRetry = 0
	p.tNextRetry = now.Add(t.ScoutInterval)
	p.transition(now, ScoutSent)
}

// OnHello handles an inbound MHELLO carrying the broker bit, moving
// SCOUT_SENT → OPENING[0] (spec.md §4.6). Hellos received in any other
// state are ignored.
func (p *Peer) OnHello(now time.Time, brokerBit bool, t Timing, act Actions) {
	if p.State != ScoutSent || !brokerBit {
		return
	}
	p.OpeningRetry = 0
	p.transition(now, Opening)
	act.SendOpen(p.OpeningRetry)
	p.tNextRetry = now.Add(t.OpenInterval)
}

// OnAccept handles an inbound MACCEPT addressed to us while OPENING,
// capturing the broker id and lease and moving CONNECTED → OPERATIONAL
// after emitting the initial DSUB+DCOMMIT pair (spec.md §4.6).
func (p *Peer) OnAccept(now time.Time, brokerID []byte, leaseDeciseconds int, act Actions) {
	if p.State != Opening {
		return
	}
	p.BrokerID = append([]byte(nil), brokerID...)
	p.LeaseDeciseconds = leaseDeciseconds
	p.refreshLease(now)
	p.transition(now, Connected)
	act.SendInitialDeclare()
	p.transition(now, Operational)
}

// Tick advances timers and performs the transitions spec.md §4.6
// describes as driven by elapsed time rather than an inbound message.
func (p *Peer) Tick(now time.Time, t Timing, act Actions) {
	switch p.State {
	case WaitInput:
		if now.Sub(p.TStateChanged) >= t.WaitinputToScout {
			p.enterScout(now, t, act)
		}
	case DrainInput:
		if now.Sub(p.TStateChanged) >= t.DrainToScout {
			p.enterScout(now, t, act)
		}
	case ScoutSent:
		if !now.Before(p.tNextRetry) {
			act.SendScout()
			p.tNextRetry = now.Add(t.ScoutInterval)
		}
	case Opening:
		if !now.Before(p.tNextRetry) {
			p.OpeningRetry++
			if p.OpeningRetry >= t.OpenRetries {
				p.enterScout(now, t, act)
				return
			}
			act.SendOpen(p.OpeningRetry)
			p.tNextRetry = now.Add(t.OpenInterval)
		}
	case Connected, Operational:
		if now.After(p.tLease) {
			act.CloseAndScout()
			p.OpeningRetry = 0
			p.enterScout(now, t, act)
		}
	}
}

// IsEstablished reports whether the peer has completed the OPEN/ACCEPT
// handshake and may carry application traffic (CONNECTED or
// OPERATIONAL).
func (p *Peer) IsEstablished() bool {
	return p.State == Connected || p.State == Operational
}
