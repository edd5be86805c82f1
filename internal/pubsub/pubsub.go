// Package pubsub implements the local publication/subscription tables and
// inbound dispatch (spec.md §4.7 "Pub/Sub registry and dispatch").
package pubsub

import "github.com/topcatse/zhe-go/internal/bitset"

// Publication is one local publish() registration.
type Publication struct {
	Rid       uint64
	Reliable  bool
	ConduitID int
}

// Handler is the subscriber callback invoked on dispatch, matching
// spec.md §6's "(prid, len, bytes, arg)" signature minus the opaque arg,
// which Go closures capture instead.
type Handler func(prid uint64, payload []byte)

// Subscription is one local subscribe() registration.
type Subscription struct {
	Rid       uint64
	XmitNeed  int
	ConduitID int
	Handler   Handler
}

// Registry holds the fixed-capacity publication and subscription tables
// plus the declare-queue bitmaps that drive outbound DECLARE messages.
type Registry struct {
	pubs []Publication
	subs []Subscription

	// PubsToDeclare and SubsToDeclare mark slots awaiting an outbound
	// PUB/SUB declaration (spec.md §4.7: "mark pubs_to_declare[idx]").
	PubsToDeclare *bitset.Set
	SubsToDeclare *bitset.Set
}

// New constructs a Registry with the given fixed slot counts.
func New(maxPubs, maxSubs int) *Registry {
	return &Registry{
		pubs:          make([]Publication, maxPubs),
		subs:          make([]Subscription, maxSubs),
		PubsToDeclare: bitset.New(maxPubs),
		SubsToDeclare: bitset.New(maxSubs),
	}
}

// Publish registers a new publication, returning its slot index and false
// if every slot is occupied (rid != 0 in every entry).
func (r *Registry) Publish(rid uint64, reliable bool, conduitID int) (idx int, ok bool) {
	for i := range r.pubs {
		if r.pubs[i].Rid == 0 {
			r.pubs[i] = Publication{Rid: rid, Reliable: reliable, ConduitID: conduitID}
			r.PubsToDeclare.Set(i)
			return i, true
		}
	}
	return 0, false
}

// Subscribe registers a new subscription, returning its slot index and
// false if every slot is occupied.
func (r *Registry) Subscribe(rid uint64, xmitneed, conduitID int, handler Handler) (idx int, ok bool) {
	for i := range r.subs {
		if r.subs[i].Rid == 0 {
			r.subs[i] = Subscription{Rid: rid, XmitNeed: xmitneed, ConduitID: conduitID, Handler: handler}
			r.SubsToDeclare.Set(i)
			return i, true
		}
	}
	return 0, false
}

// Pub returns the publication at idx.
func (r *Registry) Pub(idx int) Publication { return r.pubs[idx] }

// Sub returns the subscription at idx.
func (r *Registry) Sub(idx int) Subscription { return r.subs[idx] }

// NPubs and NSubs report the fixed table sizes.
func (r *Registry) NPubs() int { return len(r.pubs) }
func (r *Registry) NSubs() int { return len(r.subs) }

// LookupPub resolves rid to a publication slot index; suitable as a
// declare.PublicationLookup.
func (r *Registry) LookupPub(rid uint64) (idx int, ok bool) {
	for i := range r.pubs {
		if r.pubs[i].Rid == rid {
			return i, true
		}
	}
	return 0, false
}

// LookupSub resolves an inbound sample's resource id (prid) to a
// subscription slot index.
func (r *Registry) LookupSub(prid uint64) (idx int, ok bool) {
	for i := range r.subs {
		if r.subs[i].Rid == prid {
			return i, true
		}
	}
	return 0, false
}

// WriteResult classifies the outcome of Write, matching spec.md §4.7 /
// §7's three write outcomes.
type WriteResult int

const (
	// WriteOK: the sample was handed to a conduit.
	WriteOK WriteResult = iota
	// WriteReliableFull: the reliable conduit had no room; caller must
	// treat this as failure.
	WriteReliableFull
	// WriteUnreliableDropped: the unreliable conduit had no room; the
	// sample is silently dropped and the call still reports success to
	// its own caller (the Engine distinguishes this from WriteOK only
	// for metrics).
	WriteUnreliableDropped
	// WriteNoSubscriber: rsubs was clear for this publication; no I/O
	// was attempted.
	WriteNoSubscriber
)

// Reserve abstracts the two kinds of conduit reservation write() needs:
// the Engine supplies a closure that either reserves room on the bound
// reliable window or reports no room, or reserves (always-succeeding,
// possibly as a drop) room on the bound unreliable path.
type Reserve func(pub Publication, payload []byte) (full bool)

// Write implements spec.md §4.7 write(): if rsubs[idx] is clear, it
// succeeds vacuously. Otherwise it delegates the actual reservation
// (reliable or unreliable) to reliableReserve/unreliableReserve and
// classifies the outcome.
func (r *Registry) Write(idx int, payload []byte, rsubs *bitset.Set, reliableReserve, unreliableReserve Reserve) WriteResult {
	if !rsubs.Test(idx) {
		return WriteNoSubscriber
	}
	pub := r.pubs[idx]
	if pub.Reliable {
		if full := reliableReserve(pub, payload); full {
			return WriteReliableFull
		}
		return WriteOK
	}
	if full := unreliableReserve(pub, payload); full {
		return WriteUnreliableDropped
	}
	return WriteOK
}

// FreeBytes reports the free byte count a subscription's bound conduit
// currently offers; the Engine supplies this via a closure over its
// OutConduit table since Registry does not hold conduits itself.
type FreeBytes func(conduitID int) int

// Dispatch implements spec.md §4.7's inbound SDATA dispatch: if no
// subscription matches prid, the cursor still advances (handled by the
// caller; Dispatch only decides whether to invoke a handler) and
// Dispatch reports false. If a match exists but its xmitneed is unmet,
// the sample is dropped without advancing the cursor — callers must only
// advance the incoming conduit cursor when Dispatch reports true, or
// when no subscription matched at all.
func (r *Registry) Dispatch(prid uint64, payload []byte, freeBytes FreeBytes) (matched, delivered bool) {
	idx, ok := r.LookupSub(prid)
	if !ok {
		return false, false
	}
	sub := r.subs[idx]
	if freeBytes(sub.ConduitID) < sub.XmitNeed {
		return true, false
	}
	if sub.Handler != nil {
		sub.Handler(prid, payload)
	}
	return true, true
}

// RequeueAllForDeclare sets the declare-queue bit of every occupied
// publication and subscription slot, repopulating both queues from the
// live tables after a session close (spec.md §4.6
// close_connection_and_scout: "repopulate pubs_to_declare and
// subs_to_declare from the live tables").
func (r *Registry) RequeueAllForDeclare() {
	for i := range r.pubs {
		if r.pubs[i].Rid != 0 {
			r.PubsToDeclare.Set(i)
		}
	}
	for i := range r.subs {
		if r.subs[i].Rid != 0 {
			r.SubsToDeclare.Set(i)
		}
	}
}
