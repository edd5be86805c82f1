// Package declare implements the DECLARE/DCOMMIT/DRESULT three-phase
// remote-subscription staging pipeline (spec.md §4.5). Declarations
// arriving in one DECLARE message are staged per-packet, folded into a
// session-wide staging area, and applied atomically only when a DCOMMIT
// confirms them.
package declare

import (
	"github.com/topcatse/zhe-go/internal/bitset"
	"github.com/topcatse/zhe-go/internal/icgcb"
	"github.com/topcatse/zhe-go/internal/wireproto"
)

// PublicationLookup resolves a resource id to the index of a matching
// local publication, reporting whether one exists.
type PublicationLookup func(rid uint64) (idx int, ok bool)

// Pipeline holds the three staging scopes described in spec.md §4.5:
// curpkt accumulates decisions made while decoding one DECLARE's
// declarations, precommit accumulates across DECLAREs until a DCOMMIT,
// and Applied is the committed remote-subscription state.
type Pipeline struct {
	maxPubs int

	// curpkt staging, valid only while decoding the current DECLARE.
	curpktRsubs           *bitset.Set
	curpktResult          byte
	curpktInvalidRid      uint64
	curpktCommitRequested bool
	curpktCommitID        uint64

	// precommit staging, accumulated across DECLAREs until DCOMMIT.
	precommitRsubs *bitset.Set

	// Applied is the committed remote-subscription bit vector: bit idx
	// set means the local publication at idx has at least one remote
	// subscriber.
	Applied *bitset.Set

	// names backs RESOURCE declarations (spec.md §2: "ICGCB used for
	// resource storage"): an rid's declared name is compacted in place
	// rather than held as individually GC'd Go strings.
	names    *icgcb.Arena
	nameRefs map[uint64]icgcb.Ref
	nextRef  icgcb.Ref
}

// New constructs a Pipeline sized for maxPubs local publication slots, with
// a nameArenaBytes-byte ICGCB arena backing RESOURCE declaration names.
func New(maxPubs, nameArenaBytes int) *Pipeline {
	return &Pipeline{
		maxPubs:        maxPubs,
		curpktRsubs:    bitset.New(maxPubs),
		precommitRsubs: bitset.New(maxPubs),
		Applied:        bitset.New(maxPubs),
		names:          icgcb.New(make([]byte, nameArenaBytes), 1),
		nameRefs:       make(map[uint64]icgcb.Ref),
	}
}

// BeginPacket resets the curpkt staging scope before decoding a new
// DECLARE's declarations.
func (p *Pipeline) BeginPacket() {
	p.curpktRsubs.ClearAll()
	p.curpktResult = 0
	p.curpktInvalidRid = 0
	p.curpktCommitRequested = false
	p.curpktCommitID = 0
}

// RegisterSub processes one DSUB declaration (spec.md §4.5
// rsub_register): if mode is PUSH and lookup finds a matching local
// publication, its bit is set in the curpkt staging; otherwise a failure
// reason bit is recorded and, if this is the first failure in the
// current packet, the offending rid is remembered.
func (p *Pipeline) RegisterSub(rid uint64, mode wireproto.SubMode, lookup PublicationLookup) {
	if mode == wireproto.SubModePush {
		if idx, ok := lookup(rid); ok {
			p.curpktRsubs.Set(idx)
			return
		}
		p.recordFailure(rid, wireproto.RsubFailUnknownRid)
		return
	}
	p.recordFailure(rid, wireproto.RsubFailNonPushMode)
}

// RegisterResource processes one RESOURCE declaration, binding rid to name
// for later lookup via ResourceName. Storage is best-effort: if the name
// arena is full after a compaction attempt, the binding is simply dropped
// (a missing name falls back to the bare numeric rid at the call site; it
// never blocks protocol progress).
func (p *Pipeline) RegisterResource(rid uint64, name []byte) {
	if old, ok := p.nameRefs[rid]; ok {
		p.names.Free(old)
		delete(p.nameRefs, rid)
	}
	ref := p.nextRef
	p.nextRef++
	if p.nextRef == icgcb.RefInvalid {
		p.nextRef = 0
	}
	result := p.names.Alloc(len(name), ref)
	if result == icgcb.Again {
		p.names.GC(nil, nil)
		result = p.names.Alloc(len(name), ref)
	}
	if result != icgcb.OK {
		return
	}
	data, err := p.names.Resolve(ref)
	if err != nil {
		return
	}
	copy(data, name)
	p.nameRefs[rid] = ref
}

// ResourceName returns the name most recently bound to rid by a RESOURCE
// declaration, if any is still stored.
func (p *Pipeline) ResourceName(rid uint64) (name []byte, ok bool) {
	ref, ok := p.nameRefs[rid]
	if !ok {
		return nil, false
	}
	data, err := p.names.Resolve(ref)
	if err != nil {
		return nil, false
	}
	return data, true
}

// RegisterSelection records a SELECTION declaration's unconditional
// failure bit (spec.md §4.5: selections are not supported by rsub_register
// and always fail).
func (p *Pipeline) RegisterSelection(rid uint64) {
	p.recordFailure(rid, wireproto.RsubFailSelections)
}

// RegisterBindID records a BINDID declaration's unconditional failure bit.
func (p *Pipeline) RegisterBindID(rid uint64) {
	p.recordFailure(rid, wireproto.RsubFailBindings)
}

// RegisterDeleteRes records a DELETERES declaration's unconditional
// failure bit.
func (p *Pipeline) RegisterDeleteRes(rid uint64) {
	p.recordFailure(rid, wireproto.RsubFailDeleteRes)
}

// RequestCommit records that the current DECLARE carried a DCOMMIT
// declaration with the given commit id (spec.md §4.5: "On DCOMMIT, apply
// precommit staging and reply with DRESULT"). A DECLARE with no DCOMMIT
// declaration never calls this, and MustCommit stays false for it: the
// staged subscriptions accumulate in precommit and wait for a later
// DECLARE's DCOMMIT.
func (p *Pipeline) RequestCommit(commitID uint64) {
	p.curpktCommitRequested = true
	p.curpktCommitID = commitID
}

func (p *Pipeline) recordFailure(rid uint64, reason byte) {
	if p.curpktResult == 0 {
		p.curpktInvalidRid = rid
	}
	p.curpktResult |= reason
}

// CommitPacket folds curpkt staging into precommit staging after a DECLARE
// decodes successfully in full (spec.md §4.5: "curpkt staging is merged
// into packet-level staging"). Call AbortPacket instead on a decode
// failure partway through.
func (p *Pipeline) CommitPacket() {
	bitset.OrInto(p.precommitRsubs, p.curpktRsubs)
}

// AbortPacket discards curpkt staging on a decode failure partway through
// a DECLARE (spec.md §4.5: "curpkt is discarded").
func (p *Pipeline) AbortPacket() {
	p.curpktRsubs.ClearAll()
	p.curpktResult = 0
	p.curpktInvalidRid = 0
}

// MustCommit reports whether the DECLARE just decoded carried a DCOMMIT
// declaration, i.e. DCommit should be called and its result reported back
// in a DRESULT. A DECLARE containing only DSUB/SELECTION/etc. declarations
// with no DCOMMIT leaves this false: its staging folds into precommit and
// waits for a later DCOMMIT.
func (p *Pipeline) MustCommit() bool { return p.curpktCommitRequested }

// DCommit applies precommit staging to Applied (spec.md §4.5: "commit
// precommit_rsubs into rsubs with bitwise OR") and reports the result code
// and the id named by the triggering DCOMMIT, to send back in a DRESULT,
// plus the first offending rid if nonzero. A zero result commits; a nonzero
// result leaves Applied untouched. Precommit staging is cleared in both
// cases.
func (p *Pipeline) DCommit() (commitID uint64, result byte, errRid uint64) {
	commitID = p.curpktCommitID
	result, errRid = p.curpktResult, p.curpktInvalidRid
	if result == 0 {
		bitset.OrInto(p.Applied, p.precommitRsubs)
	}
	p.precommitRsubs.ClearAll()
	p.curpktResult = 0
	p.curpktInvalidRid = 0
	p.curpktCommitRequested = false
	p.curpktCommitID = 0
	return commitID, result, errRid
}

// Reset clears every staging scope and the applied state, e.g. on session
// close (spec.md §4.6 close_connection_and_scout: "clear rsubs").
func (p *Pipeline) Reset() {
	p.curpktRsubs.ClearAll()
	p.precommitRsubs.ClearAll()
	p.Applied.ClearAll()
	p.curpktResult = 0
	p.curpktInvalidRid = 0
	p.curpktCommitRequested = false
	p.curpktCommitID = 0
	p.names = icgcb.New(make([]byte, p.names.Cap()), 1)
	p.nameRefs = make(map[uint64]icgcb.Ref)
	p.nextRef = 0
}
