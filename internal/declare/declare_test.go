package declare

import (
	"testing"

	"github.com/topcatse/zhe-go/internal/wireproto"
)

func TestSuccessfulDeclareAndCommit(t *testing.T) {
	p := New(8, 64)
	lookup := func(rid uint64) (int, bool) {
		if rid == 7 {
			return 3, true
		}
		return 0, false
	}

	p.BeginPacket()
	p.RegisterSub(7, wireproto.SubModePush, lookup)
	p.CommitPacket()

	if p.MustCommit() {
		t.Fatal("MustCommit should be false: no DCOMMIT decoded yet")
	}

	p.BeginPacket()
	p.RequestCommit(42)
	p.CommitPacket()

	if !p.MustCommit() {
		t.Fatal("expected MustCommit true after a DCOMMIT-bearing DECLARE")
	}

	commitID, result, errRid := p.DCommit()
	if commitID != 42 {
		t.Fatalf("commitID = %d, want 42", commitID)
	}
	if result != 0 {
		t.Fatalf("result = %d, want 0", result)
	}
	if errRid != 0 {
		t.Fatalf("errRid = %d, want 0", errRid)
	}
	if !p.Applied.Test(3) {
		t.Fatal("expected Applied bit 3 set after commit")
	}
	if p.MustCommit() {
		t.Fatal("MustCommit should be false immediately after DCommit")
	}
}

func TestDeclareWithoutCommitAccumulatesAndStaysUncommitted(t *testing.T) {
	p := New(8, 64)
	lookup := func(rid uint64) (int, bool) { return 3, true }

	p.BeginPacket()
	p.RegisterSub(7, wireproto.SubModePush, lookup)
	p.CommitPacket()

	if p.MustCommit() {
		t.Fatal("a DECLARE with no DCOMMIT must not trigger a commit")
	}
	if p.Applied.Test(3) {
		t.Fatal("Applied must stay empty until a DCOMMIT arrives")
	}

	// A second plain DECLARE still doesn't commit; the staged subscription
	// from the first DECLARE is still only in precommit staging.
	p.BeginPacket()
	p.CommitPacket()
	if p.MustCommit() {
		t.Fatal("a second DCOMMIT-less DECLARE must not trigger a commit")
	}

	// The DCOMMIT finally arrives in a third DECLARE and applies everything
	// staged so far.
	p.BeginPacket()
	p.RequestCommit(1)
	p.CommitPacket()
	if !p.MustCommit() {
		t.Fatal("expected MustCommit true once a DCOMMIT is decoded")
	}
	_, result, _ := p.DCommit()
	if result != 0 {
		t.Fatalf("result = %d, want 0", result)
	}
	if !p.Applied.Test(3) {
		t.Fatal("expected Applied bit 3 set once DCOMMIT lands")
	}
}

func TestUnknownRidFailsAndIsNotApplied(t *testing.T) {
	p := New(8, 64)
	lookup := func(rid uint64) (int, bool) { return 0, false }

	p.BeginPacket()
	p.RegisterSub(99, wireproto.SubModePush, lookup)
	p.RequestCommit(1)
	p.CommitPacket()

	_, result, errRid := p.DCommit()
	if result&wireproto.RsubFailUnknownRid == 0 {
		t.Fatalf("expected unknown-rid bit set in result %08b", result)
	}
	if errRid != 99 {
		t.Fatalf("errRid = %d, want 99", errRid)
	}
	if p.Applied.FindFirst() != -1 {
		t.Fatal("Applied must remain empty after a failed commit")
	}
}

func TestAbortPacketDiscardsCurpktOnly(t *testing.T) {
	p := New(8, 64)
	lookup := func(rid uint64) (int, bool) { return int(rid), true }

	p.BeginPacket()
	p.RegisterSub(1, wireproto.SubModePush, lookup)
	p.CommitPacket() // first DECLARE succeeds and folds

	p.BeginPacket()
	p.RegisterSub(2, wireproto.SubModePush, lookup)
	p.AbortPacket() // second DECLARE fails partway through; curpkt discarded

	p.BeginPacket()
	p.RequestCommit(1)
	p.CommitPacket()
	_, result, _ := p.DCommit()
	if result != 0 {
		t.Fatalf("result = %d, want 0 (aborted packet contributed nothing)", result)
	}
	if !p.Applied.Test(1) {
		t.Fatal("expected bit 1 (from the successful DECLARE) applied")
	}
	if p.Applied.Test(2) {
		t.Fatal("bit 2 (from the aborted DECLARE) must not be applied")
	}
}

func TestDCommitWithNoStagedChangesIsNoop(t *testing.T) {
	p := New(8, 64)
	p.BeginPacket()
	p.RequestCommit(1)
	p.CommitPacket()
	_, result, errRid := p.DCommit()
	if result != 0 || errRid != 0 {
		t.Fatalf("DCommit with nothing staged: result=%d errRid=%d, want 0,0", result, errRid)
	}
	if p.Applied.FindFirst() != -1 {
		t.Fatal("Applied must remain empty")
	}
}

func TestResetClearsAppliedState(t *testing.T) {
	p := New(8, 64)
	p.BeginPacket()
	p.RegisterSub(1, wireproto.SubModePush, func(uint64) (int, bool) { return 0, true })
	p.RequestCommit(1)
	p.CommitPacket()
	p.DCommit()
	if p.Applied.FindFirst() != 0 {
		t.Fatal("expected Applied bit set before Reset")
	}
	p.Reset()
	if p.Applied.FindFirst() != -1 {
		t.Fatal("expected Applied cleared after Reset")
	}
}

func TestRegisterResourceStoresAndRebindsName(t *testing.T) {
	p := New(8, 64)
	p.RegisterResource(7, []byte("/demo/temperature"))
	name, ok := p.ResourceName(7)
	if !ok || string(name) != "/demo/temperature" {
		t.Fatalf("ResourceName(7) = %q, %v", name, ok)
	}

	p.RegisterResource(7, []byte("/demo/humidity"))
	name, ok = p.ResourceName(7)
	if !ok || string(name) != "/demo/humidity" {
		t.Fatalf("rebound ResourceName(7) = %q, %v", name, ok)
	}

	if _, ok := p.ResourceName(99); ok {
		t.Fatal("expected no name bound for an undeclared rid")
	}

	p.Reset()
	if _, ok := p.ResourceName(7); ok {
		t.Fatal("expected resource names cleared after Reset")
	}
}
