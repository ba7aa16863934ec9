package consensus

import (
	"testing"

	"github.com/nyxrelay/quorumview/pkg/crypto"
	"github.com/nyxrelay/quorumview/pkg/stake"
	"github.com/nyxrelay/quorumview/pkg/storage"
	"github.com/nyxrelay/quorumview/pkg/types"
)

func testTable() *stake.Table {
	return stake.NewTable([]stake.Validator{
		{ID: "n0", Stake: 1}, {ID: "n1", Stake: 1}, {ID: "n2", Stake: 1}, {ID: "n3", Stake: 1},
	})
}

func TestCanVoteAllowsExtendingLockedLeaf(t *testing.T) {
	table := testTable()
	reg := crypto.NewRegistry()
	store := storage.NewMemStore()
	genesis := GenesisLeaf()
	s := NewSafety(table, reg, store, genesis)

	child := types.Leaf{Parent: types.HashLeaf(genesis), View: 1, Height: 1}
	if !s.CanVote(child) {
		t.Fatal("expected to be able to vote for a leaf directly extending the locked leaf")
	}
}

func TestCanVoteRejectsStaleJustificationOffLockedChain(t *testing.T) {
	table := testTable()
	reg := crypto.NewRegistry()
	store := storage.NewMemStore()
	genesis := GenesisLeaf()
	s := NewSafety(table, reg, store, genesis)

	// Lock on a view-5 leaf directly.
	s.lockedLeaf = types.Leaf{View: 5, Height: 5}

	// A competing leaf that neither extends the lock nor carries a
	// justification at or after view 5 must be rejected.
	rogue := types.Leaf{Parent: types.HashLeaf(genesis), View: 6, Height: 2, JustifyQC: types.Certificate{View: 2}}
	if s.CanVote(rogue) {
		t.Fatal("expected safe-node predicate to reject a stale, non-extending leaf")
	}
}

func TestOnQCCommitsAfterThreeConsecutiveViews(t *testing.T) {
	table := testTable()
	reg := crypto.NewRegistry()
	store := storage.NewMemStore()
	genesis := GenesisLeaf()
	s := NewSafety(table, reg, store, genesis)

	prev := genesis
	var lastResult commitResult
	for v := types.View(1); v <= 3; v++ {
		leaf := types.Leaf{Parent: types.HashLeaf(prev), View: v, Height: types.Height(v)}
		qc := types.Certificate{Kind: types.KindQuorum, View: v - 1, Cmt: types.HashLeaf(prev)}
		lastResult = s.OnQC(qc, leaf)
		prev = leaf
	}
	if len(lastResult.committed) != 1 {
		t.Fatalf("expected exactly one leaf committed on the third consecutive QC, got %d", len(lastResult.committed))
	}
	if lastResult.committed[0].View != 1 {
		t.Fatalf("expected the first leaf of the three-chain to be decided, got view %d", lastResult.committed[0].View)
	}
}

func TestOnTimeoutBreaksConsecutiveChain(t *testing.T) {
	table := testTable()
	reg := crypto.NewRegistry()
	store := storage.NewMemStore()
	genesis := GenesisLeaf()
	s := NewSafety(table, reg, store, genesis)

	leaf1 := types.Leaf{Parent: types.HashLeaf(genesis), View: 1, Height: 1}
	s.OnQC(types.Certificate{Kind: types.KindQuorum, View: 0}, leaf1)

	s.OnTimeout()

	leaf2 := types.Leaf{Parent: types.HashLeaf(leaf1), View: 3, Height: 2}
	res := s.OnQC(types.Certificate{Kind: types.KindQuorum, View: 2}, leaf2)
	if len(res.committed) != 0 {
		t.Fatal("expected no commit immediately after a timeout resets the chain")
	}
}
