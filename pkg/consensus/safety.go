// Package consensus implements the quorum (block) voting path: safety
// rules, the pacemaker, leader election and the task loop tying them
// to the event bus. Grounded on the teacher's pkg/consensus package,
// generalized from a single always-QC fast path to the full
// HotStuff-family normal path plus timeout path and three-chain commit
// rule.
package consensus

import (
	"sync"

	"github.com/nyxrelay/quorumview/pkg/crypto"
	"github.com/nyxrelay/quorumview/pkg/stake"
	"github.com/nyxrelay/quorumview/pkg/storage"
	"github.com/nyxrelay/quorumview/pkg/types"
)

// Safety holds the locked leaf and the highest-seen certificate, and
// answers the single question every vote and every commit decision
// reduces to: is it safe to extend this leaf? Grounded on the
// teacher's Safety type, generalized from one Locked+HighCert pair to
// tracking the three-element chain needed for the commit rule.
type Safety struct {
	mu sync.Mutex

	table  *stake.Table
	reg    *crypto.Registry
	store  storage.Store

	lockedLeaf types.Leaf
	highQC     types.Certificate
	chain      []types.Leaf // consecutive-by-view leaves since the last break, newest last
}

func NewSafety(table *stake.Table, reg *crypto.Registry, store storage.Store, genesis types.Leaf) *Safety {
	return &Safety{
		table:      table,
		reg:        reg,
		store:      store,
		lockedLeaf: genesis,
		chain:      []types.Leaf{genesis},
	}
}

func (s *Safety) LockedLeaf() types.Leaf {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedLeaf
}

func (s *Safety) HighQC() types.Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highQC
}

// CanVote implements the safe-node predicate (spec invariant 1): a
// replica votes for a leaf extending its justifying QC only if that
// QC's view is no older than the locked leaf's view (liveness rule)
// or the leaf directly extends the locked leaf (safety rule).
func (s *Safety) CanVote(l types.Leaf) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.JustifyQC.View >= s.lockedLeaf.View {
		return true
	}
	return l.Parent == types.HashLeaf(s.lockedLeaf)
}

// commitResult reports a leaf newly committed by the three-chain rule,
// along with the chain of leaves (oldest first, inclusive of previously
// undecided ancestors) that became final.
type commitResult struct {
	committed []types.Leaf
}

// OnQC folds a newly-observed QC into the safety state: it updates the
// high QC watermark, extends or resets the consecutive-view chain, and
// fires the three-chain commit rule when three consecutive views each
// justified by a QC stack up. A TC anywhere breaks the chain (spec open
// question resolution): the commit rule only ever fires across a run of
// QC-justified, strictly consecutive views.
func (s *Safety) OnQC(qc types.Certificate, leaf types.Leaf) commitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qc.View > s.highQC.View || s.highQC.IsZero() {
		s.highQC = qc
	}

	if len(s.chain) > 0 {
		top := s.chain[len(s.chain)-1]
		if leaf.Parent == types.HashLeaf(top) && leaf.View == top.View+1 {
			s.chain = append(s.chain, leaf)
		} else {
			s.chain = []types.Leaf{leaf}
		}
	} else {
		s.chain = []types.Leaf{leaf}
	}

	// Locked leaf always advances to the newest leaf's parent (the
	// subject of its justifying QC), i.e. one step behind the tip.
	if len(s.chain) >= 2 {
		s.lockedLeaf = s.chain[len(s.chain)-2]
	}

	var res commitResult
	if len(s.chain) >= 3 {
		decided := s.chain[len(s.chain)-3]
		res.committed = []types.Leaf{decided}
		// Slide the window forward; keep the trailing two so the next
		// consecutive leaf can still extend a three-chain.
		s.chain = s.chain[len(s.chain)-2:]
	}
	return res
}

// OnTimeout breaks any in-progress consecutive-view chain: a TC means
// the view just ended without a QC, so no three-chain can span it.
func (s *Safety) OnTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = nil
}

// VerifyProposal checks a proposal's justifying certificate against
// the stake table and public-key registry before the replica votes on
// it (spec invariant 2: certificate soundness).
func (s *Safety) VerifyProposal(p types.Proposal) bool {
	if p.Leaf.JustifyQC.IsZero() {
		return p.Leaf.View == 0 // only genesis may be unjustified
	}
	return s.reg.VerifyCertificate(s.table, p.Leaf.JustifyQC)
}
