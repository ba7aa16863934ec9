// Package stake holds the fixed validator stake table and the
// stake-weighted quantities derived from it (total stake, the
// super-majority threshold, the DA-committee prefix).
package stake

import "github.com/nyxrelay/quorumview/pkg/types"

type Validator struct {
	ID    types.NodeID
	Stake uint64
}

// Table is an ordered mapping from validator identity to stake,
// fixed for the lifetime of a protocol instance (reconfiguration is
// out of scope, per spec.md §3).
type Table struct {
	validators []Validator
	index      map[types.NodeID]int
}

func NewTable(vs []Validator) *Table {
	t := &Table{validators: append([]Validator(nil), vs...), index: make(map[types.NodeID]int, len(vs))}
	for i, v := range t.validators {
		t.index[v.ID] = i
	}
	return t
}

func (t *Table) Validators() []Validator { return t.validators }

func (t *Table) N() int { return len(t.validators) }

func (t *Table) StakeOf(id types.NodeID) (uint64, bool) {
	i, ok := t.index[id]
	if !ok {
		return 0, false
	}
	return t.validators[i].Stake, true
}

func (t *Table) Total() uint64 {
	var s uint64
	for _, v := range t.validators {
		s += v.Stake
	}
	return s
}

// Threshold is the super-majority stake threshold: ⌊2S/3⌋ + 1.
func (t *Table) Threshold() uint64 {
	return (2*t.Total())/3 + 1
}

// ViewSyncThreshold is the subset of stake that triggers view-sync:
// ⌊S/3⌋ + 1, i.e. enough that honest replicas cannot avoid seeing it.
func (t *Table) ViewSyncThreshold() uint64 {
	return t.Total()/3 + 1
}

// DACommittee returns the first `size` entries of the ordered stake
// table, the deterministic DA-committee prefix of spec §4.3.
func (t *Table) DACommittee(size int) []Validator {
	if size > len(t.validators) {
		size = len(t.validators)
	}
	return append([]Validator(nil), t.validators[:size]...)
}

func (t *Table) IsDACommitteeMember(id types.NodeID, size int) bool {
	i, ok := t.index[id]
	return ok && i < size
}

// LeaderOf deterministically elects the leader of view v by round
// robin over the full validator set.
func (t *Table) LeaderOf(v types.View) types.NodeID {
	if len(t.validators) == 0 {
		return ""
	}
	idx := int(v) % len(t.validators)
	return t.validators[idx].ID
}

// DALeaderOf is the DA leader of view v. The DA task proposes
// availability data for the same view the quorum leader proposes a
// block for, so the DA leader of v is the quorum leader of v.
func (t *Table) DALeaderOf(v types.View) types.NodeID {
	return t.LeaderOf(v)
}

// VIDLeaderOf is the VID leader of view v: per spec §4.3, "same
// identity as DA leader of the next view".
func (t *Table) VIDLeaderOf(v types.View) types.NodeID {
	return t.DALeaderOf(v + 1)
}
