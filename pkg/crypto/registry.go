package crypto

import (
	"sync"

	"github.com/nyxrelay/quorumview/pkg/stake"
	"github.com/nyxrelay/quorumview/pkg/types"
)

// Registry maps validator identities to their BLS public keys, so any
// replica can verify a certificate's signers against the stake table
// without a central authority (spec §3: "each certificate is
// self-verifying").
type Registry struct {
	mu   sync.RWMutex
	keys map[types.NodeID]*BLSPubKey
}

func NewRegistry() *Registry { return &Registry{keys: make(map[types.NodeID]*BLSPubKey)} }

func (r *Registry) Register(id types.NodeID, pk *BLSPubKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[id] = pk
}

func (r *Registry) Lookup(id types.NodeID) (*BLSPubKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pk, ok := r.keys[id]
	return pk, ok
}

// VerifyCertificate checks that a certificate's signers are distinct
// members of the stake table whose combined stake meets the
// threshold, and that the aggregated signature verifies over the
// certificate's commitment (spec invariant 2).
func (r *Registry) VerifyCertificate(table *stake.Table, c types.Certificate) bool {
	if len(c.Signers) == 0 {
		return false
	}
	seen := make(map[types.NodeID]bool, len(c.Signers))
	var total uint64
	pks := make([]*BLSPubKey, 0, len(c.Signers))
	for _, id := range c.Signers {
		if seen[id] {
			return false // duplicate signer
		}
		seen[id] = true
		st, ok := table.StakeOf(id)
		if !ok {
			return false // not a stake-table member
		}
		total += st
		pk, ok := r.Lookup(id)
		if !ok {
			return false
		}
		pks = append(pks, pk)
	}
	if total < table.Threshold() {
		return false
	}
	return VerifyAggregateSameMsg(pks, c.Cmt[:], c.Sig)
}
