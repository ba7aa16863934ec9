// Package storage holds durable and in-memory implementations of the
// leaf/certificate store, generalizing the teacher's single-QC
// InMemoryBlockStore/PebbleStore pair to every certificate kind the
// protocol produces (QC, TC, DAC, VIDC, the three view-sync
// certificates).
package storage

import "github.com/nyxrelay/quorumview/pkg/types"

// Store is the durable state every task reads and writes: leaves keyed
// by their own hash, certificates keyed by (kind, view), and the
// decided (committed) chain.
type Store interface {
	PutLeaf(l types.Leaf) error
	GetLeaf(h types.Hash) (types.Leaf, bool, error)

	PutCertificate(c types.Certificate) error
	GetCertificate(kind types.VoteKind, v types.View) (types.Certificate, bool, error)
	HighestCertificate(kind types.VoteKind) (types.Certificate, bool, error)

	AppendDecided(l types.Leaf) error
	DecidedChain() ([]types.Leaf, error)

	Close() error
}
