// Package types holds the wire-level data model shared by every task:
// views, leaves, proposals, votes and certificates.
package types

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type View uint64
type Height uint64

// NodeID identifies a validator by its stable public identity string
// (hex-encoded BLS public key, in practice).
type NodeID string

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

var ZeroHash Hash

// VoteKind is the closed set of vote/certificate kinds from spec §3.
type VoteKind int

const (
	KindQuorum VoteKind = iota
	KindTimeout
	KindDA
	KindVID
	KindViewSyncPreCommit
	KindViewSyncCommit
	KindViewSyncFinalize
)

func (k VoteKind) String() string {
	switch k {
	case KindQuorum:
		return "quorum"
	case KindTimeout:
		return "timeout"
	case KindDA:
		return "da"
	case KindVID:
		return "vid"
	case KindViewSyncPreCommit:
		return "view_sync_precommit"
	case KindViewSyncCommit:
		return "view_sync_commit"
	case KindViewSyncFinalize:
		return "view_sync_finalize"
	default:
		return "unknown"
	}
}

// ProposalKind distinguishes the three proposal payload shapes of §3.
type ProposalKind int

const (
	ProposalQuorum ProposalKind = iota
	ProposalDA
	ProposalVID
)

// Leaf is the unit of decision. Leaves form a tree rooted at genesis;
// the decided chain is the prefix on which the three-chain rule fired.
type Leaf struct {
	Parent     Hash
	View       View
	Height     Height
	PayloadCmt Hash // commitment to the block payload
	Metadata   []byte
	Proposer   NodeID
	JustifyQC  Certificate // the QC (or TC) that justifies this leaf
	Time       time.Time
}

// HashLeaf computes the consensus commitment of a leaf. The QC/TC that
// justifies the leaf is deliberately excluded: a leaf's identity is
// its own content, not the certificate that preceded it.
func HashLeaf(l Leaf) Hash {
	h := sha256.New()
	var buf [8]byte
	h.Write(l.Parent[:])
	binary.BigEndian.PutUint64(buf[:], uint64(l.View))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(l.Height))
	h.Write(buf[:])
	h.Write(l.PayloadCmt[:])
	h.Write(l.Metadata)
	h.Write([]byte(l.Proposer))
	binary.BigEndian.PutUint64(buf[:], uint64(l.Time.UnixNano()))
	h.Write(buf[:])
	return sha256.Sum256(h.Sum(nil))
}

// Proposal is a signed envelope carrying one of the three payload kinds.
type Proposal struct {
	Kind      ProposalKind
	Leaf      Leaf   // for ProposalQuorum
	DAPayload []byte // for ProposalDA: raw block-payload bytes
	VIDShare  []byte // for ProposalVID: opaque dispersal share
	View      View
	Proposer  NodeID
	Sig       []byte
}

// Vote is a signed assertion over a (view, commitment, kind) tuple.
type Vote struct {
	Kind     VoteKind
	View     View
	Cmt      Hash
	From     NodeID
	SigShare []byte
}

// Certificate aggregates votes that met the stake threshold.
type Certificate struct {
	Kind    VoteKind
	View    View
	Cmt     Hash
	Signers []NodeID
	Sig     []byte // aggregated signature
}

func (c Certificate) IsZero() bool { return c.Signers == nil && c.Sig == nil && c.View == 0 && c.Cmt == ZeroHash }

// DoubleCert is a pair of consecutive certificates; no code path in
// this module builds or reads one.
type DoubleCert struct{ C1, C2 Certificate }
