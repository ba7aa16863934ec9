// Package da implements the data-availability sub-protocol: a
// committee of replicas votes to certify that a block's payload bytes
// are available, and a VID task separately certifies dispersal shares.
// Nothing in the teacher repo has a DA committee; this package
// generalizes the teacher's consensus.Task vote-collection/aggregation
// pattern (pkg/consensus/engine.go's leaderRound) to a second,
// smaller committee voting over different message kinds, with event
// cases grounded verbatim on original_source's events.rs
// (DAProposalRecv/Send, DAVoteRecv/Send, DACRecv/Send, VidDisperseSend/Recv,
// VidVoteSend/Recv, VidCertSend/Recv).
package da

import (
	"context"

	"go.uber.org/zap"

	"github.com/nyxrelay/quorumview/pkg/crypto"
	"github.com/nyxrelay/quorumview/pkg/eventbus"
	"github.com/nyxrelay/quorumview/pkg/stake"
	"github.com/nyxrelay/quorumview/pkg/storage"
	"github.com/nyxrelay/quorumview/pkg/types"
)

// PayloadSource supplies the raw payload bytes for a view the DA
// leader proposes availability for; the quorum task separately
// commits to PayloadCmt, and the DA task is responsible for making the
// underlying bytes recoverable.
type PayloadSource interface {
	PayloadFor(v types.View) []byte
}

// Task runs the DA committee vote/aggregate loop plus the parallel VID
// vote/aggregate loop, publishing DACRecv/VidCertRecv-equivalent
// certificates back onto the bus for the quorum task to reference.
type Task struct {
	ID        types.NodeID
	Table     *stake.Table
	Committee int // DA committee size, spec §4.3
	Signer    *crypto.BLSSigner
	Store     storage.Store
	Payloads  PayloadSource
	Log       *zap.Logger

	bus *eventbus.Bus

	daVotes  map[types.View][]types.Vote
	vidVotes map[types.View][]types.Vote
}

func NewTask(bus *eventbus.Bus, id types.NodeID, table *stake.Table, committee int,
	signer *crypto.BLSSigner, store storage.Store, payloads PayloadSource, log *zap.Logger) *Task {
	if log == nil {
		log = zap.NewNop()
	}
	return &Task{
		ID: id, Table: table, Committee: committee, Signer: signer, Store: store, Payloads: payloads, Log: log,
		bus: bus, daVotes: make(map[types.View][]types.Vote), vidVotes: make(map[types.View][]types.Vote),
	}
}

func (t *Task) isDAMember() bool { return t.Table.IsDACommitteeMember(t.ID, t.Committee) }

func (t *Task) Run(ctx context.Context) {
	events, unsub := t.bus.Subscribe("da")
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Kind {
			case eventbus.Shutdown:
				return
			case eventbus.DAProposalRecv:
				t.onDAProposal(e.Proposal)
			case eventbus.DAVoteRecv:
				t.onDAVote(e.Vote)
			case eventbus.VidDisperseRecv:
				t.onVIDDisperse(e.Proposal)
			case eventbus.VidVoteRecv:
				t.onVIDVote(e.Vote)
			case eventbus.ViewChange:
				if t.Table.DALeaderOf(e.View) == t.ID {
					t.proposeDA(e.View)
				}
				if t.Table.VIDLeaderOf(e.View) == t.ID {
					t.proposeVID(e.View)
				}
			}
		}
	}
}

func (t *Task) proposeDA(v types.View) {
	payload := t.Payloads.PayloadFor(v)
	t.bus.Publish(eventbus.Event{Kind: eventbus.BlockReady, View: v, Payload: payload})
	prop := types.Proposal{Kind: types.ProposalDA, DAPayload: payload, View: v, Proposer: t.ID}
	prop.Sig = t.Signer.Sign(daMessage(v, payload))
	t.bus.Publish(eventbus.Event{Kind: eventbus.DAProposalSend, View: v, Proposal: prop})
	t.onDAProposal(prop)
}

func (t *Task) onDAProposal(p types.Proposal) {
	if !t.isDAMember() {
		return
	}
	cmt := types.Hash(sha256Of(p.DAPayload))
	vote := types.Vote{Kind: types.KindDA, View: p.View, Cmt: cmt, From: t.ID}
	vote.SigShare = t.Signer.Sign(voteMsg(vote))
	t.bus.Publish(eventbus.Event{Kind: eventbus.DAVoteSend, View: p.View, Vote: vote})
	t.onDAVote(vote)
}

func (t *Task) onDAVote(v types.Vote) {
	if t.Table.DALeaderOf(v.View) != t.ID {
		return
	}
	t.daVotes[v.View] = append(t.daVotes[v.View], v)
	if cert, ok := aggregate(t.Table, t.daCommitteeThreshold(), t.daVotes[v.View], types.KindDA, v.View); ok {
		t.Store.PutCertificate(cert)
		t.bus.Publish(eventbus.Event{Kind: eventbus.DACSend, View: v.View, Cert: cert})
		delete(t.daVotes, v.View)
	}
}

func (t *Task) proposeVID(v types.View) {
	payload := t.Payloads.PayloadFor(v)
	// VID dispersal is opaque at this layer: the share is the payload
	// itself, standing in for an erasure-coded chunk a real VID scheme
	// would compute and distribute per-replica.
	prop := types.Proposal{Kind: types.ProposalVID, VIDShare: payload, View: v, Proposer: t.ID}
	prop.Sig = t.Signer.Sign(daMessage(v, payload))
	t.bus.Publish(eventbus.Event{Kind: eventbus.VidDisperseSend, View: v, Proposal: prop})
	t.onVIDDisperse(prop)
}

func (t *Task) onVIDDisperse(p types.Proposal) {
	cmt := types.Hash(sha256Of(p.VIDShare))
	vote := types.Vote{Kind: types.KindVID, View: p.View, Cmt: cmt, From: t.ID}
	vote.SigShare = t.Signer.Sign(voteMsg(vote))
	t.bus.Publish(eventbus.Event{Kind: eventbus.VidVoteSend, View: p.View, Vote: vote})
	t.onVIDVote(vote)
}

func (t *Task) onVIDVote(v types.Vote) {
	if t.Table.VIDLeaderOf(v.View) != t.ID {
		return
	}
	t.vidVotes[v.View] = append(t.vidVotes[v.View], v)
	if cert, ok := aggregate(t.Table, t.Table.Threshold(), t.vidVotes[v.View], types.KindVID, v.View); ok {
		t.Store.PutCertificate(cert)
		t.bus.Publish(eventbus.Event{Kind: eventbus.VidCertSend, View: v.View, Cert: cert})
		delete(t.vidVotes, v.View)
	}
}

// daCommitteeThreshold is the super-majority of the DA committee's
// stake, not the full validator set's: the DA committee is a fixed
// prefix of the stake table per spec §4.3, and only its own members'
// votes count toward a DAC.
func (t *Task) daCommitteeThreshold() uint64 {
	var total uint64
	for _, v := range t.Table.DACommittee(t.Committee) {
		total += v.Stake
	}
	return (2*total)/3 + 1
}

func aggregate(table *stake.Table, threshold uint64, votes []types.Vote, kind types.VoteKind, v types.View) (types.Certificate, bool) {
	seen := make(map[types.NodeID]bool)
	var total uint64
	var signers []types.NodeID
	var sigs [][]byte
	var cmt types.Hash
	for _, vote := range votes {
		if vote.Kind != kind || seen[vote.From] {
			continue
		}
		seen[vote.From] = true
		st, ok := table.StakeOf(vote.From)
		if !ok {
			continue
		}
		total += st
		signers = append(signers, vote.From)
		sigs = append(sigs, vote.SigShare)
		cmt = vote.Cmt
	}
	if total < threshold || len(signers) == 0 {
		return types.Certificate{}, false
	}
	agg := crypto.Aggregate(sigs)
	if agg == nil {
		return types.Certificate{}, false
	}
	return types.Certificate{Kind: kind, View: v, Cmt: cmt, Signers: signers, Sig: agg}, true
}

func voteMsg(v types.Vote) []byte {
	cmt := v.Cmt
	return cmt[:]
}

func daMessage(v types.View, payload []byte) []byte {
	h := sha256Of(payload)
	return h[:]
}
