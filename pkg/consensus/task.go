package consensus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nyxrelay/quorumview/pkg/crypto"
	"github.com/nyxrelay/quorumview/pkg/eventbus"
	"github.com/nyxrelay/quorumview/pkg/stake"
	"github.com/nyxrelay/quorumview/pkg/storage"
	"github.com/nyxrelay/quorumview/pkg/types"
)

// AppHook lets the host supply block payloads and observe commits,
// grounded on the teacher's AppHook interface (PreparePayload,
// OnCommit), kept narrow because transaction execution is out of
// scope.
type AppHook interface {
	PreparePayload(v types.View, maxBytes int) (payloadCmt types.Hash, metadata []byte)
	OnCommit(l types.Leaf)
}

// RoundTiming holds the proposer-side timing gate of spec §4.2 step
// 1(b): a leader must wait at least this long since view entry before
// proposing, and never longer than the max before proposing with
// whatever payload commitment is available. Grounded on
// original_source's TimingData{round_start_delay, propose_min_round_time,
// propose_max_round_time}.
type RoundTiming struct {
	RoundStartDelay     time.Duration
	ProposeMinRoundTime time.Duration
	ProposeMaxRoundTime time.Duration
}

// minWait is the larger of the two lower bounds a leader must clear
// before proposing.
func (rt RoundTiming) minWait() time.Duration {
	if rt.ProposeMinRoundTime > rt.RoundStartDelay {
		return rt.ProposeMinRoundTime
	}
	return rt.RoundStartDelay
}

// Task runs the quorum voting protocol for one replica: it proposes
// when leader, votes on safe proposals, aggregates votes into QCs,
// drives timeouts into TCs, and applies the three-chain commit rule.
// Grounded on the teacher's Engine.Run/onPropose/onPrepare/leaderRound,
// restructured around the event bus instead of a Network interface's
// direct method calls.
type Task struct {
	ID     types.NodeID
	Table  *stake.Table
	Safe   *Safety
	PM     *Pacemaker
	Store  storage.Store
	WAL    storage.WAL
	Signer *crypto.BLSSigner
	App    AppHook
	Timing RoundTiming
	Log    *zap.Logger

	bus *eventbus.Bus
	ctx context.Context

	votes map[types.View][]types.Vote // collected votes for the view this replica leads

	mu           sync.Mutex
	pending      map[types.View]types.Proposal // proposals held back awaiting DAC/VIDC
	daReady      map[types.View]bool
	vidReady     map[types.View]bool
	payloadCmt   map[types.View]types.Hash
	payloadMeta  map[types.View][]byte
	payloadReady map[types.View]bool
}

func NewTask(bus *eventbus.Bus, id types.NodeID, table *stake.Table, safe *Safety, pm *Pacemaker,
	store storage.Store, wal storage.WAL, signer *crypto.BLSSigner, app AppHook, timing RoundTiming, log *zap.Logger) *Task {
	if wal == nil {
		wal = storage.NopWAL{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Task{
		ID: id, Table: table, Safe: safe, PM: pm, Store: store, WAL: wal,
		Signer: signer, App: app, Timing: timing, Log: log, bus: bus,
		votes:        make(map[types.View][]types.Vote),
		pending:      make(map[types.View]types.Proposal),
		daReady:      make(map[types.View]bool),
		vidReady:     make(map[types.View]bool),
		payloadCmt:   make(map[types.View]types.Hash),
		payloadMeta:  make(map[types.View][]byte),
		payloadReady: make(map[types.View]bool),
	}
}

// Run subscribes to the bus and processes events until Shutdown or ctx
// cancellation, spawning the view-timeout watcher alongside it.
// Grounded on the teacher's Engine.Run leader/follower split, folded
// into a single select-driven loop.
func (t *Task) Run(ctx context.Context) {
	t.ctx = ctx
	events, unsub := t.bus.Subscribe("consensus")
	defer unsub()

	go t.watchTimeouts(ctx)

	t.enterView(t.PM.View())

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
			case eventbus.QuorumProposalRecv:
				t.onProposal(e.Proposal)
			case eventbus.QuorumVoteRecv:
				t.onVote(e.Vote)
			case eventbus.TimeoutVoteRecv:
				t.onTimeoutVote(e.Vote)
			case eventbus.SendPayloadCommitmentAndMetadata:
				t.onPayloadCommitment(e)
			case eventbus.DACRecv:
				t.onAvailabilityCert(e.View, true, false)
			case eventbus.VidCertRecv:
				t.onAvailabilityCert(e.View, false, true)
			case eventbus.ViewChange:
				if t.PM.AdvanceView(e.View, false) {
					t.enterView(e.View)
				}
			}
		}
	}
}

func (t *Task) watchTimeouts(ctx context.Context) {
	for {
		timedOut := t.PM.WaitForAdvance()
		select {
		case <-ctx.Done():
			return
		default:
		}
		if timedOut {
			t.onLocalTimeout()
		}
	}
}

func (t *Task) onLocalTimeout() {
	v := t.PM.View()
	cmt := types.HashLeaf(t.Safe.LockedLeaf())
	vote := types.Vote{Kind: types.KindTimeout, View: v, Cmt: cmt, From: t.ID}
	vote.SigShare = t.Signer.Sign(voteMessage(vote))
	t.bus.Publish(eventbus.Event{Kind: eventbus.TimeoutVoteSend, View: v, Vote: vote})
	t.onTimeoutVote(vote) // count our own vote too
}

// enterView is called every time this replica's own view actually
// advances (initial boot, post-QC, post-TC, or a ViewChange to a higher
// view published on the bus, such as a view-sync finalize). It announces the change on
// the bus, which is what the DA task's proposeDA/proposeVID (spec
// §4.3) and the view-sync task key off, then starts the leader's
// proposal timing gate if this replica leads the new view.
func (t *Task) enterView(v types.View) {
	t.bus.Publish(eventbus.Event{Kind: eventbus.ViewChange, View: v})
	if t.Table.LeaderOf(v) == t.ID {
		cmt, meta := t.App.PreparePayload(v, 1<<20)
		t.bus.Publish(eventbus.Event{Kind: eventbus.SendPayloadCommitmentAndMetadata, View: v, PayloadCmt: cmt, Metadata: meta})
		go t.waitAndPropose(v)
	}
}

// waitAndPropose blocks until the round-timing gate of spec §4.2 step
// 1(a)/(b) clears: a payload commitment must be available, and the
// elapsed time since view entry must sit in [minWait, ProposeMaxRoundTime].
// Once ProposeMaxRoundTime elapses the leader proposes with whatever
// commitment it has rather than stalling the view forever.
func (t *Task) waitAndPropose(v types.View) {
	entered := time.Now()
	minWait := t.Timing.minWait()
	maxWait := t.Timing.ProposeMaxRoundTime
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		t.mu.Lock()
		ready := t.payloadReady[v]
		t.mu.Unlock()
		elapsed := time.Since(entered)
		if elapsed >= maxWait || (ready && elapsed >= minWait) {
			t.propose(v)
			return
		}
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Task) onPayloadCommitment(e eventbus.Event) {
	t.mu.Lock()
	t.payloadReady[e.View] = true
	t.payloadCmt[e.View] = e.PayloadCmt
	t.payloadMeta[e.View] = e.Metadata
	t.mu.Unlock()
}

// onAvailabilityCert records a DAC or VID certificate arrival for a
// view and releases any proposal pending on both, per spec §4.2 step
// 5's "view-indexed map of pending proposals awaiting their DAC or VID
// cert".
func (t *Task) onAvailabilityCert(v types.View, dac, vid bool) {
	t.mu.Lock()
	if dac {
		t.daReady[v] = true
	}
	if vid {
		t.vidReady[v] = true
	}
	p, isPending := t.pending[v]
	release := isPending && t.daReady[v] && t.vidReady[v]
	if release {
		delete(t.pending, v)
	}
	t.mu.Unlock()
	if release {
		t.castVote(p)
	}
}

func (t *Task) propose(v types.View) {
	t.mu.Lock()
	payloadCmt, meta := t.payloadCmt[v], t.payloadMeta[v]
	delete(t.payloadCmt, v)
	delete(t.payloadMeta, v)
	delete(t.payloadReady, v)
	t.mu.Unlock()

	parent := t.Safe.LockedLeaf()
	if hq := t.Safe.HighQC(); !hq.IsZero() {
		if l, ok, _ := t.Store.GetLeaf(hq.Cmt); ok {
			parent = l
		}
	}
	leaf := types.Leaf{
		Parent: types.HashLeaf(parent), View: v, Height: parent.Height + 1,
		PayloadCmt: payloadCmt, Metadata: meta, Proposer: t.ID, JustifyQC: t.Safe.HighQC(),
		Time: time.Now(),
	}
	prop := types.Proposal{Kind: types.ProposalQuorum, Leaf: leaf, View: v, Proposer: t.ID}
	prop.Sig = t.Signer.Sign(proposalMessage(prop))
	t.Store.PutLeaf(leaf)
	t.WAL.Append(storage.ViewLine(v))
	t.bus.Publish(eventbus.Event{Kind: eventbus.QuorumProposalSend, View: v, Proposal: prop})
	t.onProposal(prop)
}

// onProposal verifies and stores an incoming proposal, folds its
// justification QC into the safety state, and either votes
// immediately (if this view's DAC and VID certificates already
// arrived) or holds the proposal pending them.
func (t *Task) onProposal(p types.Proposal) {
	if !t.Safe.VerifyProposal(p) {
		t.Log.Warn("rejecting proposal with invalid justification", zap.Uint64("view", uint64(p.View)))
		return
	}
	if !t.Safe.CanVote(p.Leaf) {
		t.Log.Warn("safe-node predicate rejected proposal", zap.Uint64("view", uint64(p.View)))
		return
	}
	t.Store.PutLeaf(p.Leaf)

	if !p.Leaf.JustifyQC.IsZero() {
		res := t.Safe.OnQC(p.Leaf.JustifyQC, p.Leaf)
		for _, c := range res.committed {
			t.Store.AppendDecided(c)
			t.WAL.Append(storage.CommitLine(c))
			t.App.OnCommit(c)
			t.bus.Publish(eventbus.Event{Kind: eventbus.LeafDecided, Leaves: []types.Leaf{c}})
		}
	}

	t.mu.Lock()
	ready := t.daReady[p.View] && t.vidReady[p.View]
	if !ready {
		t.pending[p.View] = p
	}
	t.mu.Unlock()
	if !ready {
		t.Log.Debug("holding proposal pending availability certificates", zap.Uint64("view", uint64(p.View)))
		return
	}
	t.castVote(p)
}

// castVote emits this replica's vote on an availability-cleared
// proposal and advances the local view.
func (t *Task) castVote(p types.Proposal) {
	cmt := types.HashLeaf(p.Leaf)
	vote := types.Vote{Kind: types.KindQuorum, View: p.View, Cmt: cmt, From: t.ID}
	vote.SigShare = t.Signer.Sign(voteMessage(vote))
	t.bus.Publish(eventbus.Event{Kind: eventbus.QuorumVoteSend, View: p.View, Vote: vote})
	t.bus.Publish(eventbus.Event{Kind: eventbus.BlockReady, View: p.View, Leaves: []types.Leaf{p.Leaf}})

	if t.PM.AdvanceView(p.View+1, false) {
		t.enterView(p.View + 1)
	}
}

func (t *Task) onVote(v types.Vote) {
	if t.Table.LeaderOf(v.View+1) != t.ID {
		return
	}
	t.votes[v.View] = append(t.votes[v.View], v)
	if qc, ok := t.tryAggregate(v.View, types.KindQuorum); ok {
		t.Store.PutCertificate(qc)
		t.bus.Publish(eventbus.Event{Kind: eventbus.QCFormed, View: v.View, Cert: qc})
		delete(t.votes, v.View)
	}
}

func (t *Task) onTimeoutVote(v types.Vote) {
	if t.Table.LeaderOf(v.View+1) != t.ID {
		return
	}
	t.votes[v.View] = append(t.votes[v.View], v)
	if tc, ok := t.tryAggregate(v.View, types.KindTimeout); ok {
		t.Store.PutCertificate(tc)
		t.Safe.OnTimeout()
		t.bus.Publish(eventbus.Event{Kind: eventbus.QCFormed, View: v.View, Cert: tc, AltCert: tc, IsTimeout: true})
		delete(t.votes, v.View)
		if t.PM.AdvanceView(v.View+1, true) {
			if uint64(t.PM.ConsecutiveTimeouts()) >= t.Table.ViewSyncThreshold() {
				t.bus.Publish(eventbus.Event{Kind: eventbus.ViewSyncTrigger, View: v.View + 1, Round: 0})
			}
			t.enterView(v.View + 1)
		}
	}
}

func (t *Task) tryAggregate(v types.View, kind types.VoteKind) (types.Certificate, bool) {
	var matching []types.Vote
	for _, vote := range t.votes[v] {
		if vote.Kind == kind {
			matching = append(matching, vote)
		}
	}
	if len(matching) == 0 {
		return types.Certificate{}, false
	}
	var total uint64
	signers := make([]types.NodeID, 0, len(matching))
	sigs := make([][]byte, 0, len(matching))
	seen := make(map[types.NodeID]bool)
	for _, vote := range matching {
		if seen[vote.From] {
			continue
		}
		seen[vote.From] = true
		st, ok := t.Table.StakeOf(vote.From)
		if !ok {
			continue
		}
		total += st
		signers = append(signers, vote.From)
		sigs = append(sigs, vote.SigShare)
	}
	if total < t.Table.Threshold() {
		return types.Certificate{}, false
	}
	agg := crypto.Aggregate(sigs)
	if agg == nil {
		t.Log.Error("aggregate signature failed")
		return types.Certificate{}, false
	}
	return types.Certificate{Kind: kind, View: v, Cmt: matching[0].Cmt, Signers: signers, Sig: agg}, true
}

// voteMessage is the signed payload for a vote: the commitment alone,
// since VerifyCertificate checks an aggregated signature against
// certificate.Cmt directly and every signer in an aggregate must have
// signed the identical message.
func voteMessage(v types.Vote) []byte {
	cmt := v.Cmt
	return cmt[:]
}

func proposalMessage(p types.Proposal) []byte {
	h := types.HashLeaf(p.Leaf)
	return h[:]
}
