// Package viewsync implements the three-phase view-synchronization
// recovery path (PreCommit/Commit/Finalize), entered once enough
// replicas have observed consecutive timeouts that plain pacemaker
// back-off cannot be trusted to converge. Grounded on
// original_source's events.rs ViewSync* event family (the teacher repo
// has no equivalent; its Pacemaker assumes timeouts alone are
// sufficient) and on the teacher's vote-aggregation idiom from
// pkg/consensus/engine.go, generalized to three sequential certificate
// phases with a rotating relay.
package viewsync

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nyxrelay/quorumview/pkg/crypto"
	"github.com/nyxrelay/quorumview/pkg/eventbus"
	"github.com/nyxrelay/quorumview/pkg/stake"
	"github.com/nyxrelay/quorumview/pkg/storage"
	"github.com/nyxrelay/quorumview/pkg/types"
)

// phaseKind maps an eventbus.ViewSyncPhase to the vote kind it collects.
func phaseKind(p eventbus.ViewSyncPhase) types.VoteKind {
	switch p {
	case eventbus.PhaseCommit:
		return types.KindViewSyncCommit
	case eventbus.PhaseFinalize:
		return types.KindViewSyncFinalize
	default:
		return types.KindViewSyncPreCommit
	}
}

func nextPhase(p eventbus.ViewSyncPhase) (eventbus.ViewSyncPhase, bool) {
	switch p {
	case eventbus.PhasePreCommit:
		return eventbus.PhaseCommit, true
	case eventbus.PhaseCommit:
		return eventbus.PhaseFinalize, true
	default:
		return 0, false
	}
}

// Task drives the relay-rotation recovery protocol: each phase has a
// relay (deterministically elected, round-robin over the validator
// set offset by the failed-view round number) who collects votes and
// forms that phase's certificate, triggering the next phase.
type Task struct {
	ID         types.NodeID
	Table      *stake.Table
	Signer     *crypto.BLSSigner
	Store      storage.Store
	PhaseDelay time.Duration
	Log        *zap.Logger

	bus *eventbus.Bus
	ctx context.Context

	votes map[eventbus.ViewSyncPhase]map[types.View][]types.Vote

	mu     sync.Mutex
	timers map[timerKey]chan struct{} // cancel channel for an armed phase timer
}

// timerKey identifies one armed phase timer: a given (view, round)
// only ever has one phase in flight at a time, but the map is keyed on
// phase too so a stale timer from a superseded round can never
// collide with the current one.
type timerKey struct {
	phase eventbus.ViewSyncPhase
	view  types.View
	round uint64
}

func NewTask(bus *eventbus.Bus, id types.NodeID, table *stake.Table, signer *crypto.BLSSigner,
	store storage.Store, phaseDelay time.Duration, log *zap.Logger) *Task {
	if log == nil {
		log = zap.NewNop()
	}
	return &Task{
		ID: id, Table: table, Signer: signer, Store: store, PhaseDelay: phaseDelay, Log: log, bus: bus,
		votes: map[eventbus.ViewSyncPhase]map[types.View][]types.Vote{
			eventbus.PhasePreCommit: {}, eventbus.PhaseCommit: {}, eventbus.PhaseFinalize: {},
		},
		timers: make(map[timerKey]chan struct{}),
	}
}

// relayOf deterministically elects the relay for (targetView, round):
// round robin over the validator set, offset by the round number so a
// crashed or Byzantine relay is skipped on the next round.
func (t *Task) relayOf(targetView types.View, round uint64) types.NodeID {
	n := t.Table.N()
	if n == 0 {
		return ""
	}
	vs := t.Table.Validators()
	idx := (int(targetView) + int(round)) % n
	return vs[idx].ID
}

func (t *Task) Run(ctx context.Context) {
	t.ctx = ctx
	events, unsub := t.bus.Subscribe("viewsync")
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
			case eventbus.ViewSyncTrigger:
				t.startRound(e.View, e.Round)
			case eventbus.ViewSyncPreCommitVoteRecv:
				t.onVote(eventbus.PhasePreCommit, e.Vote, e.Round)
			case eventbus.ViewSyncCommitVoteRecv:
				t.onVote(eventbus.PhaseCommit, e.Vote, e.Round)
			case eventbus.ViewSyncFinalizeVoteRecv:
				t.onVote(eventbus.PhaseFinalize, e.Vote, e.Round)
			case eventbus.ViewSyncTimeout:
				t.onPhaseTimeout(e.View, e.Round, e.Phase)
			}
		}
	}
}

// startRound begins PreCommit for the failed targetView, at relay
// round 0.
func (t *Task) startRound(targetView types.View, round uint64) {
	if t.relayOf(targetView, round) != t.ID {
		return
	}
	t.castVote(eventbus.PhasePreCommit, targetView, round)
}

func (t *Task) castVote(phase eventbus.ViewSyncPhase, targetView types.View, round uint64) {
	kind := phaseKind(phase)
	cmt := viewCommitment(targetView, round)
	vote := types.Vote{Kind: kind, View: targetView, Cmt: cmt, From: t.ID}
	vote.SigShare = t.Signer.Sign(cmt[:])
	sendKind := map[eventbus.ViewSyncPhase]eventbus.Kind{
		eventbus.PhasePreCommit: eventbus.ViewSyncPreCommitVoteSend,
		eventbus.PhaseCommit:    eventbus.ViewSyncCommitVoteSend,
		eventbus.PhaseFinalize:  eventbus.ViewSyncFinalizeVoteSend,
	}[phase]
	t.bus.Publish(eventbus.Event{Kind: sendKind, View: targetView, Round: round, Phase: phase, Vote: vote})
	t.armTimeout(phase, targetView, round)
	t.onVote(phase, vote, round)
}

// armTimeout starts this phase/round's timer; if it fires before the
// phase certifies, it publishes ViewSyncTimeout so onPhaseTimeout can
// advance the relay round (spec §4.5).
func (t *Task) armTimeout(phase eventbus.ViewSyncPhase, v types.View, round uint64) {
	key := timerKey{phase, v, round}
	cancel := make(chan struct{})
	t.mu.Lock()
	t.timers[key] = cancel
	t.mu.Unlock()
	go func() {
		select {
		case <-t.ctx.Done():
		case <-cancel:
		case <-time.After(t.PhaseDelay):
			t.mu.Lock()
			cur, armed := t.timers[key]
			if armed && cur == cancel {
				delete(t.timers, key)
			}
			t.mu.Unlock()
			if armed {
				t.bus.Publish(eventbus.Event{Kind: eventbus.ViewSyncTimeout, View: v, Round: round, Phase: phase})
			}
		}
	}()
}

// disarmTimeout cancels a phase/round's timer once it certifies.
func (t *Task) disarmTimeout(phase eventbus.ViewSyncPhase, v types.View, round uint64) {
	key := timerKey{phase, v, round}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.timers[key]; ok {
		close(c)
		delete(t.timers, key)
	}
}

func (t *Task) onVote(phase eventbus.ViewSyncPhase, v types.Vote, round uint64) {
	if t.relayOf(v.View, round) != t.ID {
		return
	}
	m := t.votes[phase]
	m[v.View] = append(m[v.View], v)
	if cert, ok := aggregateViewSync(t.Table, m[v.View], phaseKind(phase), v.View); ok {
		delete(m, v.View)
		t.onPhaseCertificate(phase, cert, round)
	}
}

func (t *Task) onPhaseCertificate(phase eventbus.ViewSyncPhase, cert types.Certificate, round uint64) {
	t.disarmTimeout(phase, cert.View, round)
	t.Store.PutCertificate(cert)
	sendKind := map[eventbus.ViewSyncPhase]eventbus.Kind{
		eventbus.PhasePreCommit: eventbus.ViewSyncPreCommitCertificate2Send,
		eventbus.PhaseCommit:    eventbus.ViewSyncCommitCertificate2Send,
		eventbus.PhaseFinalize:  eventbus.ViewSyncFinalizeCertificate2Send,
	}[phase]
	t.bus.Publish(eventbus.Event{Kind: sendKind, View: cert.View, Round: round, Phase: phase, Cert: cert})

	if next, ok := nextPhase(phase); ok {
		t.castVote(next, cert.View, round)
		return
	}
	// Finalize certificate formed: the target view is now safe to
	// enter. The ViewChange published here is picked up by this
	// replica's consensus task, which enters the view if it is higher
	// than its own.
	t.bus.Publish(eventbus.Event{Kind: eventbus.ViewChange, View: cert.View})
}

// onPhaseTimeout advances the relay round when a phase fails to reach
// certification in time, per spec §4.5's relay-rotation recovery.
func (t *Task) onPhaseTimeout(targetView types.View, round uint64, phase eventbus.ViewSyncPhase) {
	delete(t.votes[phase], targetView)
	nextRound := round + 1
	if t.relayOf(targetView, nextRound) == t.ID {
		t.castVote(eventbus.PhasePreCommit, targetView, nextRound)
	}
}

func aggregateViewSync(table *stake.Table, votes []types.Vote, kind types.VoteKind, v types.View) (types.Certificate, bool) {
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
	if total < table.Threshold() || len(signers) == 0 {
		return types.Certificate{}, false
	}
	agg := crypto.Aggregate(sigs)
	if agg == nil {
		return types.Certificate{}, false
	}
	return types.Certificate{Kind: kind, View: v, Cmt: cmt, Signers: signers, Sig: agg}, true
}

func viewCommitment(v types.View, round uint64) types.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(v))
	binary.BigEndian.PutUint64(buf[8:16], round)
	return sha256.Sum256(buf[:])
}
