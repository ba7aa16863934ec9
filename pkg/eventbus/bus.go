package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// safetyCritical is the set of event kinds for which losing a delivery
// would be a protocol-safety bug rather than a liveness hiccup: votes,
// certificates and proposals must reach every subscriber, or a replica
// can silently fall behind and double-vote on catch-up. Everything
// else (progress pings, best-effort transaction gossip) may be dropped
// under backpressure and merely logged.
var safetyCritical = map[Kind]bool{
	QuorumProposalRecv: true, QuorumVoteRecv: true, TimeoutVoteRecv: true, QCFormed: true,
	DAProposalRecv: true, DAVoteRecv: true, DACRecv: true,
	VidDisperseRecv: true, VidVoteRecv: true, VidCertRecv: true,
	ViewSyncPreCommitVoteRecv: true, ViewSyncCommitVoteRecv: true, ViewSyncFinalizeVoteRecv: true,
	ViewSyncPreCommitCertificate2Recv: true, ViewSyncCommitCertificate2Recv: true,
	ViewSyncFinalizeCertificate2Recv: true, Shutdown: true,
}

const subscriberQueueDepth = 256

// subscriber is one registered consumer's inbox plus its kill switch.
// A kill switch exists because a safety-critical event that cannot be
// delivered (queue full) means that subscriber has fallen
// irrecoverably behind: the teacher's single ad hoc channels never had
// to make this call, because they only ever had one reader: here, with
// many subscribers on one bus, a wedged consumer must not silently eat
// gaps in the safety-critical stream.
type subscriber struct {
	name string
	ch   chan Event
	dead chan struct{}
}

// Bus is a typed, multi-subscriber publish channel. Every subscriber
// gets its own bounded queue; a slow subscriber never blocks a fast
// one. This generalizes the teacher's Pacemaker.viewAdvanceCh
// (buffered-channel-with-drop-if-full) and Libp2pNet.voteArrivedCh
// (one ad hoc channel per concern) into a single typed hub shared by
// every task.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
	log  *zap.Logger
}

func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[string]*subscriber), log: log}
}

// Subscribe registers a new named consumer and returns its receive-only
// event channel plus an unsubscribe function. Re-registering under a
// name already in use replaces the previous subscriber (mirrors the
// teacher's SetHandlers, which is a last-writer-wins assignment).
func (b *Bus) Subscribe(name string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &subscriber{name: name, ch: make(chan Event, subscriberQueueDepth), dead: make(chan struct{})}
	b.subs[name] = s
	return s.ch, func() { b.unsubscribe(name, s) }
}

func (b *Bus) unsubscribe(name string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[name]; ok && cur == s {
		delete(b.subs, name)
		close(s.dead)
	}
}

// Publish fans an event out to every live subscriber. Non-safety-critical
// events are dropped with a logged warning when a subscriber's queue is
// full; safety-critical events instead kill that subscriber (closing its
// channel triggers its consumption loop to treat the bus as gone) so a
// replica that has fallen behind fails loudly rather than silently
// skipping a vote or certificate.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- e:
		case <-s.dead:
		default:
			if safetyCritical[e.Kind] {
				b.log.Error("killing subscriber: safety-critical event dropped on full queue",
					zap.String("subscriber", s.name), zap.String("event", e.Kind.String()))
				b.kill(s.name, s)
			} else {
				b.log.Warn("dropping event on full subscriber queue",
					zap.String("subscriber", s.name), zap.String("event", e.Kind.String()))
			}
		}
	}
}

func (b *Bus) kill(name string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[name]; ok && cur == s {
		delete(b.subs, name)
		close(s.ch)
	}
}

// Shutdown broadcasts the terminal Shutdown event to every subscriber
// and removes them from the bus. Subscribers observe this as Kind ==
// Shutdown on their event channel and must stop after handling it;
// the bus accepts no further Subscribe calls racing a concurrent
// Shutdown (callers own that ordering, same as the teacher's
// context-cancellation convention in Engine.Run).
func (b *Bus) Shutdown() {
	b.Publish(Event{Kind: Shutdown})
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, s := range b.subs {
		close(s.ch)
		delete(b.subs, name)
	}
}

// Count reports the number of live subscribers, for diagnostics.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
