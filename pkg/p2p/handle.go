package p2p

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/nyxrelay/quorumview/pkg/nerrors"
	"github.com/nyxrelay/quorumview/pkg/types"
)

// DirectRequestHandler answers an inbound direct request and returns
// the response bytes to send back.
type DirectRequestHandler func(from peer.ID, req []byte) []byte

// NodeHandle is the single control surface every task uses to talk to
// the network, grounded on original_source's NetworkNodeHandle and
// the teacher's Libp2pNet, generalized from two fixed topics/one
// protocol to subscribe/gossip/direct-request and peer bookkeeping.
// DHT record and node-lookup operations are not part of it; they live
// in pkg/dht.
type NodeHandle struct {
	cfg Config
	log *zap.Logger

	h  host.Host
	ps *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription
	events map[string]chan []byte // per-topic inbound message channel

	directHandlerSet int32 // spawn_handler single-registration guard
	directHandler    atomic.Value // DirectRequestHandler

	killed int32 // atomic bool, guards against double Shutdown

	known SubscribableState[map[types.NodeID]peer.ID]
	ignored SubscribableState[map[peer.ID]bool]

	connected SubscribableState[map[peer.ID]bool]
}

// Begin constructs and starts listening, grounded on the teacher's
// NewLibp2pNet plus original_source's begin_bootstrap: it creates the
// host, joins gossipsub and dials every bootstrap address.
func Begin(ctx context.Context, cfg Config) (*NodeHandle, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", nerrors.ErrNodeConfig, err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	n := &NodeHandle{
		cfg: cfg, log: log, h: h, ps: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		events: make(map[string]chan []byte),
		known:     *NewSubscribableState(make(map[types.NodeID]peer.ID)),
		ignored:   *NewSubscribableState(make(map[peer.ID]bool)),
		connected: *NewSubscribableState(make(map[peer.ID]bool)),
	}
	h.Network().Notify(n.connNotifiee())
	h.SetStreamHandler(protocol.ID(directProtocol), n.handleDirectStream)

	if err := n.beginBootstrap(ctx, cfg.Bootstrap); err != nil {
		log.Warn("bootstrap had failures", zap.Error(err))
	}
	return n, nil
}

func (n *NodeHandle) beginBootstrap(ctx context.Context, addrs []string) error {
	var firstErr error
	for _, a := range addrs {
		if err := connectMultiaddr(ctx, n.h, a, n.cfg.ConnectTimeout); err != nil {
			n.log.Warn("bootstrap_connect_failed", zap.String("addr", a), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// WaitToConnect blocks until at least minPeers connections are
// established or the deadline elapses.
func (n *NodeHandle) WaitToConnect(ctx context.Context, minPeers int) error {
	deadline := time.Now().Add(n.cfg.ConnectTimeout)
	for {
		if n.NumConnected() >= minPeers {
			return nil
		}
		if time.Now().After(deadline) {
			return nerrors.ErrConnectTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Subscribe joins a gossip topic and returns a channel of inbound raw
// messages for it, grounded on the teacher's joinTopics/handlePropose
// goroutine pair, generalized from two named topics to any topic name.
func (n *NodeHandle) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	n.mu.Lock()
	if ch, ok := n.events[topic]; ok {
		n.mu.Unlock()
		return ch, nil
	}
	t, err := n.ps.Join(topic)
	if err != nil {
		n.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", nerrors.ErrDHT, err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	ch := make(chan []byte, 256)
	n.topics[topic] = t
	n.subs[topic] = sub
	n.events[topic] = ch
	n.mu.Unlock()

	go n.readTopic(ctx, topic, sub, ch)
	return ch, nil
}

func (n *NodeHandle) readTopic(ctx context.Context, topic string, sub *pubsub.Subscription, ch chan []byte) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			// Gossipsub does not loop back local publishes; callers that
			// need self-delivery (the leader voting on its own proposal)
			// handle that explicitly at the dispatch layer.
			continue
		}
		select {
		case ch <- msg.Data:
		default:
			n.log.Warn("dropping gossip message on full topic channel", zap.String("topic", topic))
		}
	}
}

// Unsubscribe leaves a topic.
func (n *NodeHandle) Unsubscribe(topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sub, ok := n.subs[topic]; ok {
		sub.Cancel()
		delete(n.subs, topic)
	}
	if t, ok := n.topics[topic]; ok {
		t.Close()
		delete(n.topics, topic)
	}
	if ch, ok := n.events[topic]; ok {
		close(ch)
		delete(n.events, topic)
	}
	return nil
}

// Gossip publishes to a topic, joining it first if this node has not
// subscribed.
func (n *NodeHandle) Gossip(ctx context.Context, topic string, data []byte) error {
	n.mu.Lock()
	t, ok := n.topics[topic]
	n.mu.Unlock()
	if !ok {
		var err error
		if _, err = n.Subscribe(ctx, topic); err != nil {
			return err
		}
		n.mu.Lock()
		t = n.topics[topic]
		n.mu.Unlock()
	}
	if t == nil {
		return nerrors.ErrNoSuchTopic
	}
	if err := t.Publish(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", nerrors.ErrSend, err)
	}
	return nil
}

// SpawnHandler registers the single direct-request handler, grounded
// on original_source's spawn_handler assert-not-already-registered
// semantics: calling this twice is a programming error, not a
// runtime condition to recover from.
func (n *NodeHandle) SpawnHandler(h DirectRequestHandler) {
	if !atomic.CompareAndSwapInt32(&n.directHandlerSet, 0, 1) {
		panic("p2p: SpawnHandler called twice on the same NodeHandle")
	}
	n.directHandler.Store(h)
}

func (n *NodeHandle) handleDirectStream(s network.Stream) {
	defer s.Close()
	r := bufio.NewReader(s)
	req, err := readFrame(r)
	if err != nil {
		return
	}
	hv := n.directHandler.Load()
	if hv == nil {
		return
	}
	resp := hv.(DirectRequestHandler)(s.Conn().RemotePeer(), req)
	_ = writeFrame(s, resp)
}

// DirectRequest sends a length-prefixed request to a peer and waits
// for its response, grounded on the teacher's SendVote stream usage,
// generalized from one fixed protocol/message to an arbitrary
// request/response pair.
func (n *NodeHandle) DirectRequest(ctx context.Context, to peer.ID, req []byte) ([]byte, error) {
	s, err := n.h.NewStream(ctx, to, protocol.ID(directProtocol))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nerrors.ErrSend, err)
	}
	defer s.Close()
	if err := writeFrame(s, req); err != nil {
		return nil, fmt.Errorf("%w: %v", nerrors.ErrSend, err)
	}
	resp, err := readFrame(bufio.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nerrors.ErrRecv, err)
	}
	return resp, nil
}

// AddKnownPeers records NodeID -> PeerID associations learned out of
// band (e.g. via the DHT), used by DirectRequest callers that only
// have a NodeID in hand.
func (n *NodeHandle) AddKnownPeers(peers map[types.NodeID]peer.ID) {
	n.known.Modify(func(m map[types.NodeID]peer.ID) map[types.NodeID]peer.ID {
		for id, pid := range peers {
			m[id] = pid
		}
		return m
	})
}

func (n *NodeHandle) LookupPID(id types.NodeID) (peer.ID, bool) {
	pid, ok := n.known.Get()[id]
	return pid, ok
}

// IgnorePeers marks peers whose connections should be pruned and not
// re-dialed, grounded on original_source's ignore_peers/prune_peer.
func (n *NodeHandle) IgnorePeers(peers []peer.ID) {
	n.ignored.Modify(func(m map[peer.ID]bool) map[peer.ID]bool {
		for _, p := range peers {
			m[p] = true
		}
		return m
	})
	for _, p := range peers {
		n.PrunePeer(p)
	}
}

func (n *NodeHandle) PrunePeer(p peer.ID) {
	_ = n.h.Network().ClosePeer(p)
}

func (n *NodeHandle) NumConnected() int {
	return len(n.h.Network().Peers())
}

func (n *NodeHandle) ConnectedPeers() []peer.ID {
	return n.h.Network().Peers()
}

// Host exposes the underlying libp2p host, needed by the DHT client
// constructor and by tests that dial peers directly.
func (n *NodeHandle) Host() host.Host { return n.h }

// NotifyWebUI registers an observer invoked whenever connection state
// changes, grounded on original_source's webui listener GC pattern
// (simplified here to a single callback rather than a pruned listener
// set, since this module has no webui process to garbage collect).
func (n *NodeHandle) NotifyWebUI(f func(connected map[peer.ID]bool)) {
	n.connected.Observe(f)
}

func (n *NodeHandle) connNotifiee() *network.NotifyBundle {
	update := func(net network.Network) {
		peers := net.Peers()
		m := make(map[peer.ID]bool, len(peers))
		for _, p := range peers {
			m[p] = true
		}
		n.connected.Set(m)
	}
	return &network.NotifyBundle{
		ConnectedF:    func(net network.Network, _ network.Conn) { update(net) },
		DisconnectedF: func(net network.Network, _ network.Conn) { update(net) },
	}
}

// Shutdown tears the host down. A second call logs a warning and
// returns nil instead of panicking or failing (Open Question
// resolution: double-shutdown is a liveness nuisance, not a safety
// violation).
func (n *NodeHandle) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&n.killed, 0, 1) {
		n.log.Warn("shutdown called on an already-shut-down handle")
		return nil
	}
	n.mu.Lock()
	for _, ch := range n.events {
		close(ch)
	}
	n.mu.Unlock()
	return n.h.Close()
}
