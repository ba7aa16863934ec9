package netdispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/nyxrelay/quorumview/pkg/eventbus"
	"github.com/nyxrelay/quorumview/pkg/p2p"
)

// routes maps each *Send event kind to the gossip topic it travels
// on and the *Recv kind its peers should re-publish locally as.
type route struct {
	topic  string
	toRecv eventbus.Kind
}

var routes = map[eventbus.Kind]route{
	eventbus.QuorumProposalSend: {TopicQuorumProposal, eventbus.QuorumProposalRecv},
	eventbus.QuorumVoteSend:     {TopicQuorumVote, eventbus.QuorumVoteRecv},
	eventbus.TimeoutVoteSend:    {TopicTimeoutVote, eventbus.TimeoutVoteRecv},
	eventbus.DAProposalSend:     {TopicDAProposal, eventbus.DAProposalRecv},
	eventbus.DAVoteSend:         {TopicDAVote, eventbus.DAVoteRecv},
	eventbus.DACSend:            {TopicDAC, eventbus.DACRecv},
	eventbus.VidDisperseSend:    {TopicVIDDisperse, eventbus.VidDisperseRecv},
	eventbus.VidVoteSend:        {TopicVIDVote, eventbus.VidVoteRecv},
	eventbus.VidCertSend:        {TopicVIDCert, eventbus.VidCertRecv},
	eventbus.ViewSyncPreCommitVoteSend:         {TopicViewSyncVote, eventbus.ViewSyncPreCommitVoteRecv},
	eventbus.ViewSyncCommitVoteSend:            {TopicViewSyncVote, eventbus.ViewSyncCommitVoteRecv},
	eventbus.ViewSyncFinalizeVoteSend:          {TopicViewSyncVote, eventbus.ViewSyncFinalizeVoteRecv},
	eventbus.ViewSyncPreCommitCertificate2Send: {TopicViewSyncCert, eventbus.ViewSyncPreCommitCertificate2Recv},
	eventbus.ViewSyncCommitCertificate2Send:    {TopicViewSyncCert, eventbus.ViewSyncCommitCertificate2Recv},
	eventbus.ViewSyncFinalizeCertificate2Send:  {TopicViewSyncCert, eventbus.ViewSyncFinalizeCertificate2Recv},
	eventbus.TransactionSend:                   {TopicTransactions, eventbus.TransactionsRecv},
}

// SendToRecv exposes the *Send -> *Recv wire routing as a plain kind
// map, for test harnesses that bridge replica buses directly instead
// of through a real libp2p transport.
func SendToRecv() map[eventbus.Kind]eventbus.Kind {
	m := make(map[eventbus.Kind]eventbus.Kind, len(routes))
	for k, r := range routes {
		m[k] = r.toRecv
	}
	return m
}

// Dispatcher subscribes to the bus, gossips every outbound event, and
// feeds every inbound gossip message back onto the bus as the
// corresponding *Recv event. It also loops *Send events back to *Recv
// locally, since gossipsub does not deliver a node's own publishes to
// itself (pkg/p2p.NodeHandle.readTopic skips ReceivedFrom == self) and
// the local replica still needs to count its own vote.
type Dispatcher struct {
	bus  *eventbus.Bus
	node *p2p.NodeHandle
	log  *zap.Logger
}

func New(bus *eventbus.Bus, node *p2p.NodeHandle, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{bus: bus, node: node, log: log}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	events, unsub := d.bus.Subscribe("netdispatch")
	defer unsub()

	topics := map[string]bool{}
	for _, r := range routes {
		topics[r.topic] = true
	}
	inbound := make(chan []byte, 1024)
	for topic := range topics {
		ch, err := d.node.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		go forward(ctx, ch, inbound)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Kind == eventbus.Shutdown {
				return nil
			}
			d.handleOutbound(ctx, e)
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			d.handleInbound(raw)
		}
	}
}

func forward(ctx context.Context, src <-chan []byte, dst chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-src:
			if !ok {
				return
			}
			select {
			case dst <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Dispatcher) handleOutbound(ctx context.Context, e eventbus.Event) {
	r, ok := routes[e.Kind]
	if !ok {
		return
	}
	// Wire events travel tagged with the *Recv kind directly: a peer
	// that decodes this message should treat it exactly as it would
	// treat any other inbound event.
	recv := e
	recv.Kind = r.toRecv
	b, err := encode(recv)
	if err != nil {
		d.log.Error("encode outbound event failed", zap.String("event", e.Kind.String()), zap.Error(err))
		return
	}
	if err := d.node.Gossip(ctx, r.topic, b); err != nil {
		d.log.Warn("gossip failed", zap.String("topic", r.topic), zap.Error(err))
	}
	// Self-delivery: the same replica that just sent this also needs
	// to process it as received (e.g. to count its own vote).
	d.bus.Publish(recv)
}

func (d *Dispatcher) handleInbound(raw []byte) {
	e, err := decode(raw)
	if err != nil {
		d.log.Warn("decode inbound event failed", zap.Error(err))
		return
	}
	d.bus.Publish(e)
}
