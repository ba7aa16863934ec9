// Package netdispatch bridges the event bus to the network: outbound
// *Send events are gob-encoded and gossiped over
// p2p.NodeHandle, and inbound wire messages are decoded back into
// *Recv events on the bus. Grounded on the teacher's pkg/p2p
// wire.go/libp2pnet.go split (ProposalWire/PrepareWire/VoteWire plus
// the handlePropose/handlePrepare goroutines), generalized from two
// topics to one topic per event family.
package netdispatch

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/nyxrelay/quorumview/pkg/eventbus"
	"github.com/nyxrelay/quorumview/pkg/nerrors"
)

const (
	TopicQuorumProposal = "qv-quorum-proposal"
	TopicQuorumVote     = "qv-quorum-vote"
	TopicTimeoutVote    = "qv-timeout-vote"
	TopicQC             = "qv-qc"
	TopicDAProposal     = "qv-da-proposal"
	TopicDAVote         = "qv-da-vote"
	TopicDAC            = "qv-dac"
	TopicVIDDisperse    = "qv-vid-disperse"
	TopicVIDVote        = "qv-vid-vote"
	TopicVIDCert        = "qv-vid-cert"
	TopicViewSyncVote   = "qv-viewsync-vote"
	TopicViewSyncCert   = "qv-viewsync-cert"
	TopicTransactions   = "qv-txs"
)

func init() {
	gob.Register(eventbus.Event{})
}

func encode(e eventbus.Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode rejects input with bytes left over after the event and events
// whose Kind lies outside the eventbus enumeration.
func decode(b []byte) (eventbus.Event, error) {
	var e eventbus.Event
	r := bytes.NewReader(b)
	if err := gob.NewDecoder(r).Decode(&e); err != nil {
		return e, err
	}
	if r.Len() != 0 {
		return eventbus.Event{}, fmt.Errorf("%w: %d trailing bytes", nerrors.ErrDeserialize, r.Len())
	}
	if e.Kind < eventbus.Shutdown || e.Kind > eventbus.TransactionSend {
		return eventbus.Event{}, fmt.Errorf("%w: unknown event kind %d", nerrors.ErrDeserialize, e.Kind)
	}
	return e, nil
}
