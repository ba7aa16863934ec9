// Package p2p implements the libp2p-backed networking layer: gossip
// topics and a direct request/response protocol, exposed behind a
// single NodeHandle control surface. NodeHandle has no DHT operations
// (no record put/get, no node lookup); pkg/dht builds its own Kademlia
// DHT on the host NodeHandle.Host returns. Grounded on the
// teacher's pkg/p2p.Libp2pNet, generalized from two hard-coded topics
// and one vote protocol to the full operation set of spec §4.6, itself
// grounded on original_source/crates/libp2p-networking's
// NetworkNodeHandle.
package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/nyxrelay/quorumview/pkg/types"
)

const (
	directProtocol = "/quorumview/direct/1.0.0"
)

// Config configures a NodeHandle at construction, grounded on the
// teacher's Libp2pConfig, extended with DHT and timeout knobs per
// spec §4.6/§7.
type Config struct {
	ListenAddr       string
	Bootstrap        []string
	SelfID           types.NodeID
	Logger           *zap.Logger
	ConnectTimeout   time.Duration
	DHTGetTimeout    time.Duration
	DHTRetryAttempts int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.DHTGetTimeout <= 0 {
		c.DHTGetTimeout = 5 * time.Second
	}
	if c.DHTRetryAttempts <= 0 {
		c.DHTRetryAttempts = 3
	}
	return c
}

// KnownPeer pairs a NodeID with its libp2p identity, the unit the
// control surface's add_known_peers/lookup_pid operate on.
type KnownPeer struct {
	ID     types.NodeID
	PeerID peer.ID
}
