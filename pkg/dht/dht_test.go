package dht

import (
	"context"
	"testing"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
)

// TestPutGetRoundTrip stands up two in-process libp2p hosts, connects
// them directly (no bootstrap discovery needed for a 2-peer routing
// table), and checks a value put by one client is readable by the
// other. Grounded on pkg/p2p.Begin's host-construction style and on
// original_source's put_record/get_record round trip, but driven
// directly against kaddht rather than through the gossip layer.
func TestPutGetRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	h1, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("host 1: %v", err)
	}
	defer h1.Close()
	h2, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("host 2: %v", err)
	}
	defer h2.Close()

	c1, err := New(ctx, h1, nil, 2*time.Second, 3)
	if err != nil {
		t.Fatalf("client 1: %v", err)
	}
	defer c1.Close()
	c2, err := New(ctx, h2, nil, 2*time.Second, 3)
	if err != nil {
		t.Fatalf("client 2: %v", err)
	}
	defer c2.Close()

	if err := h1.Connect(ctx, peer.AddrInfo{ID: h2.ID(), Addrs: h2.Addrs()}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitRoutingTable(t, ctx, c1)
	waitRoutingTable(t, ctx, c2)

	if err := c1.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	want := []byte("quorumview-dht-round-trip")
	if err := c1.PutRecord(ctx, "round-trip-key", want); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	got, err := c2.GetRecord(ctx, "round-trip-key")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("GetRecord returned %q, want %q", got, want)
	}
}

// waitRoutingTable polls until a client's routing table holds at least
// one peer, since kad-dht adds connected peers to its table
// asynchronously off a network notifee.
func waitRoutingTable(t *testing.T, ctx context.Context, c *Client) {
	t.Helper()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.RoutingTableSize() > 0 {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for routing table to populate")
		case <-ticker.C:
		}
	}
}
