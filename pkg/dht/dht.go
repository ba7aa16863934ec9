// Package dht wraps a Kademlia DHT (go-libp2p-kad-dht) with bounded
// retry and a per-get deadline. A get returns the value the kad-dht
// lookup yields; it does not compare the records returned by several
// providers or require them to be byte-identical.
// Nothing in the teacher repo uses a DHT; this package is grounded on
// the teacher's libp2p host-construction style (pkg/p2p/libp2pnet.go)
// and on original_source's NetworkNodeHandle put_record/get_record
// operations, which this module's control surface mirrors.
package dht

import (
	"context"
	"fmt"
	"time"

	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	record "github.com/libp2p/go-libp2p-record"
	"go.uber.org/zap"

	"github.com/nyxrelay/quorumview/pkg/nerrors"
)

// recordValidator accepts any value under the "quorumview" namespace and
// always prefers the first one seen: records are not validated by
// content at either the DHT layer or the Client level, so the DHT only
// needs enough of a Validator to avoid go-libp2p-kad-dht's
// unrecognized-namespace rejection.
type recordValidator struct{}

func (recordValidator) Validate(string, []byte) error { return nil }

func (recordValidator) Select(_ string, values [][]byte) (int, error) {
	return 0, nil
}

// Client is a thin retry wrapper around a kad-dht instance.
type Client struct {
	dht *kaddht.IpfsDHT
	log *zap.Logger

	getTimeout time.Duration
	retries    int
}

func New(ctx context.Context, h host.Host, log *zap.Logger, getTimeout time.Duration, retries int) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if getTimeout <= 0 {
		getTimeout = 5 * time.Second
	}
	if retries <= 0 {
		retries = 3
	}
	d, err := kaddht.New(ctx, h, kaddht.NamespacedValidator("quorumview", record.Validator(recordValidator{})))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nerrors.ErrDHT, err)
	}
	return &Client{dht: d, log: log, getTimeout: getTimeout, retries: retries}, nil
}

// Bootstrap runs the DHT's routing-table refresh, grounded on
// begin_bootstrap's "connect then let the DHT fill its table" flow.
func (c *Client) Bootstrap(ctx context.Context) error {
	return c.dht.Bootstrap(ctx)
}

// PutRecord writes a value under a key, replicated to the DHT's
// k-closest peers by the underlying implementation.
func (c *Client) PutRecord(ctx context.Context, key string, value []byte) error {
	if err := c.dht.PutValue(ctx, "/quorumview/"+key, value); err != nil {
		return fmt.Errorf("%w: %v", nerrors.ErrDHT, err)
	}
	return nil
}

// GetRecord reads a value, making at most c.retries attempts that all
// share one deadline of c.getTimeout from the call (also bounded by
// ctx), not a fresh timeout per attempt (per spec §9's resolution of
// the retry-count-vs-timeout open question), and returns the first
// value a successful attempt yields.
func (c *Client) GetRecord(ctx context.Context, key string) ([]byte, error) {
	deadline := time.Now().Add(c.getTimeout)
	cctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if time.Now().After(deadline) {
			break
		}
		val, err := c.dht.GetValue(cctx, "/quorumview/"+key)
		if err == nil {
			return val, nil
		}
		lastErr = err
		c.log.Warn("dht get_record attempt failed", zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = nerrors.ErrTimeout
	}
	return nil, fmt.Errorf("%w: %v", nerrors.ErrDHT, lastErr)
}

func (c *Client) Close() error {
	return c.dht.Close()
}

// RoutingTableSize reports how many peers this node's routing table
// currently holds, used by tests to wait for peer discovery before a
// put/get instead of sleeping a fixed duration.
func (c *Client) RoutingTableSize() int {
	return c.dht.RoutingTable().Size()
}
