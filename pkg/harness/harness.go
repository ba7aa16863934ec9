// Package harness provides in-process test scaffolding for wiring up
// several consensus replicas against a shared in-memory transport and
// asserting on their convergence. Grounded on the teacher's
// tests/multi_validator_test.go (manual peer-connection wiring, a
// polling-with-ticker-and-deadline convergence loop) and on
// original_source's testing/src/test_builder.rs (a round-result
// completion counter plus a safety-task observer that fails the test
// the instant two certified leaves at the same view disagree).
package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nyxrelay/quorumview/pkg/eventbus"
	"github.com/nyxrelay/quorumview/pkg/netdispatch"
	"github.com/nyxrelay/quorumview/pkg/types"
)

// SafetyObserver watches every decided leaf across all replicas and
// fails fast if two different leaves are ever decided at the same
// view, the single invariant a correct run must never violate.
type SafetyObserver struct {
	mu      sync.Mutex
	decided map[types.View]types.Hash
	Violation error
}

func NewSafetyObserver() *SafetyObserver {
	return &SafetyObserver{decided: make(map[types.View]types.Hash)}
}

func (o *SafetyObserver) Observe(l types.Leaf) {
	h := types.HashLeaf(l)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Violation != nil {
		return
	}
	if existing, ok := o.decided[l.View]; ok && existing != h {
		o.Violation = &SafetyViolation{View: l.View, First: existing, Second: h}
		return
	}
	o.decided[l.View] = h
}

type SafetyViolation struct {
	View        types.View
	First, Second types.Hash
}

func (e *SafetyViolation) Error() string {
	return "safety violation: two different leaves decided at the same view"
}

// CompletionCounter tracks how many replicas have reached a target
// decided height, grounded on test_builder.rs's round-result counting:
// a test waits on this rather than sleeping a fixed duration.
type CompletionCounter struct {
	mu       sync.Mutex
	reached  map[types.NodeID]types.Height
	target   types.Height
	replicas int
	done     chan struct{}
	closed   bool
}

// NewCompletionCounter waits for `replicas` distinct replicas to each
// report having reached `target` height before WaitAll unblocks early.
func NewCompletionCounter(target types.Height, replicas int) *CompletionCounter {
	return &CompletionCounter{reached: make(map[types.NodeID]types.Height), target: target, replicas: replicas, done: make(chan struct{})}
}

func (c *CompletionCounter) Report(id types.NodeID, h types.Height) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if cur, ok := c.reached[id]; !ok || h > cur {
		c.reached[id] = h
	}
	if len(c.reached) < c.replicas {
		return
	}
	for _, h := range c.reached {
		if h < c.target {
			return
		}
	}
	c.closed = true
	close(c.done)
}

// WaitAll blocks until at least `replicas` distinct replicas have
// reported and every one of them has reached the target height, or the
// deadline elapses.
func (c *CompletionCounter) WaitAll(deadline time.Duration) bool {
	select {
	case <-c.done:
		return true
	case <-time.After(deadline):
		return false
	}
}

// DropFunc reports whether a wire event from `from` should be dropped
// instead of delivered, letting a test simulate a crashed or
// partitioned leader for specific views.
type DropFunc func(from int, e eventbus.Event) bool

// Network bridges N replicas' buses without a real libp2p transport:
// it subscribes to every bus and forwards each outbound *Send event to
// every bus (including the sender's own, for self-delivery) as the
// corresponding *Recv event, mirroring pkg/netdispatch.Dispatcher's
// routing table and self-delivery note, but skipping the gossip/wire
// encode step since every replica shares one process.
type Network struct {
	buses []*eventbus.Bus
	Drop  DropFunc // optional; nil means nothing is dropped
}

func NewNetwork(buses []*eventbus.Bus) *Network {
	return &Network{buses: buses}
}

func (n *Network) Run(ctx context.Context) {
	sendToRecv := netdispatch.SendToRecv()
	for i, b := range n.buses {
		i, b := i, b
		events, unsub := b.Subscribe(fmt.Sprintf("harness-bridge-%d", i))
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-events:
					if !ok || e.Kind == eventbus.Shutdown {
						return
					}
					recvKind, routed := sendToRecv[e.Kind]
					if !routed {
						continue
					}
					if n.Drop != nil && n.Drop(i, e) {
						continue
					}
					recv := e
					recv.Kind = recvKind
					for _, peer := range n.buses {
						peer.Publish(recv)
					}
				}
			}
		}()
	}
}
