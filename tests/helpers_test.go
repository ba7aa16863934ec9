// file: tests/helpers_test.go
package tests

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nyxrelay/quorumview/pkg/consensus"
	"github.com/nyxrelay/quorumview/pkg/crypto"
	"github.com/nyxrelay/quorumview/pkg/da"
	"github.com/nyxrelay/quorumview/pkg/eventbus"
	"github.com/nyxrelay/quorumview/pkg/harness"
	"github.com/nyxrelay/quorumview/pkg/stake"
	"github.com/nyxrelay/quorumview/pkg/storage"
	"github.com/nyxrelay/quorumview/pkg/types"
	"github.com/nyxrelay/quorumview/pkg/util"
	"github.com/nyxrelay/quorumview/pkg/viewsync"
)

// testApp is a minimal consensus.AppHook/da.PayloadSource: it commits
// whatever payload PreparePayload hands out for a view, grounded on
// cmd/node/main.go's appHook but without the txpool dependency, since
// the integration tests only need a deterministic, observable payload
// per view.
type testApp struct {
	mu      sync.Mutex
	payload map[types.View][]byte
	commits []types.Leaf
}

func (a *testApp) PreparePayload(v types.View, maxBytes int) (types.Hash, []byte) {
	b := []byte(fmt.Sprintf("payload-%d", v))
	a.mu.Lock()
	if a.payload == nil {
		a.payload = make(map[types.View][]byte)
	}
	a.payload[v] = b
	a.mu.Unlock()
	return types.HashLeaf(types.Leaf{Metadata: b}), b
}

func (a *testApp) OnCommit(l types.Leaf) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commits = append(a.commits, l)
}

func (a *testApp) PayloadFor(v types.View) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.payload[v]
}

// replica bundles one validator's full task set, grounded on
// cmd/node/main.go's wiring order but pointed at an in-process
// harness.Network instead of real libp2p.
type replica struct {
	id     types.NodeID
	bus    *eventbus.Bus
	store  *storage.MemStore
	app    *testApp
	pm     *consensus.Pacemaker
	quo    *consensus.Task
	stopFn context.CancelFunc
}

// buildReplicaSet wires n equal-stake validators sharing one stake
// table and key registry, one bus each, bridged by a harness.Network.
// Returns the replicas and a cancel func that stops every task.
func buildReplicaSet(n int, timing consensus.RoundTiming, phaseDelay time.Duration) (replicas []*replica, net *harness.Network, stop func()) {
	ids := make([]types.NodeID, n)
	signers := make([]*crypto.BLSSigner, n)
	registry := crypto.NewRegistry()
	validators := make([]stake.Validator, n)
	for i := 0; i < n; i++ {
		ids[i] = types.NodeID(fmt.Sprintf("val%d", i+1))
		signers[i] = crypto.NewBLSSignerFromSeed([]byte(fmt.Sprintf("integration-test-seed-%02d-pad", i)))
		registry.Register(ids[i], signers[i].Pubkey())
		validators[i] = stake.Validator{ID: ids[i], Stake: 1}
	}
	table := stake.NewTable(validators)

	buses := make([]*eventbus.Bus, n)
	replicas = make([]*replica, n)
	for i := 0; i < n; i++ {
		bus := eventbus.New(nil)
		buses[i] = bus
		store := storage.NewMemStore()
		app := &testApp{}
		safety := consensus.NewSafety(table, registry, store, consensus.GenesisLeaf())
		pm := consensus.NewPacemaker(consensus.Timers{
			NextView: 60 * time.Millisecond, TimeoutRatio: 1.5, MaxTimeout: time.Second,
		}, util.RealClock{})
		quo := consensus.NewTask(bus, ids[i], table, safety, pm, store, storage.NopWAL{}, signers[i], app, timing, nil)
		daTask := da.NewTask(bus, ids[i], table, n, signers[i], store, app, nil)
		vsTask := viewsync.NewTask(bus, ids[i], table, signers[i], store, phaseDelay, nil)

		replicas[i] = &replica{id: ids[i], bus: bus, store: store, app: app, pm: pm, quo: quo}

		ctx, cancel := context.WithCancel(context.Background())
		go quo.Run(ctx)
		go daTask.Run(ctx)
		go vsTask.Run(ctx)
		replicas[i].stopFn = cancel
	}

	net = harness.NewNetwork(buses)
	netCtx, netCancel := context.WithCancel(context.Background())
	net.Run(netCtx)

	stop = func() {
		for _, r := range replicas {
			r.stopFn()
		}
		netCancel()
	}
	return replicas, net, stop
}

// observeDecisions subscribes one bus to LeafDecided and feeds both
// the safety observer and the completion counter, grounded on
// test_builder.rs's round-result reporting hooked off committed
// output rather than a fixed sleep.
func observeDecisions(ctx context.Context, r *replica, safety *harness.SafetyObserver, counter *harness.CompletionCounter) {
	events, unsub := r.bus.Subscribe("test-observer-" + string(r.id))
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
				if e.Kind != eventbus.LeafDecided {
					continue
				}
				for _, l := range e.Leaves {
					safety.Observe(l)
					counter.Report(r.id, l.Height)
				}
			}
		}
	}()
}
