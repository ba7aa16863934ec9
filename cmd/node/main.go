// Command node runs one replica of the protocol: it loads
// configuration, opens storage, stands up the libp2p network and DHT,
// and launches the event bus plus four tasks (consensus, DA, view-sync,
// network dispatch) against it. The transaction pool is not a bus task:
// the payload hook reads it directly, and nothing on the bus pushes
// transactions into it. Grounded on
// the teacher's cmd/node/main.go wiring order (config -> logger ->
// state -> network -> engine -> signal-context run loop ->
// progress-logging ticker).
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nyxrelay/quorumview/pkg/config"
	"github.com/nyxrelay/quorumview/pkg/consensus"
	"github.com/nyxrelay/quorumview/pkg/crypto"
	"github.com/nyxrelay/quorumview/pkg/da"
	"github.com/nyxrelay/quorumview/pkg/dht"
	"github.com/nyxrelay/quorumview/pkg/eventbus"
	"github.com/nyxrelay/quorumview/pkg/httpxport"
	"github.com/nyxrelay/quorumview/pkg/netdispatch"
	"github.com/nyxrelay/quorumview/pkg/p2p"
	"github.com/nyxrelay/quorumview/pkg/storage"
	"github.com/nyxrelay/quorumview/pkg/txpool"
	"github.com/nyxrelay/quorumview/pkg/types"
	"github.com/nyxrelay/quorumview/pkg/util"
	"github.com/nyxrelay/quorumview/pkg/viewsync"
)

func main() {
	tomlPath := flag.String("config", "node.toml", "path to node TOML config")
	envPath := flag.String("env", ".env", "path to an optional .env override file")
	seedHex := flag.String("seed", "", "hex BLS seed for this replica's signing key")
	flag.Parse()

	cfg, err := config.Load(*tomlPath, *envPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	log, err := util.NewLoggerWithFile(cfg.DataDir + "/node.log")
	if err != nil {
		log, err = util.NewLogger()
		if err != nil {
			fmt.Fprintln(os.Stderr, "init logger:", err)
			os.Exit(1)
		}
	}
	defer log.Sync()

	table := cfg.StakeTable()
	self := types.NodeID(cfg.SelfID)

	signer := crypto.NewBLSSignerFromSeed(mustSeed(*seedHex))
	registry := crypto.NewRegistry()
	registry.Register(self, signer.Pubkey())

	store, err := storage.OpenPebbleStore(cfg.DataDir + "/store")
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	node, err := p2p.Begin(ctx, p2p.Config{
		ListenAddr: cfg.ListenAddr, Bootstrap: cfg.Bootstrap, SelfID: self, Logger: log,
		ConnectTimeout: cfg.ConnectTimeout(), DHTGetTimeout: cfg.DHTGetTimeout(), DHTRetryAttempts: cfg.DHTRetryAttempts,
	})
	if err != nil {
		log.Fatal("start p2p node", zap.Error(err))
	}
	defer node.Shutdown()

	dhtClient, err := dht.New(ctx, node.Host(), log, cfg.DHTGetTimeout(), cfg.DHTRetryAttempts)
	if err != nil {
		log.Fatal("start dht", zap.Error(err))
	}
	defer dhtClient.Close()
	if err := dhtClient.Bootstrap(ctx); err != nil {
		log.Warn("dht bootstrap", zap.Error(err))
	}

	bus := eventbus.New(log)

	pool := txpool.New(cfg.MinTransactions, cfg.MaxTransactions, cfg.TxHorizon())
	app := &appHook{pool: pool, log: log}

	safety := consensus.NewSafety(table, registry, store, consensus.GenesisLeaf())
	pacemaker := consensus.NewPacemaker(consensus.Timers{
		NextView: cfg.NextViewTimeout(), TimeoutRatio: cfg.TimeoutRatio, MaxTimeout: cfg.MaxTimeout(),
	}, util.RealClock{})
	timing := consensus.RoundTiming{
		RoundStartDelay: cfg.RoundStartDelay(), ProposeMinRoundTime: cfg.ProposeMinRoundTime(), ProposeMaxRoundTime: cfg.ProposeMaxRoundTime(),
	}
	quorumTask := consensus.NewTask(bus, self, table, safety, pacemaker, store, storage.NopWAL{}, signer, app, timing, log)

	daTask := da.NewTask(bus, self, table, cfg.DACommitteeSize, signer, store, app, log)
	viewSyncTask := viewsync.NewTask(bus, self, table, signer, store, cfg.ViewSyncPhaseDelay(), log)
	dispatcher := netdispatch.New(bus, node, log)

	if d := cfg.StartDelay(); d > 0 {
		time.Sleep(d)
	}

	go quorumTask.Run(ctx)
	go daTask.Run(ctx)
	go viewSyncTask.Run(ctx)
	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			log.Error("netdispatch exited", zap.Error(err))
		}
	}()

	if cfg.HTTPEnabled {
		startHTTPServers(bus, cfg, log)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			bus.Shutdown()
			return
		case <-ticker.C:
			chain, _ := store.DecidedChain()
			log.Info("progress", zap.Int("decided_height", len(chain)), zap.Int("connected_peers", node.NumConnected()))
		}
	}
}

func mustSeed(hexSeed string) []byte {
	if hexSeed == "" {
		return []byte("insecure-dev-seed-change-me-0000")
	}
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode -seed:", err)
		os.Exit(1)
	}
	return seed
}

// appHook satisfies both consensus.AppHook and da.PayloadSource: the
// quorum task asks it for a payload commitment, the DA task asks it
// for the raw bytes behind that commitment. It keeps a small per-view
// cache bridging the two calls, since PreparePayload and PayloadFor
// are invoked by different tasks for the same view.
type appHook struct {
	pool *txpool.Pool
	log  *zap.Logger

	mu      sync.Mutex
	payload map[types.View][]byte
}

func (a *appHook) PreparePayload(v types.View, maxBytes int) (types.Hash, []byte) {
	txs := a.pool.SelectForProposal(maxBytes)
	var total []byte
	for _, tx := range txs {
		total = append(total, tx...)
	}
	a.mu.Lock()
	if a.payload == nil {
		a.payload = make(map[types.View][]byte)
	}
	a.payload[v] = total
	for stale := range a.payload {
		if stale+64 < v {
			delete(a.payload, stale)
		}
	}
	a.mu.Unlock()
	return types.HashLeaf(types.Leaf{Metadata: total}), total
}

func (a *appHook) OnCommit(l types.Leaf) {
	a.log.Info("committed", zap.Uint64("height", uint64(l.Height)), zap.Uint64("view", uint64(l.View)))
}

func (a *appHook) PayloadFor(v types.View) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.payload[v]
}

func startHTTPServers(bus *eventbus.Bus, cfg config.Config, log *zap.Logger) {
	servers := []struct {
		addr  string
		name  string
		kinds []eventbus.Kind
	}{
		{cfg.HTTPQuorum, "quorum", []eventbus.Kind{
			eventbus.QuorumProposalRecv, eventbus.QuorumVoteRecv, eventbus.QCFormed,
			eventbus.SendPayloadCommitmentAndMetadata, eventbus.BlockReady,
		}},
		{cfg.HTTPDA, "da", []eventbus.Kind{eventbus.DAProposalRecv, eventbus.DAVoteRecv, eventbus.DACRecv}},
		{cfg.HTTPViewSync, "viewsync", []eventbus.Kind{eventbus.ViewSyncTrigger, eventbus.ViewSyncPreCommitCertificate2Recv}},
	}
	for _, s := range servers {
		if s.addr == "" {
			continue
		}
		srv := httpxport.New(bus, s.name, s.kinds, log)
		addr := s.addr
		go func() {
			log.Info("starting http transport", zap.String("name", s.name), zap.String("addr", addr))
			if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
				log.Error("http transport exited", zap.String("name", s.name), zap.Error(err))
			}
		}()
	}
}
