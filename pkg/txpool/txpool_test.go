package txpool

import (
	"testing"
	"time"
)

func TestSelectForProposalRespectsMaxBytesAndFIFO(t *testing.T) {
	p := New(0, 100, 0)
	p.Push([]byte("aaa"))
	p.Push([]byte("bbb"))
	p.Push([]byte("ccc"))

	out := p.SelectForProposal(7)
	if len(out) != 2 {
		t.Fatalf("expected 2 txs under a 7-byte budget, got %d", len(out))
	}
	if string(out[0]) != "aaa" || string(out[1]) != "bbb" {
		t.Fatalf("expected FIFO order, got %v", out)
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 tx left in the pool, got %d", p.Len())
	}
}

func TestReadyReflectsMinTxs(t *testing.T) {
	p := New(2, 10, 0)
	if p.Ready() {
		t.Fatal("expected not ready with zero pending txs")
	}
	p.Push([]byte("a"))
	if p.Ready() {
		t.Fatal("expected not ready with one pending tx and MinTxs=2")
	}
	p.Push([]byte("b"))
	if !p.Ready() {
		t.Fatal("expected ready once MinTxs is reached")
	}
}

func TestHorizonEvictsStaleTransactions(t *testing.T) {
	p := New(0, 10, time.Minute)
	fakeNow := time.Now()
	p.now = func() time.Time { return fakeNow }
	p.Push([]byte("stale"))

	fakeNow = fakeNow.Add(2 * time.Minute)
	if p.Len() != 0 {
		t.Fatalf("expected stale tx evicted, got len=%d", p.Len())
	}
}
