package harness

import (
	"testing"
	"time"

	"github.com/nyxrelay/quorumview/pkg/types"
)

func TestSafetyObserverPassesOnAgreeingDecisions(t *testing.T) {
	o := NewSafetyObserver()
	leaf := types.Leaf{View: 1, Height: 1, Proposer: "a"}
	o.Observe(leaf)
	o.Observe(leaf) // a second replica deciding the identical leaf is fine
	if o.Violation != nil {
		t.Fatalf("expected no violation, got %v", o.Violation)
	}
}

func TestSafetyObserverCatchesDivergentDecisions(t *testing.T) {
	o := NewSafetyObserver()
	o.Observe(types.Leaf{View: 1, Height: 1, Proposer: "a"})
	o.Observe(types.Leaf{View: 1, Height: 1, Proposer: "b"})
	if o.Violation == nil {
		t.Fatal("expected a safety violation for two different leaves decided at the same view")
	}
}

func TestCompletionCounterWaitsForAllReplicas(t *testing.T) {
	c := NewCompletionCounter(3, 2)
	c.Report("n0", 3)
	if c.WaitAll(10 * time.Millisecond) {
		t.Fatal("expected WaitAll to time out with only one of two replicas reporting")
	}
	c.Report("n1", 3)
	if !c.WaitAll(time.Second) {
		t.Fatal("expected WaitAll to unblock once every replica reaches the target height")
	}
}

func TestCompletionCounterRequiresTargetHeightNotJustPresence(t *testing.T) {
	c := NewCompletionCounter(5, 1)
	c.Report("n0", 2)
	if c.WaitAll(10 * time.Millisecond) {
		t.Fatal("expected WaitAll to time out until the reported height reaches the target")
	}
	c.Report("n0", 5)
	if !c.WaitAll(time.Second) {
		t.Fatal("expected WaitAll to unblock once the target height is reached")
	}
}
