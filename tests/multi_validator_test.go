// file: tests/multi_validator_test.go
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/nyxrelay/quorumview/pkg/consensus"
	"github.com/nyxrelay/quorumview/pkg/harness"
)

// TestFourValidatorsHappyPath runs 4 equal-stake validators (N=4,
// threshold ⌊2·4/3⌋+1=3) through several views with no faults,
// grounded on the teacher's TestFourValidators but driven by the
// event-bus task set instead of direct Engine.Run calls.
func TestFourValidatorsHappyPath(t *testing.T) {
	const n = 4
	const targetHeight = 5

	timing := consensus.RoundTiming{ProposeMaxRoundTime: 150 * time.Millisecond}
	replicas, _, stop := buildReplicaSet(n, timing, 300*time.Millisecond)
	defer stop()

	safety := harness.NewSafetyObserver()
	counter := harness.NewCompletionCounter(targetHeight, n)
	obsCtx, obsCancel := context.WithCancel(context.Background())
	defer obsCancel()
	for _, r := range replicas {
		observeDecisions(obsCtx, r, safety, counter)
	}

	if !counter.WaitAll(10 * time.Second) {
		t.Fatal("timed out waiting for all replicas to decide height", targetHeight)
	}
	if safety.Violation != nil {
		t.Fatalf("safety violation: %v", safety.Violation)
	}

	var want []byte
	for i, r := range replicas {
		chain, err := r.store.DecidedChain()
		if err != nil {
			t.Fatalf("val%d: DecidedChain: %v", i+1, err)
		}
		if len(chain) < targetHeight {
			t.Fatalf("val%d: expected decided height >= %d, got %d", i+1, targetHeight, len(chain))
		}
		got := chain[targetHeight-1].Metadata
		if want == nil {
			want = got
		} else if string(got) != string(want) {
			t.Fatalf("val%d: decided payload at height %d diverges from val1", i+1, targetHeight)
		}
	}
}
