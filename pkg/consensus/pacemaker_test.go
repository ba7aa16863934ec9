package consensus

import (
	"testing"
	"time"

	"github.com/nyxrelay/quorumview/pkg/types"
)

// fakeClock lets tests fire a pacemaker timeout instantly instead of
// waiting on a real timer.
type fakeClock struct {
	ch chan time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{ch: make(chan time.Time, 1)} }

func (c *fakeClock) After(time.Duration) <-chan time.Time { return c.ch }
func (c *fakeClock) Now() time.Time                       { return time.Time{} }
func (c *fakeClock) fire()                                { c.ch <- time.Time{} }

func TestCurrentTimeoutScalesWithConsecutiveTimeouts(t *testing.T) {
	pm := NewPacemaker(Timers{NextView: 100 * time.Millisecond, TimeoutRatio: 2, MaxTimeout: time.Second}, newFakeClock())
	base := pm.CurrentTimeout()
	pm.AdvanceView(1, true)
	scaled := pm.CurrentTimeout()
	if scaled <= base {
		t.Fatalf("expected timeout to grow after a timeout-driven advance: base=%v scaled=%v", base, scaled)
	}
}

func TestCurrentTimeoutCapsAtMaxTimeout(t *testing.T) {
	pm := NewPacemaker(Timers{NextView: 100 * time.Millisecond, TimeoutRatio: 10, MaxTimeout: 500 * time.Millisecond}, newFakeClock())
	for v := types.View(1); v <= 5; v++ {
		pm.AdvanceView(v, true)
	}
	if got := pm.CurrentTimeout(); got != 500*time.Millisecond {
		t.Fatalf("expected timeout capped at 500ms, got %v", got)
	}
}

func TestAdvanceViewWithoutTimeoutResetsBackoff(t *testing.T) {
	pm := NewPacemaker(Timers{NextView: 100 * time.Millisecond, TimeoutRatio: 2, MaxTimeout: time.Second}, newFakeClock())
	pm.AdvanceView(1, true)
	pm.AdvanceView(2, false)
	if got := pm.CurrentTimeout(); got != 100*time.Millisecond {
		t.Fatalf("expected backoff reset to the base timeout, got %v", got)
	}
}

func TestWaitForAdvanceReturnsFalseOnProgress(t *testing.T) {
	pm := NewPacemaker(Timers{NextView: time.Second, TimeoutRatio: 1, MaxTimeout: time.Second}, newFakeClock())
	pm.AdvanceView(1, false)
	if timedOut := pm.WaitForAdvance(); timedOut {
		t.Fatal("expected WaitForAdvance to report progress, not a timeout")
	}
}

func TestWaitForAdvanceReturnsTrueOnClockFire(t *testing.T) {
	clock := newFakeClock()
	pm := NewPacemaker(Timers{NextView: time.Millisecond, TimeoutRatio: 1, MaxTimeout: time.Second}, clock)
	clock.fire()
	if timedOut := pm.WaitForAdvance(); !timedOut {
		t.Fatal("expected WaitForAdvance to report a timeout when the clock fires")
	}
}
