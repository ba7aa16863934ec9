package consensus

import (
	"sync"
	"time"

	"github.com/nyxrelay/quorumview/pkg/types"
	"github.com/nyxrelay/quorumview/pkg/util"
)

// Timers holds the pacemaker's two durations, grounded on the
// teacher's PacemakerTimers{Ppc,Delta}: NextView is the nominal
// per-view budget, and Ratio/TimeoutRatio scales it on successive
// timeouts (spec §4.2's exponential back-off).
type Timers struct {
	NextView     time.Duration
	TimeoutRatio float64 // multiplier applied per consecutive timeout
	MaxTimeout   time.Duration
}

// Pacemaker drives view progression: it starts a timer on entering a
// view and signals a timeout if no progress (QC or TC) arrives first.
// Grounded on the teacher's Pacemaker (viewAdvanceCh drop-if-full
// signaling pattern), generalized to track consecutive-timeout count
// for exponential back-off.
type Pacemaker struct {
	timers Timers
	clock  util.Clock

	mu                 sync.Mutex
	view               types.View
	consecutiveTimeout int

	advanceCh chan struct{}
}

func NewPacemaker(timers Timers, clock util.Clock) *Pacemaker {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Pacemaker{timers: timers, clock: clock, advanceCh: make(chan struct{}, 1)}
}

// CurrentTimeout returns the duration to wait in the current view,
// scaled by the consecutive-timeout count.
func (p *Pacemaker) CurrentTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.timers.NextView
	for i := 0; i < p.consecutiveTimeout; i++ {
		d = time.Duration(float64(d) * p.timers.TimeoutRatio)
		if d >= p.timers.MaxTimeout {
			return p.timers.MaxTimeout
		}
	}
	return d
}

// AdvanceView moves to a new view, resetting the timeout back-off
// counter if progress was made via a QC rather than a TC. Reports
// whether the view actually advanced, so a stale or duplicate
// certificate for an already-passed view is a no-op for the caller
// too.
func (p *Pacemaker) AdvanceView(v types.View, sawTimeout bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v <= p.view {
		return false
	}
	p.view = v
	if sawTimeout {
		p.consecutiveTimeout++
	} else {
		p.consecutiveTimeout = 0
	}
	select {
	case p.advanceCh <- struct{}{}:
	default:
	}
	return true
}

func (p *Pacemaker) View() types.View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// ConsecutiveTimeouts reports the number of consecutive views this
// replica has advanced via a TC rather than a QC, the signal spec
// §4.4 activates view-sync on once it reaches the stake table's
// ViewSyncThreshold.
func (p *Pacemaker) ConsecutiveTimeouts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveTimeout
}

// WaitForAdvance blocks until either the view changes or the current
// view's timeout elapses, returning true if it was a timeout.
func (p *Pacemaker) WaitForAdvance() (timedOut bool) {
	select {
	case <-p.advanceCh:
		return false
	case <-p.clock.After(p.CurrentTimeout()):
		return true
	}
}
