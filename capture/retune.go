package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzchzchz/duocap/logging"
)

// Tuner performs the blocking hardware retune.
type Tuner interface {
	SetCenterFreq(hz uint32) error
}

// requester is the only retune surface visible to the delivery context.
type requester interface {
	Request(hz uint32)
}

// Retuner is a single-slot mailbox between the delivery context, which must
// never block on tuner I/O, and a control goroutine that applies retunes.
// A newer request replaces an unconsumed older one.
type Retuner struct {
	tuner   Tuner
	metrics *Metrics
	fields  logging.Fields

	mu         sync.Mutex
	pending    uint32
	hasPending bool

	wakec    chan struct{}
	donec    chan struct{}
	stopOnce sync.Once

	applied atomic.Uint64
}

func NewRetuner(t Tuner) *Retuner {
	return &Retuner{
		tuner: t,
		wakec: make(chan struct{}, 1),
		donec: make(chan struct{}),
	}
}

// Request posts hz for the control goroutine. It never blocks.
func (r *Retuner) Request(hz uint32) {
	r.mu.Lock()
	r.pending, r.hasPending = hz, true
	r.mu.Unlock()
	r.metrics.observeRequest()
	select {
	case r.wakec <- struct{}{}:
	default:
	}
}

func (r *Retuner) take() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hz, ok := r.pending, r.hasPending
	r.pending, r.hasPending = 0, false
	return hz, ok
}

func (r *Retuner) cancelled() bool {
	select {
	case <-r.donec:
		return true
	default:
		return false
	}
}

// Run services requests until Shutdown is called or ctx is done. A tuner
// failure ends the loop with an ErrDevice-wrapped error.
func (r *Retuner) Run(ctx context.Context) error {
	for {
		select {
		case <-r.donec:
			return nil
		case <-ctx.Done():
			return nil
		case <-r.wakec:
		}
		if r.cancelled() || ctx.Err() != nil {
			return nil
		}
		hz, ok := r.take()
		if !ok {
			continue
		}
		start := time.Now()
		err := r.tuner.SetCenterFreq(hz)
		r.metrics.observeRetune(time.Since(start), err)
		if err != nil {
			return fmt.Errorf("%w: retune to %d Hz: %v", ErrDevice, hz, err)
		}
		r.applied.Add(1)
		logging.Trace("retuned", logging.With(r.fields, logging.Fields{logging.FieldFrequency: hz}))
	}
}

// Shutdown wakes a blocked Run and makes it exit without retuning. Safe to
// call more than once.
func (r *Retuner) Shutdown() {
	r.stopOnce.Do(func() { close(r.donec) })
}

// drain empties the mailbox at teardown.
func (r *Retuner) drain() { r.take() }
