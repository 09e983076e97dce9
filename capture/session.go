package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chzchzchz/duocap/logging"
)

// Device is the part of the driver the engine drives. Only the control side
// (Run and the Retuner) calls SetCenterFreq.
type Device interface {
	Tuner
	ResetBuffer() error
	ReadSync(buf []byte) (int, error)
	ReadAsync(cb func([]byte), buffers int, transferUnit uint32) error
	CancelAsync() error
	Close() error
}

type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Reason records why streaming stopped.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonBudget
	ReasonCancelled
	ReasonError
)

func (r Reason) String() string {
	switch r {
	case ReasonBudget:
		return "budget"
	case ReasonCancelled:
		return "cancelled"
	case ReasonError:
		return "error"
	}
	return "none"
}

func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Reason) UnmarshalText(b []byte) error {
	for _, v := range []Reason{ReasonNone, ReasonBudget, ReasonCancelled, ReasonError} {
		if v.String() == string(b) {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("unknown stop reason %q", b)
}

// cancelRetry re-issues a driver cancel until delivery returns; librtlsdr
// drops a cancel that arrives before its async loop is running.
var cancelRetry = 100 * time.Millisecond

type Stats struct {
	BytesWritten   uint64    `json:"bytes_written"`
	Chunks         uint64    `json:"chunks"`
	Blocks         [2]uint64 `json:"blocks"`
	RetuneRequests uint64    `json:"retune_requests"`
	Retunes        uint64    `json:"retunes"`
	Reason         Reason    `json:"reason"`
}

// Session streams a Device into a sink according to a Plan. A Session runs
// once and owns both the device and the sink.
type Session struct {
	id      string
	dev     Device
	sink    io.WriteCloser
	plan    Plan
	metrics *Metrics
	fields  logging.Fields

	// delivery context only
	sched     *Scheduler
	req       requester
	budgeted  bool
	remaining uint64

	bytesWritten atomic.Uint64
	chunks       atomic.Uint64
	blocks       [2]atomic.Uint64
	requests     atomic.Uint64

	retuner *Retuner

	state    atomic.Int32
	stopping atomic.Bool
	ran      atomic.Bool
	stopc    chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	err    error
	reason Reason

	closeOnce sync.Once
	wg        sync.WaitGroup
}

type Option func(*Session)

func WithMetrics(m *Metrics) Option { return func(s *Session) { s.metrics = m } }

func NewSession(dev Device, sink io.WriteCloser, plan Plan, opts ...Option) *Session {
	s := &Session{
		id:        uuid.New().String(),
		dev:       dev,
		sink:      sink,
		plan:      plan,
		sched:     NewScheduler(plan.Channels),
		budgeted:  plan.Budget > 0,
		remaining: plan.Budget,
		stopc:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fields = logging.Fields{logging.FieldSession: s.id}
	if plan.TwoFrequency() {
		s.retuner = NewRetuner(dev)
		s.retuner.metrics, s.retuner.fields = s.metrics, s.fields
		s.req = s.retuner
	}
	return s
}

func (s *Session) ID() string   { return s.id }
func (s *Session) State() State { return State(s.state.Load()) }
func (s *Session) Plan() Plan   { return s.plan }

// Err returns the first error recorded by either context.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats may be read while streaming; counters are final once Run returns.
func (s *Session) Stats() Stats {
	st := Stats{
		BytesWritten:   s.bytesWritten.Load(),
		Chunks:         s.chunks.Load(),
		Blocks:         [2]uint64{s.blocks[0].Load(), s.blocks[1].Load()},
		RetuneRequests: s.requests.Load(),
	}
	if s.retuner != nil {
		st.Retunes = s.retuner.applied.Load()
	}
	s.mu.Lock()
	st.Reason = s.reason
	s.mu.Unlock()
	return st
}

// Run tunes the first channel, streams until the budget is spent, ctx is
// cancelled or an error occurs, then tears everything down. Budget exhaustion
// and cancellation return nil.
func (s *Session) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return ErrSessionUsed
	}
	s.stream(ctx)
	s.teardown()
	return s.Err()
}

func (s *Session) stream(ctx context.Context) {
	if err := s.dev.SetCenterFreq(s.plan.InitialHz); err != nil {
		s.halt(ReasonError, fmt.Errorf("%w: set initial frequency %d Hz: %v", ErrDevice, s.plan.InitialHz, err))
		return
	}
	if err := s.dev.ResetBuffer(); err != nil {
		s.halt(ReasonError, fmt.Errorf("%w: reset buffer: %v", ErrDevice, err))
		return
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.retuner != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.retuner.Run(cctx); err != nil {
				s.halt(ReasonError, err)
			}
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-cctx.Done()
		if ctx.Err() != nil {
			s.halt(ReasonCancelled, nil)
		}
	}()

	// The canceller must be gone before teardown closes the device.
	donec, cancelc := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(cancelc)
		s.cancelOnStop(donec)
	}()
	defer func() {
		close(donec)
		<-cancelc
	}()

	s.state.Store(int32(StateStreaming))
	fields := logging.With(s.fields, logging.Fields{
		logging.FieldFrequency: s.plan.InitialHz,
		logging.FieldTransfer:  s.plan.TransferUnit,
	})
	if s.plan.Sync {
		logging.Info("reading samples in sync mode", fields)
		s.readSync()
	} else {
		logging.Info("reading samples in async mode", fields)
		s.readAsync()
	}
}

// cancelOnStop asks the driver to stop delivering once a stop is requested,
// repeating until delivery has returned.
func (s *Session) cancelOnStop(donec <-chan struct{}) {
	select {
	case <-donec:
		return
	case <-s.stopc:
	}
	select {
	case <-donec:
		return
	default:
	}
	t := time.NewTicker(cancelRetry)
	defer t.Stop()
	for {
		if err := s.dev.CancelAsync(); err != nil {
			logging.Debug("cancel delivery", logging.With(s.fields, logging.Fields{logging.FieldError: err}))
		}
		select {
		case <-donec:
			return
		case <-t.C:
		}
	}
}

func (s *Session) readAsync() {
	err := s.dev.ReadAsync(s.deliver, s.plan.Buffers, s.plan.TransferUnit)
	switch {
	case err != nil && s.stopping.Load():
		logging.Debug("async read ended after stop", logging.With(s.fields, logging.Fields{logging.FieldError: err}))
	case err != nil:
		s.halt(ReasonError, fmt.Errorf("%w: read async: %v", ErrDevice, err))
	case !s.stopping.Load():
		s.halt(ReasonError, fmt.Errorf("%w: %w", ErrDevice, ErrStreamEnded))
	}
}

func (s *Session) readSync() {
	buf := make([]byte, s.plan.TransferUnit)
	for !s.stopping.Load() {
		n, err := s.dev.ReadSync(buf)
		if err != nil {
			if s.stopping.Load() {
				logging.Debug("sync read ended after stop", logging.With(s.fields, logging.Fields{logging.FieldError: err}))
			} else {
				s.halt(ReasonError, fmt.Errorf("%w: read sync: %v", ErrDevice, err))
			}
			return
		}
		s.deliver(buf[:n])
		if n < len(buf) && !s.stopping.Load() {
			s.halt(ReasonError, fmt.Errorf("%w: %w: read %d of %d bytes", ErrIO, ErrShortRead, n, len(buf)))
		}
	}
}

// deliver handles one chunk from the driver. It runs in the delivery context
// and must not block on tuner I/O.
func (s *Session) deliver(buf []byte) {
	if s.stopping.Load() {
		s.metrics.observeDropped()
		return
	}
	n := len(buf)
	out := buf
	if s.budgeted && uint64(len(out)) > s.remaining {
		out = out[:s.remaining]
		s.stopping.Store(true)
	}

	w, err := s.sink.Write(out)
	if err == nil && w != len(out) {
		err = io.ErrShortWrite
	}
	if w > 0 {
		s.bytesWritten.Add(uint64(w))
	}
	s.chunks.Add(1)
	s.metrics.observeChunk(w)
	if err != nil {
		s.halt(ReasonError, fmt.Errorf("%w: %w: wrote %d of %d bytes: %v", ErrIO, ErrShortWrite, w, len(out), err))
		return
	}
	if s.budgeted {
		s.remaining -= uint64(w)
	}

	prev := s.sched.Active().ID
	if hz, ok := s.sched.Delivered(uint32(n)); ok {
		s.metrics.observeBlock(prev)
		s.blocks[prev].Add(1)
		s.requests.Add(1)
		s.req.Request(hz)
		logging.Trace("block complete", logging.With(s.fields, logging.Fields{
			logging.FieldChannel:   prev,
			logging.FieldFrequency: hz,
		}))
	}

	if s.budgeted && s.remaining == 0 {
		s.halt(ReasonBudget, nil)
	}
}

// halt records the first reason and error and requests a stop from either
// context. It never blocks.
func (s *Session) halt(reason Reason, err error) {
	s.mu.Lock()
	if s.reason == ReasonNone {
		s.reason = reason
	}
	if err != nil && s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	s.stopping.Store(true)
	s.stopOnce.Do(func() {
		close(s.stopc)
		if s.retuner != nil {
			s.retuner.Shutdown()
		}
	})
}

func (s *Session) teardown() {
	s.state.Store(int32(StateDraining))
	s.halt(ReasonNone, nil)
	s.wg.Wait()
	if s.retuner != nil {
		s.retuner.drain()
	}
	s.closeOnce.Do(func() {
		if err := s.dev.Close(); err != nil {
			s.halt(ReasonError, fmt.Errorf("%w: close device: %v", ErrDevice, err))
		}
		if err := s.sink.Close(); err != nil {
			s.halt(ReasonError, fmt.Errorf("%w: close output: %v", ErrIO, err))
		}
	})
	s.state.Store(int32(StateStopped))

	st := s.Stats()
	fields := logging.With(s.fields, logging.Fields{
		logging.FieldReason: st.Reason.String(),
		logging.FieldBytes:  st.BytesWritten,
	})
	if err := s.Err(); err != nil {
		fields[logging.FieldError] = err
		logging.Error("capture stopped", fields)
		return
	}
	logging.Info("capture stopped", fields)
}
