package sampler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/shoesensor/internal/groutine"
)

const (
	// DefaultInterDelay is the settle delay between a completion and the next read.
	DefaultInterDelay = 5 * time.Millisecond

	// DefaultMailboxSize is the capacity of the worker mailbox.
	DefaultMailboxSize = 64
)

// Scheduler polls a fixed list of characteristics in round-robin order with at most
// one read outstanding at any time.
//
// All scheduler state is owned by a single worker goroutine. Public methods and
// transport completions are marshalled onto that worker through a mailbox, so a
// late completion racing with Stop can never produce a second outstanding read.
type Scheduler struct {
	logger *logrus.Logger
	sink   SampleSink
	now    func() time.Time

	mailbox   chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	state atomic.Uint32 // published copy of wstate

	// worker-owned
	wstate       State
	chars        []CharacteristicID
	interDelay   time.Duration
	next         int
	seq          uint64
	inflight     *ReadRequest
	transport    ReadCapable
	sessionStart time.Time
	pacing       *time.Timer
	pacingC      <-chan time.Time

	issued    atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64
	ignored   atomic.Uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for sample timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMailboxSize sets the worker mailbox capacity.
func WithMailboxSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.mailbox = make(chan func(), n)
		}
	}
}

// StartOption configures a single Start call.
type StartOption func(*startConfig)

type startConfig struct {
	sessionStart time.Time
}

// WithSessionStart sets the origin for Sample.Elapsed. Defaults to the time of Start.
func WithSessionStart(t time.Time) StartOption {
	return func(c *startConfig) {
		c.sessionStart = t
	}
}

// New creates a scheduler delivering samples to sink and starts its worker.
// Call Close to release the worker.
func New(sink SampleSink, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:  logrus.New(),
		sink:    sink,
		now:     time.Now,
		mailbox: make(chan func(), DefaultMailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.sink = SinkFunc(func(Sample) {})
	}

	groutine.Go(context.Background(), "sample-scheduler", s.run)
	return s
}

// Configure sets the ordered characteristic list and the inter-read delay.
// It must be called while the scheduler is idle.
func (s *Scheduler) Configure(chars []CharacteristicID, interDelay time.Duration) error {
	if len(chars) == 0 {
		return &ConfigError{Reason: "characteristic list is empty"}
	}
	if interDelay < 0 {
		return &ConfigError{Reason: fmt.Sprintf("negative inter-read delay %v", interDelay)}
	}
	seen := make(map[CharacteristicID]struct{}, len(chars))
	for _, id := range chars {
		if _, dup := seen[id]; dup {
			return &ConfigError{Reason: fmt.Sprintf("duplicate characteristic %q", id)}
		}
		seen[id] = struct{}{}
	}

	list := append([]CharacteristicID(nil), chars...)
	return s.call(func() error {
		if s.wstate != StateIdle {
			return &InvalidStateError{Op: "configure", State: s.wstate}
		}
		s.chars = list
		s.interDelay = interDelay
		s.next = 0
		s.logger.WithFields(logrus.Fields{
			"characteristics": list,
			"inter_delay":     interDelay,
		}).Debug("Scheduler configured")
		return nil
	})
}

// Start begins sampling through transport. The first read is issued before Start returns.
func (s *Scheduler) Start(transport ReadCapable, opts ...StartOption) error {
	if transport == nil {
		return &ConfigError{Reason: "transport is nil"}
	}
	cfg := startConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return s.call(func() error {
		if s.wstate != StateIdle {
			return &InvalidStateError{Op: "start", State: s.wstate}
		}
		if len(s.chars) == 0 {
			return &ConfigError{Reason: "scheduler is not configured"}
		}

		s.transport = transport
		s.next = 0
		s.sessionStart = cfg.sessionStart
		if s.sessionStart.IsZero() {
			s.sessionStart = s.now()
		}
		s.setState(StateRunning)
		s.logger.WithField("characteristics", len(s.chars)).Info("Sampling started")

		s.issue()
		return nil
	})
}

// Stop halts sampling. No new read is issued once Stop returns; a read already
// handed to the transport may still complete and is discarded. Stop is idempotent.
func (s *Scheduler) Stop() {
	_ = s.call(func() error {
		s.stop()
		return nil
	})
}

// OnReadComplete reports a successful read of id for transports that signal
// completions out of band rather than through the Completion callback.
func (s *Scheduler) OnReadComplete(id CharacteristicID, value int) {
	s.post(func() { s.completeOutstanding(id, value, nil) })
}

// OnReadError reports a failed read of id.
func (s *Scheduler) OnReadError(id CharacteristicID, err error) {
	if err == nil {
		err = fmt.Errorf("read of %s failed", id)
	}
	s.post(func() { s.completeOutstanding(id, 0, err) })
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Issued:    s.issued.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Discarded: s.discarded.Load(),
		Ignored:   s.ignored.Load(),
	}
}

// Close stops sampling and terminates the worker. Completions arriving afterwards are dropped.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Scheduler worker started")
	for {
		select {
		case <-s.quit:
			s.stop()
			s.cancelPacing()
			s.transport = nil
			s.inflight = nil
			s.setState(StateIdle)
			s.logger.Debug("Scheduler worker exited")
			return
		case fn := <-s.mailbox:
			fn()
		case <-s.pacingC:
			s.pacing = nil
			s.pacingC = nil
			if s.wstate == StateRunning && s.inflight == nil {
				s.issue()
			}
		}
	}
}

// call runs fn on the worker and waits for its result.
func (s *Scheduler) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.mailbox <- func() { reply <- fn() }:
	case <-s.quit:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// post queues fn for the worker without waiting. Completions may be delivered
// synchronously from inside IssueRead, i.e. on the worker itself, so a full
// mailbox is handed off to a helper goroutine instead of blocking.
func (s *Scheduler) post(fn func()) {
	select {
	case s.mailbox <- fn:
		return
	case <-s.quit:
		return
	default:
	}

	go func() {
		select {
		case s.mailbox <- fn:
		case <-s.quit:
		}
	}()
}

func (s *Scheduler) setState(st State) {
	s.wstate = st
	s.state.Store(uint32(st))
}

func (s *Scheduler) issue() {
	s.seq++
	req := ReadRequest{
		Index:          s.next,
		Characteristic: s.chars[s.next],
		Seq:            s.seq,
	}
	s.inflight = &req
	s.issued.Add(1)

	s.logger.WithField("request", req.String()).Trace("Issuing read")
	s.transport.IssueRead(req, func(value int, err error) {
		s.post(func() { s.complete(req, value, err) })
	})
}

func (s *Scheduler) completeOutstanding(id CharacteristicID, value int, err error) {
	if s.inflight == nil || s.inflight.Characteristic != id {
		s.ignored.Add(1)
		s.logger.WithField("characteristic", id).Debug("Ignoring completion with no matching read")
		return
	}
	s.complete(*s.inflight, value, err)
}

func (s *Scheduler) complete(req ReadRequest, value int, err error) {
	if s.inflight == nil || s.inflight.Seq != req.Seq {
		s.ignored.Add(1)
		s.logger.WithField("request", req.String()).Debug("Ignoring completion with no matching read")
		return
	}
	s.inflight = nil

	if s.wstate != StateRunning {
		s.discarded.Add(1)
		s.logger.WithField("request", req.String()).Debug("Discarding completion after stop")
		s.toIdle()
		return
	}

	if err != nil {
		s.failed.Add(1)
		s.logger.WithFields(logrus.Fields{
			"request": req.String(),
			"error":   err,
		}).Warn("Characteristic read failed")
	} else {
		s.completed.Add(1)
		s.sink.Accept(Sample{
			Characteristic: req.Characteristic,
			Value:          value,
			Elapsed:        s.now().Sub(s.sessionStart),
			Seq:            req.Seq,
		})
	}

	s.next = (req.Index + 1) % len(s.chars)
	s.arm()
}

func (s *Scheduler) arm() {
	if s.interDelay <= 0 {
		s.issue()
		return
	}
	s.pacing = time.NewTimer(s.interDelay)
	s.pacingC = s.pacing.C
}

func (s *Scheduler) cancelPacing() {
	if s.pacing != nil {
		s.pacing.Stop()
	}
	s.pacing = nil
	s.pacingC = nil
}

func (s *Scheduler) stop() {
	if s.wstate != StateRunning {
		return
	}
	s.cancelPacing()
	if s.inflight != nil {
		s.setState(StateStopping)
		s.logger.WithField("request", s.inflight.String()).Info("Sampling stopping, waiting for outstanding read")
		return
	}
	s.toIdle()
	s.logger.Info("Sampling stopped")
}

func (s *Scheduler) toIdle() {
	s.cancelPacing()
	s.transport = nil
	s.setState(StateIdle)
}
