// Package session ties the connection lifecycle of a peripheral to the sample
// scheduler and routes samples to a consumer.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/shoesensor/internal/sampler"
)

// State is the session-level connection state.
type State int

const (
	Disconnected State = iota
	Connected
	ServicesReady
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case ServicesReady:
		return "services_ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventHandler receives connection lifecycle events from a connection source.
type EventHandler interface {
	OnConnected()
	OnServicesReady(chars []sampler.CharacteristicID) error
	OnDisconnected()
}

// Options configures a Controller.
type Options struct {
	InterDelay     time.Duration // settle delay between reads
	DispatchBuffer uint32        // ring capacity between scheduler and consumer
	Logger         *logrus.Logger
	Clock          func() time.Time
}

// Controller owns a sample scheduler for its whole lifetime and drives it from
// connection events. It implements EventHandler and sampler.SampleSink.
type Controller struct {
	transport  sampler.ReadCapable
	scheduler  *sampler.Scheduler
	dispatcher *Dispatcher
	interDelay time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	mu       sync.Mutex
	state    State
	started  time.Time
	sessions int
}

var _ EventHandler = (*Controller)(nil)
var _ sampler.SampleSink = (*Controller)(nil)

// NewController creates a controller reading through transport and delivering to consumer.
func NewController(transport sampler.ReadCapable, consumer Consumer, opts Options) (*Controller, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.DispatchBuffer == 0 {
		opts.DispatchBuffer = DefaultDispatchBuffer
	}

	dispatcher, err := NewDispatcher(consumer, opts.DispatchBuffer, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	c := &Controller{
		transport:  transport,
		dispatcher: dispatcher,
		interDelay: opts.InterDelay,
		logger:     opts.Logger,
		now:        opts.Clock,
		state:      Disconnected,
	}
	c.scheduler = sampler.New(c,
		sampler.WithLogger(opts.Logger),
		sampler.WithClock(opts.Clock),
	)
	return c, nil
}

// OnConnected records the link coming up. Sampling waits for service resolution.
func (c *Controller) OnConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Connected
	c.logger.Debug("Peripheral connected, waiting for services")
}

// OnServicesReady starts a sampling session over chars.
func (c *Controller) OnServicesReady(chars []sampler.CharacteristicID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	started := c.now()
	if err := c.scheduler.Configure(chars, c.interDelay); err != nil {
		return fmt.Errorf("failed to configure sampling: %w", err)
	}
	if err := c.scheduler.Start(c.transport, sampler.WithSessionStart(started)); err != nil {
		return fmt.Errorf("failed to start sampling: %w", err)
	}

	c.state = ServicesReady
	c.started = started
	c.sessions++
	c.logger.WithFields(logrus.Fields{
		"session":         c.sessions,
		"characteristics": chars,
		"inter_delay":     c.interDelay,
	}).Info("Sampling session started")
	return nil
}

// OnDisconnected stops sampling and tells the consumer the session ended.
// It is safe to call in any state, including before a session was ever started.
func (c *Controller) OnDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scheduler.Stop()
	c.dispatcher.PublishSessionEnded()

	if c.state == ServicesReady {
		stats := c.scheduler.Stats()
		c.logger.WithFields(logrus.Fields{
			"session":   c.sessions,
			"duration":  c.now().Sub(c.started).Truncate(time.Millisecond),
			"issued":    stats.Issued,
			"completed": stats.Completed,
			"failed":    stats.Failed,
		}).Info("Sampling session ended")
	}
	c.state = Disconnected
}

// Accept forwards a sample to the consumer without blocking the scheduler.
func (c *Controller) Accept(s sampler.Sample) {
	c.dispatcher.PublishSample(s)
}

// State returns the session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SchedulerState returns the state of the owned scheduler.
func (c *Controller) SchedulerState() sampler.State {
	return c.scheduler.State()
}

// Stats returns the owned scheduler counters.
func (c *Controller) Stats() sampler.Stats {
	return c.scheduler.Stats()
}

// DispatcherMetrics returns the consumer handoff counters.
func (c *Controller) DispatcherMetrics() DispatcherMetrics {
	return c.dispatcher.Metrics()
}

// Close stops sampling, releases the scheduler worker and flushes pending events to the consumer.
func (c *Controller) Close() {
	c.scheduler.Close()
	c.dispatcher.Close()
}
