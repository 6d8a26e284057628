package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/shoesensor/internal/groutine"
	"github.com/srg/shoesensor/internal/sampler"
)

const (
	// DefaultDispatchBuffer is the default number of events held for a slow consumer.
	DefaultDispatchBuffer uint32 = 1024

	// MaxDispatchBuffer is the largest accepted buffer size.
	MaxDispatchBuffer uint32 = 1024 * 1024
)

// Consumer receives samples and session notifications on the dispatcher goroutine.
type Consumer interface {
	Accept(sampler.Sample)
	SessionEnded()
}

type eventKind uint8

const (
	eventSample eventKind = iota
	eventSessionEnded
)

// event carries the number of session ends published before it. The drainer
// uses it to re-issue session ends that were overwritten.
type event struct {
	kind    eventKind
	session uint64
	sample  sampler.Sample
}

// DispatcherMetrics holds lock-free dispatcher counters.
type DispatcherMetrics struct {
	Published   int64 // events accepted into the ring
	Delivered   int64 // events handed to the consumer
	Overwritten int64 // events lost because the consumer fell behind
	Restored    int64 // overwritten session ends re-issued to the consumer
	Errors      int64
}

// Dispatcher hands events from the sampling path to a Consumer without blocking
// the producer. Events are kept in an overlapped ring buffer: when the consumer
// falls behind the oldest events are overwritten. Delivery order matches
// publish order. Session ends are never lost: an overwritten one is re-issued
// before the first surviving event of the next session.
type Dispatcher struct {
	consumer Consumer
	buffer   mpmc.RichOverlappedRingBuffer[event]
	logger   *logrus.Logger

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	ended      atomic.Uint64 // session ends published
	endsIssued uint64        // session ends handed to the consumer, drainer-owned

	published   atomic.Int64
	delivered   atomic.Int64
	overwritten atomic.Int64
	restored    atomic.Int64
	errors      atomic.Int64
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine.
func NewDispatcher(consumer Consumer, bufferSize uint32, logger *logrus.Logger) (*Dispatcher, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxDispatchBuffer {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxDispatchBuffer)
	}
	if logger == nil {
		logger = logrus.New()
	}

	d := &Dispatcher{
		consumer: consumer,
		buffer:   mpmc.NewOverlappedRingBuffer[event](bufferSize),
		logger:   logger,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	groutine.Go(context.Background(), "sample-dispatcher", d.run)
	return d, nil
}

// PublishSample queues a sample. Never blocks.
func (d *Dispatcher) PublishSample(s sampler.Sample) {
	d.publish(event{kind: eventSample, session: d.ended.Load(), sample: s})
}

// PublishSessionEnded queues a session-ended notification. Never blocks.
func (d *Dispatcher) PublishSessionEnded() {
	d.publish(event{kind: eventSessionEnded, session: d.ended.Add(1) - 1})
}

func (d *Dispatcher) publish(ev event) {
	overwrites, err := d.buffer.EnqueueM(ev)
	if err != nil {
		d.errors.Add(1)
		d.logger.WithError(err).Error("Failed to queue event for consumer")
		return
	}
	d.published.Add(1)
	if overwrites > 0 {
		d.overwritten.Add(int64(overwrites))
		d.logger.WithField("overwritten", overwrites).Debug("Consumer is behind, oldest events dropped")
	}

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Metrics returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Metrics() DispatcherMetrics {
	return DispatcherMetrics{
		Published:   d.published.Load(),
		Delivered:   d.delivered.Load(),
		Overwritten: d.overwritten.Load(),
		Restored:    d.restored.Load(),
		Errors:      d.errors.Load(),
	}
}

// Close delivers whatever is still buffered and stops the delivery goroutine.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
	})
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			d.drain()
			d.restoreSessionEnds(d.ended.Load())
			return
		case <-d.notify:
			d.drain()
		}
	}
}

func (d *Dispatcher) drain() {
	for !d.buffer.IsEmpty() {
		ev, err := d.buffer.Dequeue()
		if err != nil {
			d.errors.Add(1)
			d.logger.WithError(err).Debug("Dequeue failed")
			return
		}
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev event) {
	d.restoreSessionEnds(ev.session)

	if ev.kind == eventSessionEnded {
		if ev.session < d.endsIssued {
			// already re-issued
			return
		}
		d.endsIssued = ev.session + 1
	}

	d.invoke(func() {
		switch ev.kind {
		case eventSample:
			d.consumer.Accept(ev.sample)
		case eventSessionEnded:
			d.consumer.SessionEnded()
		}
	})
	d.delivered.Add(1)
}

// restoreSessionEnds issues the session ends below upTo that the consumer has
// not seen.
func (d *Dispatcher) restoreSessionEnds(upTo uint64) {
	for d.endsIssued < upTo {
		d.endsIssued++
		d.restored.Add(1)
		d.logger.WithField("session_ends", d.endsIssued).Debug("Re-issuing overwritten session end")
		d.invoke(d.consumer.SessionEnded)
	}
}

func (d *Dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.errors.Add(1)
			d.logger.WithField("panic", r).Error("Consumer panicked")
		}
	}()
	fn()
}
