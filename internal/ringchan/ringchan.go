// Package ringchan provides a bounded channel that drops the oldest element
// instead of blocking the producer.
package ringchan

// RingChannel wraps a buffered channel with overwrite-oldest sends.
// Readers use C() like any receive-only channel.
type RingChannel[T any] struct {
	ch chan T
}

// New creates a RingChannel holding at most capacity elements.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send enqueues v, evicting the oldest element when full. It reports whether
// an element was evicted. Concurrent senders may race for the freed slot, so
// Send retries until v is stored.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	for {
		select {
		case rc.ch <- v:
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			dropped = true
		default:
		}
	}
}

// TryReceive returns the oldest element without blocking.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		return v, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the channel. Send panics afterwards.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
