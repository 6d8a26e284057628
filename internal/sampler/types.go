package sampler

import (
	"fmt"
	"time"
)

// CharacteristicID is an opaque handle for one monitored characteristic.
// Values are assigned by the service-resolution layer and never change during a session.
type CharacteristicID string

// ReadRequest describes a single read issued to the transport.
type ReadRequest struct {
	Index          int              // position in the configured round-robin list
	Characteristic CharacteristicID // characteristic to read
	Seq            uint64           // issue sequence number, monotonic over the scheduler lifetime
}

func (r ReadRequest) String() string {
	return fmt.Sprintf("%s#%d", r.Characteristic, r.Seq)
}

// Sample is a single value read from the peripheral.
type Sample struct {
	Characteristic CharacteristicID
	Value          int           // raw UINT8 value, 0..255
	Elapsed        time.Duration // time since session start
	Seq            uint64        // sequence number of the read that produced the sample
}

// Completion is invoked by the transport exactly once per issued read.
// A non-nil err means the read failed and value must be ignored.
type Completion func(value int, err error)

// ReadCapable is the narrow view of the transport used by the scheduler.
//
// IssueRead must not block: the read is performed asynchronously and its outcome
// is reported through done, from any goroutine.
type ReadCapable interface {
	IssueRead(req ReadRequest, done Completion)
}

// SampleSink receives samples. Accept is called on the scheduler worker: it must not
// block and must not call back into the Scheduler synchronously.
type SampleSink interface {
	Accept(Sample)
}

// SinkFunc adapts a function to SampleSink.
type SinkFunc func(Sample)

func (f SinkFunc) Accept(s Sample) { f(s) }

// State is the scheduler lifecycle state.
type State uint32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Issued    uint64 // reads handed to the transport
	Completed uint64 // successful completions forwarded as samples
	Failed    uint64 // completions carrying a transport error
	Discarded uint64 // completions observed after Stop
	Ignored   uint64 // completions that did not match the outstanding read
}
