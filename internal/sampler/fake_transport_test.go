package sampler_test

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/shoesensor/internal/sampler"
)

type issuedRead struct {
	req sampler.ReadRequest
	at  time.Time
}

type pendingRead struct {
	req  sampler.ReadRequest
	done sampler.Completion
}

// fakeTransport records issued reads. With respond set, reads complete
// asynchronously; otherwise they stay pending until completeNext is called.
type fakeTransport struct {
	mu      sync.Mutex
	issued  []issuedRead
	pending []pendingRead
	respond func(req sampler.ReadRequest) (int, error)

	outstanding    atomic.Int32
	maxOutstanding atomic.Int32
}

func newManualTransport() *fakeTransport {
	return &fakeTransport{}
}

func newAutoTransport(respond func(req sampler.ReadRequest) (int, error)) *fakeTransport {
	return &fakeTransport{respond: respond}
}

func (t *fakeTransport) IssueRead(req sampler.ReadRequest, done sampler.Completion) {
	n := t.outstanding.Add(1)
	for {
		cur := t.maxOutstanding.Load()
		if n <= cur || t.maxOutstanding.CompareAndSwap(cur, n) {
			break
		}
	}

	t.mu.Lock()
	t.issued = append(t.issued, issuedRead{req: req, at: time.Now()})
	respond := t.respond
	if respond == nil {
		t.pending = append(t.pending, pendingRead{req: req, done: done})
	}
	t.mu.Unlock()

	if respond != nil {
		go func() {
			value, err := respond(req)
			t.outstanding.Add(-1)
			done(value, err)
		}()
	}
}

// completeNext completes the oldest pending read and reports its request.
func (t *fakeTransport) completeNext(value int, err error) (sampler.ReadRequest, bool) {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return sampler.ReadRequest{}, false
	}
	p := t.pending[0]
	t.pending = t.pending[1:]
	t.mu.Unlock()

	t.outstanding.Add(-1)
	p.done(value, err)
	return p.req, true
}

func (t *fakeTransport) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *fakeTransport) issuedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.issued)
}

func (t *fakeTransport) issuedReads() []issuedRead {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]issuedRead(nil), t.issued...)
}

// recordingSink collects samples in arrival order.
type recordingSink struct {
	mu      sync.Mutex
	samples []sampler.Sample
}

func (s *recordingSink) Accept(sample sampler.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
}

func (s *recordingSink) Samples() []sampler.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sampler.Sample(nil), s.samples...)
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}
