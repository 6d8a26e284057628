package session_test

import (
	"sync"

	"github.com/srg/shoesensor/internal/sampler"
	"github.com/stretchr/testify/mock"
)

type mockConsumer struct {
	mock.Mock
}

func (m *mockConsumer) Accept(s sampler.Sample) {
	m.Called(s)
}

func (m *mockConsumer) SessionEnded() {
	m.Called()
}

// recordingConsumer records samples and session-ended markers in arrival order.
type recordingConsumer struct {
	mu      sync.Mutex
	samples []sampler.Sample
	events  []string
	gate    chan struct{} // when non-nil, Accept waits on it
}

func (c *recordingConsumer) Accept(s sampler.Sample) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
	c.events = append(c.events, string(s.Characteristic))
}

func (c *recordingConsumer) SessionEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "ended")
}

func (c *recordingConsumer) Samples() []sampler.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sampler.Sample(nil), c.samples...)
}

func (c *recordingConsumer) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

type pendingRead struct {
	req  sampler.ReadRequest
	done sampler.Completion
}

// stubTransport keeps reads pending until completed, or completes them at once
// when auto is set.
type stubTransport struct {
	mu      sync.Mutex
	auto    bool
	issued  []sampler.ReadRequest
	pending []pendingRead
}

func (t *stubTransport) IssueRead(req sampler.ReadRequest, done sampler.Completion) {
	t.mu.Lock()
	t.issued = append(t.issued, req)
	auto := t.auto
	if !auto {
		t.pending = append(t.pending, pendingRead{req: req, done: done})
	}
	t.mu.Unlock()

	if auto {
		go done(int(req.Seq%256), nil)
	}
}

func (t *stubTransport) completeNext(value int, err error) (sampler.ReadRequest, bool) {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return sampler.ReadRequest{}, false
	}
	p := t.pending[0]
	t.pending = t.pending[1:]
	t.mu.Unlock()

	p.done(value, err)
	return p.req, true
}

func (t *stubTransport) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *stubTransport) issuedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.issued)
}
