package main

import (
	"bytes"
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/shoesensor/internal/gatt"
	"github.com/srg/shoesensor/internal/sampler"
	"github.com/srg/shoesensor/internal/session"
)

// fakeLink completes every read immediately and drops the connection after
// dropAfter reads of a session when dropAfter > 0.
type fakeLink struct {
	mu        sync.Mutex
	dropAfter int
	runs      int
	reads     int
	connected bool
	lost      chan struct{}
	runErr    error
}

func (f *fakeLink) Run(ctx context.Context, h session.EventHandler) error {
	f.mu.Lock()
	f.runs++
	if f.runErr != nil {
		f.mu.Unlock()
		return f.runErr
	}
	f.reads = 0
	f.lost = make(chan struct{})
	lost := f.lost
	f.connected = true
	f.mu.Unlock()

	h.OnConnected()
	defer func() {
		f.mu.Lock()
		f.connected = false
		f.mu.Unlock()
		h.OnDisconnected()
	}()

	if err := h.OnServicesReady([]sampler.CharacteristicID{gatt.AxisX, gatt.AxisY}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-lost:
		return gatt.ErrConnectionLost
	}
}

func (f *fakeLink) IssueRead(req sampler.ReadRequest, done sampler.Completion) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		go done(0, gatt.ErrNotConnected)
		return
	}
	f.reads++
	value := f.reads
	var lost chan struct{}
	if f.dropAfter > 0 && f.reads == f.dropAfter {
		lost = f.lost
	}
	f.mu.Unlock()

	go func() {
		done(value, nil)
		if lost != nil {
			close(lost)
		}
	}()
}

func (f *fakeLink) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

// recordingConsumer records sample values and "end" markers in arrival order.
type recordingConsumer struct {
	mu     sync.Mutex
	events []string
	values []int
}

func (r *recordingConsumer) Accept(s sampler.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, string(s.Characteristic))
	r.values = append(r.values, s.Value)
}

func (r *recordingConsumer) SessionEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "end")
}

func (r *recordingConsumer) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func withFakeLink(link *fakeLink) func() {
	prev := newLink
	newLink = func(opts *gatt.LinkOptions, _ *logrus.Logger) (sensorLink, error) {
		return link, nil
	}
	return func() { newLink = prev }
}

func withFakeRadio(radio gatt.ScanningDevice) func() {
	prev := newRadio
	newRadio = func() (gatt.ScanningDevice, error) { return radio, nil }
	return func() { newRadio = prev }
}

// executeCommand runs the root command with args and returns stdout and stderr.
func executeCommand(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}
