package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/shoesensor/internal/gatt"
)

// FakeRadio is a gatt.ScanningDevice that replays advertisements and then
// waits for the scan context to end, like a real radio.
type FakeRadio struct {
	mu    sync.Mutex
	ads   []gatt.Advertisement
	gap   time.Duration
	err   error
	scans int
}

// NewFakeRadio creates a radio that will deliver ads in order on every scan.
func NewFakeRadio(ads ...gatt.Advertisement) *FakeRadio {
	return &FakeRadio{ads: ads}
}

// WithGap delays each advertisement by d.
func (r *FakeRadio) WithGap(d time.Duration) *FakeRadio {
	r.gap = d
	return r
}

// WithError makes Scan fail immediately with err.
func (r *FakeRadio) WithError(err error) *FakeRadio {
	r.err = err
	return r
}

// Scans returns how many scans were started.
func (r *FakeRadio) Scans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

func (r *FakeRadio) Scan(ctx context.Context, _ bool, handler func(gatt.Advertisement)) error {
	r.mu.Lock()
	r.scans++
	ads := append([]gatt.Advertisement(nil), r.ads...)
	gap, err := r.gap, r.err
	r.mu.Unlock()

	if err != nil {
		return err
	}

	for _, adv := range ads {
		if gap > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(gap):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(adv)
	}

	<-ctx.Done()
	return ctx.Err()
}
