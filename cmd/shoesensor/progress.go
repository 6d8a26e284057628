package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/shoesensor/internal/output"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter redraws a single status line with the current phase and a
// seconds counter until Stop is called. It prints nothing when the writer is
// not a terminal.
//
// A ProgressPrinter is single-use: Start at most once, then Stop.
type ProgressPrinter struct {
	w          io.Writer
	prefix     string
	phase      atomic.Value // string
	stopPhases map[string]struct{}
	countdown  time.Duration // zero counts up
	enabled    bool

	mu        sync.Mutex // serializes writes to w
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer that shows elapsed seconds.
// Setting one of stopPhases through Callback stops the printer.
func NewProgressPrinter(w io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(w, prefix, phase, 0, stopPhases)
}

// NewCountdownProgressPrinter creates a printer that shows the seconds left of d.
func NewCountdownProgressPrinter(w io.Writer, prefix, phase string, d time.Duration, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(w, prefix, phase, d, stopPhases)
}

func newProgressPrinter(w io.Writer, prefix, phase string, d time.Duration, stopPhases []string) *ProgressPrinter {
	p := &ProgressPrinter{
		w:          w,
		prefix:     prefix,
		stopPhases: make(map[string]struct{}, len(stopPhases)),
		countdown:  d,
		enabled:    output.IsTerminal(w),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, s := range stopPhases {
		p.stopPhases[s] = struct{}{}
	}
	p.phase.Store(phase)
	return p
}

// Start begins redrawing in a background goroutine.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		if !p.enabled {
			close(p.done)
			return
		}
		go p.loop(time.Now())
	})
}

func (p *ProgressPrinter) loop(start time.Time) {
	defer close(p.done)

	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	p.draw(p.phase.Load().(string), 0)
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			seconds := int(elapsed.Seconds())
			if p.countdown > 0 {
				seconds = 0
				if remaining := p.countdown - elapsed; remaining > 0 {
					// round to the nearest second
					seconds = int(remaining.Seconds() + 0.5)
				}
			}
			p.draw(p.phase.Load().(string), seconds)
		}
	}
}

func (p *ProgressPrinter) draw(phase string, seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
}

// Callback returns a function that updates the phase. It is safe for
// concurrent use and stops the printer on a stop phase.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, ok := p.stopPhases[phase]; ok {
			p.Stop()
		}
	}
}

// Stop ends the redraw loop and clears the line. It may be called many times.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		// never started
		p.startOnce.Do(func() { close(p.done) })
		close(p.stop)
		<-p.done
		if p.enabled {
			p.mu.Lock()
			fmt.Fprint(p.w, clearLineSequence)
			p.mu.Unlock()
		}
	})
}

// Println writes a line above the status line. Unlike the status line it is
// also written when w is not a terminal.
func (p *ProgressPrinter) Println(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		fmt.Fprint(p.w, clearLineSequence)
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}
