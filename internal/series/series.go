// Package series keeps a bounded, per-characteristic history of samples for
// display, with x measured in seconds since the session started.
package series

import (
	"math"
	"sync"
	"time"

	"github.com/srg/shoesensor/internal/sampler"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	DefaultWindowSize = 50
	DefaultViewport   = 5 * time.Second
)

// Point is one plotted sample.
type Point struct {
	X float64 // seconds since session start
	Y int
}

// Summary aggregates every sample of one characteristic in a session,
// including those already evicted from the window.
type Summary struct {
	Characteristic sampler.CharacteristicID
	Count          uint64
	Min            int
	Max            int
	Mean           float64
	Last           int
}

// Options configures a Recorder.
type Options struct {
	WindowSize int
	Viewport   time.Duration
	// OnSessionEnd receives the session summaries, in characteristic order,
	// before the windows are cleared.
	OnSessionEnd func([]Summary)
}

type window struct {
	points []Point
	head   int
	full   bool

	count uint64
	sum   float64
	min   int
	max   int
	last  int
}

func newWindow(size int) *window {
	return &window{points: make([]Point, size), min: math.MaxInt, max: math.MinInt}
}

func (w *window) add(p Point) {
	w.points[w.head] = p
	w.head = (w.head + 1) % len(w.points)
	if w.head == 0 {
		w.full = true
	}

	w.count++
	w.sum += float64(p.Y)
	w.last = p.Y
	if p.Y < w.min {
		w.min = p.Y
	}
	if p.Y > w.max {
		w.max = p.Y
	}
}

// ordered returns the retained points oldest first.
func (w *window) ordered() []Point {
	if !w.full {
		return append([]Point(nil), w.points[:w.head]...)
	}
	out := make([]Point, 0, len(w.points))
	out = append(out, w.points[w.head:]...)
	return append(out, w.points[:w.head]...)
}

func (w *window) summary(id sampler.CharacteristicID) Summary {
	s := Summary{Characteristic: id, Count: w.count}
	if w.count == 0 {
		return s
	}
	s.Min, s.Max, s.Last = w.min, w.max, w.last
	s.Mean = w.sum / float64(w.count)
	return s
}

// Recorder is a session.Consumer that maintains one window per characteristic.
type Recorder struct {
	mu       sync.Mutex
	opts     Options
	order    []sampler.CharacteristicID
	windows  *orderedmap.OrderedMap[sampler.CharacteristicID, *window]
	latest   time.Duration
	sessions int
	last     []Summary
}

// NewRecorder creates windows for chars in the given order. Samples for other
// characteristics get a window appended on first sight.
func NewRecorder(chars []sampler.CharacteristicID, opts Options) *Recorder {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.Viewport <= 0 {
		opts.Viewport = DefaultViewport
	}
	r := &Recorder{
		opts:  opts,
		order: append([]sampler.CharacteristicID(nil), chars...),
	}
	r.reset()
	return r
}

func (r *Recorder) reset() {
	r.windows = orderedmap.New[sampler.CharacteristicID, *window]()
	for _, id := range r.order {
		r.windows.Set(id, newWindow(r.opts.WindowSize))
	}
	r.latest = 0
}

// Accept appends s to its characteristic's window.
func (r *Recorder) Accept(s sampler.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows.Get(s.Characteristic)
	if !ok {
		w = newWindow(r.opts.WindowSize)
		r.windows.Set(s.Characteristic, w)
	}
	w.add(Point{X: s.Elapsed.Seconds(), Y: s.Value})
	if s.Elapsed > r.latest {
		r.latest = s.Elapsed
	}
}

// SessionEnded stores the session summaries, hands them to OnSessionEnd and
// clears the windows for the next session.
func (r *Recorder) SessionEnded() {
	r.mu.Lock()
	summaries := r.summariesLocked()
	r.last = summaries
	r.sessions++
	r.reset()
	hook := r.opts.OnSessionEnd
	r.mu.Unlock()

	if hook != nil {
		hook(summaries)
	}
}

// Points returns the retained points of id, oldest first.
func (r *Recorder) Points(id sampler.CharacteristicID) []Point {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows.Get(id)
	if !ok {
		return nil
	}
	return w.ordered()
}

// Visible returns the retained points of id inside the viewport that ends at
// the most recent sample of any characteristic.
func (r *Recorder) Visible(id sampler.CharacteristicID) []Point {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows.Get(id)
	if !ok {
		return nil
	}
	minX := (r.latest - r.opts.Viewport).Seconds()
	out := w.ordered()
	i := 0
	for i < len(out) && out[i].X < minX {
		i++
	}
	return out[i:]
}

// Bounds returns the x range of the viewport in seconds. It starts at zero
// until a full viewport has elapsed.
func (r *Recorder) Bounds() (minX, maxX float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	maxX = r.latest.Seconds()
	minX = math.Max(0, (r.latest - r.opts.Viewport).Seconds())
	return minX, maxX
}

// Summaries returns the current session aggregates in characteristic order.
func (r *Recorder) Summaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summariesLocked()
}

func (r *Recorder) summariesLocked() []Summary {
	out := make([]Summary, 0, r.windows.Len())
	for pair := r.windows.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.summary(pair.Key))
	}
	return out
}

// LastSession returns the summaries of the most recently ended session.
func (r *Recorder) LastSession() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Summary(nil), r.last...)
}

// Sessions returns how many sessions have ended.
func (r *Recorder) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions
}
