package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/shoesensor/internal/sampler"
)

// Printer is a session.Consumer that streams every sample to a writer.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	csv    *csv.Writer
	json   *json.Encoder

	header   bool
	sessions int

	axis  *color.Color
	value *color.Color
	note  *color.Color
}

// PrinterOption configures a Printer.
type PrinterOption func(*Printer)

// WithColor forces colored table output on or off. By default colors are
// enabled only when the writer is a terminal.
func WithColor(enabled bool) PrinterOption {
	return func(p *Printer) {
		for _, c := range []*color.Color{p.axis, p.value, p.note} {
			if enabled {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
}

// NewPrinter creates a Printer writing format to w.
func NewPrinter(w io.Writer, format Format, opts ...PrinterOption) *Printer {
	p := &Printer{
		w:      w,
		format: format,
		axis:   color.New(color.FgCyan),
		value:  color.New(color.Bold),
		note:   color.New(color.FgYellow),
	}
	WithColor(IsTerminal(w))(p)
	for _, opt := range opts {
		opt(p)
	}

	switch format {
	case FormatCSV:
		p.csv = csv.NewWriter(w)
	case FormatJSON:
		p.json = json.NewEncoder(w)
	}
	return p
}

type sampleRecord struct {
	Event          string   `json:"event"`
	Session        int      `json:"session"`
	Characteristic string   `json:"characteristic,omitempty"`
	Seq            uint64   `json:"seq,omitempty"`
	Value          *int     `json:"value,omitempty"`
	ElapsedMs      *float64 `json:"elapsed_ms,omitempty"`
}

func elapsedMs(s sampler.Sample) float64 {
	return float64(s.Elapsed.Microseconds()) / 1000
}

// Accept writes one sample.
func (p *Printer) Accept(s sampler.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.format {
	case FormatCSV:
		if !p.header {
			_ = p.csv.Write([]string{"session", "elapsed_ms", "characteristic", "seq", "value"})
			p.header = true
		}
		_ = p.csv.Write([]string{
			strconv.Itoa(p.sessions + 1),
			strconv.FormatFloat(elapsedMs(s), 'f', 3, 64),
			string(s.Characteristic),
			strconv.FormatUint(s.Seq, 10),
			strconv.Itoa(s.Value),
		})
		p.csv.Flush()
	case FormatJSON:
		value, ms := s.Value, elapsedMs(s)
		_ = p.json.Encode(sampleRecord{
			Event:          "sample",
			Session:        p.sessions + 1,
			Characteristic: string(s.Characteristic),
			Seq:            s.Seq,
			Value:          &value,
			ElapsedMs:      &ms,
		})
	default:
		if !p.header {
			fmt.Fprintf(p.w, "%10s  %-6s  %8s  %5s\n", "ELAPSED", "CHAR", "SEQ", "VALUE")
			p.header = true
		}
		fmt.Fprintf(p.w, "%9.3fs  %s  %8d  %s\n",
			s.Elapsed.Seconds(),
			p.axis.Sprintf("%-6s", s.Characteristic),
			s.Seq,
			p.value.Sprintf("%5d", s.Value))
	}
}

// SessionEnded marks the end of the current session.
func (p *Printer) SessionEnded() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions++
	switch p.format {
	case FormatCSV:
		p.csv.Flush()
	case FormatJSON:
		_ = p.json.Encode(sampleRecord{Event: "session_ended", Session: p.sessions})
	default:
		fmt.Fprintln(p.w, p.note.Sprintf("--- session %d ended ---", p.sessions))
		p.header = false
	}
}

// Err returns the first CSV write error, if any.
func (p *Printer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.csv != nil {
		return p.csv.Error()
	}
	return nil
}
