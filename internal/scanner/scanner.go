package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/shoesensor/internal/gatt"
	"github.com/srg/shoesensor/internal/ringchan"
)

// DefaultTimeout is the scan period used when none is configured.
const DefaultTimeout = 5 * time.Second

const eventBufferSize = 100

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// EventType marks if the sensor was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

func (t EventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

// SensorInfo is the latest advertisement seen from one peripheral.
type SensorInfo struct {
	Name        string
	Address     string
	RSSI        int
	Connectable bool
	Services    []string
	LastSeen    time.Time
}

// DisplayName returns Name, or Address for unnamed peripherals.
func (i SensorInfo) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Address
}

type Event struct {
	Type   EventType
	Sensor SensorInfo
}

// Options configures scanning behavior
type Options struct {
	Timeout         time.Duration
	AllowDuplicates bool
	// ServiceUUIDs keeps peripherals advertising any of these services.
	ServiceUUIDs []string
	AllowList    []string
	// StopOnFirst ends the scan at the first matching peripheral.
	StopOnFirst bool
}

// DefaultOptions scans for the accelerometer service and stops at the first match.
func DefaultOptions() *Options {
	return &Options{
		Timeout:      DefaultTimeout,
		ServiceUUIDs: []string{gatt.AccelServiceUUID.String()},
		StopOnFirst:  true,
	}
}

// Scanner discovers sensor peripherals
type Scanner struct {
	devices *hashmap.Map[string, SensorInfo]
	events  *ringchan.RingChannel[Event]
	logger  *logrus.Logger
	radio   gatt.ScanningDevice
	now     func() time.Time
}

// NewScanner creates a scanner. A nil radio is replaced by the platform device
// on the first Scan.
func NewScanner(radio gatt.ScanningDevice, logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		devices: hashmap.New[string, SensorInfo](),
		events:  ringchan.New[Event](eventBufferSize),
		logger:  logger,
		radio:   radio,
		now:     time.Now,
	}, nil
}

// Scan listens for advertisements until opts.Timeout elapses, ctx is done, or,
// with StopOnFirst, a matching peripheral is found. Results are ordered by
// descending RSSI.
func (s *Scanner) Scan(ctx context.Context, opts *Options, progressCallback ProgressCallback) ([]SensorInfo, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if s.radio == nil {
		radio, err := gatt.NewScanningDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to create BLE device: %w", err)
		}
		s.radio = radio
	}

	s.devices = hashmap.New[string, SensorInfo]()
	filter := newFilter(opts)

	s.logger.WithFields(logrus.Fields{
		"timeout":       timeout,
		"services":      opts.ServiceUUIDs,
		"stop_on_first": opts.StopOnFirst,
	}).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.radio.Scan(scanCtx, opts.AllowDuplicates, func(adv gatt.Advertisement) {
		if s.handleAdvertisement(adv, filter) && opts.StopOnFirst {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.snapshot(), nil
}

// handleAdvertisement records adv when it passes filter. It reports whether
// a new peripheral was discovered.
func (s *Scanner) handleAdvertisement(adv gatt.Advertisement, f *filter) bool {
	addr := adv.Addr()
	if addr == "" {
		return false
	}

	_, existing := s.devices.Get(addr)
	if !existing && !f.matches(adv) {
		return false
	}

	info := SensorInfo{
		Name:        adv.LocalName(),
		Address:     addr,
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		Services:    adv.Services(),
		LastSeen:    s.now(),
	}
	if prev, ok := s.devices.Get(addr); ok {
		// Scan responses often omit the name and services.
		if info.Name == "" {
			info.Name = prev.Name
		}
		if len(info.Services) == 0 {
			info.Services = prev.Services
		}
	}
	s.devices.Set(addr, info)

	event := Event{Type: EventUpdated, Sensor: info}
	if !existing {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device":  info.DisplayName(),
			"address": addr,
			"rssi":    info.RSSI,
		}).Info("Discovered new sensor")
	}
	s.events.Send(event)

	return !existing
}

func (s *Scanner) snapshot() []SensorInfo {
	out := make([]SensorInfo, 0, s.devices.Len())
	s.devices.Range(func(_ string, value SensorInfo) bool {
		out = append(out, value)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Events returns a read-only channel of discovery events. Old events are
// dropped when the reader falls behind.
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}

type filter struct {
	services map[string]struct{}
	allow    map[string]struct{}
}

func newFilter(opts *Options) *filter {
	f := &filter{}
	if len(opts.ServiceUUIDs) > 0 {
		f.services = make(map[string]struct{}, len(opts.ServiceUUIDs))
		for _, u := range opts.ServiceUUIDs {
			f.services[gatt.NormalizeUUID(u)] = struct{}{}
		}
	}
	if len(opts.AllowList) > 0 {
		f.allow = make(map[string]struct{}, len(opts.AllowList))
		for _, a := range opts.AllowList {
			f.allow[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
		}
	}
	return f
}

func (f *filter) matches(adv gatt.Advertisement) bool {
	if f.allow != nil {
		if _, ok := f.allow[strings.ToLower(adv.Addr())]; !ok {
			return false
		}
	}
	if f.services == nil {
		return true
	}
	for _, u := range adv.Services() {
		if _, ok := f.services[gatt.NormalizeUUID(u)]; ok {
			return true
		}
	}
	return false
}
