package gatt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/shoesensor/internal/sampler"
	"github.com/srg/shoesensor/internal/session"
)

// DefaultConnectTimeout bounds dialing plus profile discovery.
const DefaultConnectTimeout = 30 * time.Second

// LinkOptions configures a Link.
type LinkOptions struct {
	Address         string
	ConnectTimeout  time.Duration
	ServiceUUID     ble.UUID
	Characteristics []CharacteristicSpec // polling order
}

// DefaultLinkOptions returns options for the accelerometer X/Y characteristics.
func DefaultLinkOptions(address string) *LinkOptions {
	return &LinkOptions{
		Address:         address,
		ConnectTimeout:  DefaultConnectTimeout,
		ServiceUUID:     AccelServiceUUID,
		Characteristics: DefaultCharacteristics(),
	}
}

// peer is the part of ble.Client a Link needs.
type peer interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	CancelConnection() error
}

type dialFunc func(ctx context.Context, address string) (peer, error)

// Link is a connection to a single sensor peripheral. It reports connection
// lifecycle events to a session.EventHandler and serves reads as a
// sampler.ReadCapable transport.
type Link struct {
	opts   LinkOptions
	logger *logrus.Logger
	dial   dialFunc

	mu        sync.RWMutex
	client    peer
	chars     map[sampler.CharacteristicID]*ble.Characteristic
	connected bool
}

var _ sampler.ReadCapable = (*Link)(nil)

// NewLink validates opts and creates an unconnected Link.
func NewLink(opts *LinkOptions, logger *logrus.Logger) (*Link, error) {
	if opts == nil {
		return nil, fmt.Errorf("link options cannot be nil")
	}
	if strings.TrimSpace(opts.Address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	if len(opts.ServiceUUID) == 0 {
		return nil, fmt.Errorf("service UUID is required")
	}
	if len(opts.Characteristics) == 0 {
		return nil, fmt.Errorf("at least one characteristic is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	o := *opts
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	o.Characteristics = append([]CharacteristicSpec(nil), opts.Characteristics...)

	return &Link{
		opts:   o,
		logger: logger,
		dial:   dialBLE,
	}, nil
}

func dialBLE(ctx context.Context, address string) (peer, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Run connects to the peripheral, resolves the configured characteristics and
// reports Connected, ServicesReady and finally Disconnected to handler. It blocks
// until the peripheral drops the link or ctx is cancelled.
//
// A cancelled ctx returns ctx's error; a link dropped by the peripheral returns
// ErrConnectionLost. OnDisconnected is always reported once a dial succeeded.
func (l *Link) Run(ctx context.Context, handler session.EventHandler) error {
	l.mu.Lock()
	if l.client != nil {
		l.mu.Unlock()
		return ErrAlreadyConnected
	}
	l.mu.Unlock()

	address := l.opts.Address
	l.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": l.opts.ConnectTimeout,
	}).Info("Connecting to sensor...")

	connCtx, cancel := context.WithTimeout(ctx, l.opts.ConnectTimeout)
	defer cancel()

	client, err := l.dial(connCtx, address)
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial sensor")
		return fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	l.mu.Lock()
	l.client = client
	l.mu.Unlock()
	handler.OnConnected()

	defer func() {
		l.teardown()
		handler.OnDisconnected()
	}()

	l.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	chars, ids, err := resolveCharacteristics(profile, l.opts.ServiceUUID, l.opts.Characteristics)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.chars = chars
	l.connected = true
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"address":         address,
		"service":         l.opts.ServiceUUID.String(),
		"characteristics": ids,
	}).Info("Sensor connected")

	if err := handler.OnServicesReady(ids); err != nil {
		return err
	}

	var lost <-chan struct{}
	if d, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		lost = d.Disconnected()
	} else {
		l.logger.Debug("Client does not report disconnection, relying on context cancellation")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-lost:
		l.logger.WithField("address", address).Warn("Sensor disconnected")
		return ErrConnectionLost
	}
}

// IsConnected reports whether characteristics are resolved and reads can be served.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// IssueRead reads req.Characteristic in a new goroutine and reports the UINT8 value through done.
func (l *Link) IssueRead(req sampler.ReadRequest, done sampler.Completion) {
	l.mu.RLock()
	client := l.client
	char := l.chars[req.Characteristic]
	connected := l.connected
	l.mu.RUnlock()

	if !connected || client == nil {
		done(0, ErrNotConnected)
		return
	}
	if char == nil {
		done(0, &NotFoundError{Resource: "characteristic", UUIDs: []string{l.opts.ServiceUUID.String(), string(req.Characteristic)}})
		return
	}

	go func() {
		data, err := client.ReadCharacteristic(char)
		if err != nil {
			done(0, fmt.Errorf("failed to read characteristic %s: %w", req.Characteristic, NormalizeError(err)))
			return
		}
		value, err := decodeValue(data)
		if err != nil {
			done(0, fmt.Errorf("characteristic %s: %w", req.Characteristic, err))
			return
		}
		done(value, nil)
	}()
}

func (l *Link) teardown() {
	l.mu.Lock()
	client := l.client
	l.client = nil
	l.chars = nil
	l.connected = false
	l.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.CancelConnection(); err != nil && !errors.Is(err, context.Canceled) {
		l.logger.WithError(err).Warn("Error disconnecting from sensor")
		return
	}
	l.logger.Info("Disconnected from sensor")
}
