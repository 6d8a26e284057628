package gatt

import (
	"context"
	"strings"

	"github.com/go-ble/ble"
)

// Advertisement is the subset of an advertising packet used for sensor discovery.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
	Services() []string
	ManufacturerData() []byte
}

// ScanningDevice is a radio able to scan for advertisements.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// DeviceFactory creates the platform HCI/CoreBluetooth device. Overridden in tests.
//
//nolint:revive // DeviceFactory mirrors ble.Device construction
var DeviceFactory = newPlatformDevice

// NewScanningDevice returns a ScanningDevice backed by the platform radio.
func NewScanningDevice() (ScanningDevice, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	return &bleScanningDevice{dev: dev}, nil
}

type bleScanningDevice struct {
	dev ble.Device
}

func (s *bleScanningDevice) Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error {
	return s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(bleAdvertisement{adv: adv})
	})
}

// bleAdvertisement adapts ble.Advertisement.
type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a bleAdvertisement) LocalName() string        { return a.adv.LocalName() }
func (a bleAdvertisement) RSSI() int                { return a.adv.RSSI() }
func (a bleAdvertisement) Connectable() bool        { return a.adv.Connectable() }
func (a bleAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }

func (a bleAdvertisement) Addr() string {
	if a.adv.Addr() == nil {
		return ""
	}
	return a.adv.Addr().String()
}

func (a bleAdvertisement) Services() []string {
	uuids := a.adv.Services()
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, NormalizeUUID(u.String()))
	}
	return out
}

// NormalizeUUID lowercases a UUID string and strips dashes.
func NormalizeUUID(uuid string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(uuid)), "-", "")
}
