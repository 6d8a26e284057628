package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/shoesensor/internal/gatt"
	"github.com/srg/shoesensor/internal/sampler"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "no sensor", err: ErrNoSensorFound, expected: "no sensor found nearby; make sure it is powered on and advertising, or pass its address"},
		{name: "missing characteristic", err: fmt.Errorf("wrapped: %w", &gatt.NotFoundError{Resource: "service", UUIDs: []string{"180f"}}),
			expected: `the device is not a supported sensor: service "180f" not found`},
		{name: "connection lost", err: gatt.ErrConnectionLost, expected: "connection to the sensor was lost"},
		{name: "already connected", err: fmt.Errorf("dial: %w", gatt.ErrAlreadyConnected), expected: "the sensor is already connected to another client"},
		{name: "unsupported", err: gatt.ErrUnsupported, expected: "Bluetooth is not supported on this platform"},
		{name: "timeout", err: fmt.Errorf("connect: %w", context.DeadlineExceeded), expected: "timed out waiting for the sensor"},
		{name: "sampling config", err: fmt.Errorf("start: %w", &sampler.ConfigError{Reason: "no characteristics"}), expected: "invalid sampling configuration: no characteristics"},
		{name: "other", err: errors.New("boom"), expected: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
