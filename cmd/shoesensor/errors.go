package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/shoesensor/internal/gatt"
	"github.com/srg/shoesensor/internal/sampler"
)

// ErrNoSensorFound is returned when scanning finds no peripheral advertising the sensor service.
var ErrNoSensorFound = errors.New("no sensor found")

// FormatUserError turns known failures into a short message for the terminal.
func FormatUserError(err error) string {
	var notFound *gatt.NotFoundError
	var cfgErr *sampler.ConfigError

	switch {
	case errors.Is(err, ErrNoSensorFound):
		return "no sensor found nearby; make sure it is powered on and advertising, or pass its address"
	case errors.As(err, &notFound):
		return fmt.Sprintf("the device is not a supported sensor: %s", notFound.Error())
	case errors.Is(err, gatt.ErrConnectionLost):
		return "connection to the sensor was lost"
	case errors.Is(err, gatt.ErrAlreadyConnected):
		return "the sensor is already connected to another client"
	case errors.Is(err, gatt.ErrUnsupported):
		return "Bluetooth is not supported on this platform"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for the sensor"
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("invalid sampling configuration: %s", cfgErr.Reason)
	default:
		return err.Error()
	}
}
