package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/shoesensor/internal/gatt"
	"github.com/srg/shoesensor/internal/output"
	"github.com/srg/shoesensor/internal/scanner"
	"github.com/srg/shoesensor/internal/series"
	"github.com/srg/shoesensor/internal/session"
	"gopkg.in/yaml.v3"
)

// Characteristic names one polled GATT characteristic.
type Characteristic struct {
	Name string `yaml:"name"`
	UUID string `yaml:"uuid"`
}

// Config holds application configuration
type Config struct {
	LogLevel        string           `yaml:"log_level" default:"error"`
	ScanTimeout     time.Duration    `yaml:"scan_timeout" default:"5s"`
	ConnectTimeout  time.Duration    `yaml:"connect_timeout" default:"30s"`
	InterReadDelay  time.Duration    `yaml:"inter_read_delay" default:"5ms"`
	ServiceUUID     string           `yaml:"service_uuid" default:"1bc56726-0200-658c-e511-21f700cca137"`
	Characteristics []Characteristic `yaml:"characteristics"`
	OutputFormat    string           `yaml:"output_format" default:"table"` // table, json, csv
	WindowSize      int              `yaml:"window_size" default:"50"`
	Viewport        time.Duration    `yaml:"viewport" default:"5s"`
	DispatchBuffer  uint32           `yaml:"dispatch_buffer" default:"1024"`
	Reconnect       bool             `yaml:"reconnect" default:"false"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Characteristics = []Characteristic{
		{Name: string(gatt.AxisX), UUID: "1bc56727-0200-658c-e511-21f700cca137"},
		{Name: string(gatt.AxisY), UUID: "1bc56728-0200-658c-e511-21f700cca137"},
	}
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and the characteristic list.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan_timeout must be positive"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect_timeout must be positive"))
	}
	if c.InterReadDelay < 0 {
		errs = append(errs, fmt.Errorf("inter_read_delay cannot be negative"))
	}
	if _, err := gatt.ParseUUID(c.ServiceUUID); err != nil {
		errs = append(errs, fmt.Errorf("service_uuid: %w", err))
	}
	if _, err := c.CharacteristicSpecs(); err != nil {
		errs = append(errs, err)
	}
	if _, err := output.ParseFormat(c.OutputFormat); err != nil {
		errs = append(errs, err)
	}
	if c.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("window_size must be positive"))
	}
	if c.Viewport <= 0 {
		errs = append(errs, fmt.Errorf("viewport must be positive"))
	}
	if c.DispatchBuffer == 0 || c.DispatchBuffer > session.MaxDispatchBuffer {
		errs = append(errs, fmt.Errorf("dispatch_buffer must be between 1 and %d", session.MaxDispatchBuffer))
	}

	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	return level, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, _ := c.Level()

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// CharacteristicSpecs resolves the characteristic list in polling order.
func (c *Config) CharacteristicSpecs() ([]gatt.CharacteristicSpec, error) {
	if len(c.Characteristics) == 0 {
		return nil, fmt.Errorf("at least one characteristic is required")
	}

	specs := make([]gatt.CharacteristicSpec, 0, len(c.Characteristics))
	seen := make(map[string]struct{}, len(c.Characteristics))
	for _, ch := range c.Characteristics {
		spec, err := gatt.NewCharacteristicSpec(ch.Name, ch.UUID)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ch.Name]; dup {
			return nil, fmt.Errorf("duplicate characteristic name %q", ch.Name)
		}
		seen[ch.Name] = struct{}{}
		specs = append(specs, spec)
	}
	return specs, nil
}

// LinkOptions builds the GATT link options for address.
func (c *Config) LinkOptions(address string) (*gatt.LinkOptions, error) {
	svc, err := gatt.ParseUUID(c.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("service_uuid: %w", err)
	}
	specs, err := c.CharacteristicSpecs()
	if err != nil {
		return nil, err
	}
	return &gatt.LinkOptions{
		Address:         address,
		ConnectTimeout:  c.ConnectTimeout,
		ServiceUUID:     svc,
		Characteristics: specs,
	}, nil
}

// ScanOptions returns options that look for the configured service.
func (c *Config) ScanOptions() *scanner.Options {
	return &scanner.Options{
		Timeout:      c.ScanTimeout,
		ServiceUUIDs: []string{c.ServiceUUID},
		StopOnFirst:  true,
	}
}

// SessionOptions returns controller options using logger.
func (c *Config) SessionOptions(logger *logrus.Logger) session.Options {
	return session.Options{
		InterDelay:     c.InterReadDelay,
		DispatchBuffer: c.DispatchBuffer,
		Logger:         logger,
	}
}

// SeriesOptions returns the display window options.
func (c *Config) SeriesOptions() series.Options {
	return series.Options{
		WindowSize: c.WindowSize,
		Viewport:   c.Viewport,
	}
}

// Format parses OutputFormat.
func (c *Config) Format() (output.Format, error) {
	return output.ParseFormat(c.OutputFormat)
}
