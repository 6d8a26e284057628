package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/shoesensor/internal/gatt"
	"github.com/srg/shoesensor/internal/output"
	"github.com/srg/shoesensor/internal/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for running shoe sensors",
	Long: `Scan for Bluetooth Low Energy peripherals advertising the accelerometer
service and list their names, addresses and signal strength.

By default the scan lasts the configured scan timeout (5s). Use --first to stop
at the first sensor found, or --all to list every advertising peripheral.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanFirst    bool
	scanAll      bool
)

// newRadio is replaced in tests.
var newRadio = gatt.NewScanningDevice

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json, csv)")
	scanCmd.Flags().BoolVar(&scanFirst, "first", false, "Stop at the first sensor found")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every peripheral, not only sensors")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if scanFormat != "" {
		cfg.OutputFormat = scanFormat
	}
	format, err := cfg.Format()
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := cfg.ScanOptions()
	opts.StopOnFirst = scanFirst
	if scanDuration > 0 {
		opts.Timeout = scanDuration
	}
	if scanAll {
		opts.ServiceUUIDs = nil
	}

	radio, err := newRadio()
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}
	s, err := scanner.NewScanner(radio, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for sensors", "Scanning", opts.Timeout, "Processing results")
	progress.Start()
	watchCtx, stopWatch := context.WithCancel(ctx)
	watched := watchDiscoveries(watchCtx, s.Events(), progress)
	sensors, err := s.Scan(ctx, opts, progress.Callback())
	stopWatch()
	<-watched
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}

	if len(sensors) == 0 && format == output.FormatTable {
		fmt.Fprintln(cmd.OutOrStdout(), "No sensors discovered")
		return nil
	}
	return output.WriteSensors(cmd.OutOrStdout(), format, sensors, time.Now())
}

// watchDiscoveries reports every newly discovered sensor on the progress
// writer until ctx is done, then drains the events already queued.
func watchDiscoveries(ctx context.Context, events <-chan scanner.Event, progress *ProgressPrinter) <-chan struct{} {
	done := make(chan struct{})
	report := func(ev scanner.Event) {
		if ev.Type != scanner.EventNew {
			return
		}
		progress.Println("Discovered %s (%s, %d dBm)", ev.Sensor.DisplayName(), ev.Sensor.Address, ev.Sensor.RSSI)
	}

	go func() {
		defer close(done)
		for {
			select {
			case ev := <-events:
				report(ev)
			case <-ctx.Done():
				for {
					select {
					case ev := <-events:
						report(ev)
					default:
						return
					}
				}
			}
		}
	}()
	return done
}
