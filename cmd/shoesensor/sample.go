package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/shoesensor/internal/gatt"
	"github.com/srg/shoesensor/internal/output"
	"github.com/srg/shoesensor/internal/sampler"
	"github.com/srg/shoesensor/internal/scanner"
	"github.com/srg/shoesensor/internal/series"
	"github.com/srg/shoesensor/internal/session"
	"github.com/srg/shoesensor/pkg/config"
)

// sampleCmd represents the sample command
var sampleCmd = &cobra.Command{
	Use:   "sample [address]",
	Short: "Stream accelerometer samples from a sensor",
	Long: `Connect to a running shoe sensor and read its characteristics round-robin,
one read at a time with a short pause between reads, until interrupted.

Without an address the first sensor advertising the accelerometer service is used.
A summary per characteristic is printed whenever a session ends.`,
	Example: `  shoesensor sample
  shoesensor sample AA:BB:CC:DD:EE:FF --format csv > run.csv
  shoesensor sample --reconnect --duration 10m`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSample,
}

var (
	sampleFormat    string
	sampleDelay     time.Duration
	sampleDuration  time.Duration
	sampleReconnect bool
	sampleNoSummary bool
)

const (
	reconnectBackoff = time.Second
	idleWaitTimeout  = 2 * time.Second
)

func init() {
	sampleCmd.Flags().StringVarP(&sampleFormat, "format", "f", "", "Output format (table, json, csv)")
	sampleCmd.Flags().DurationVar(&sampleDelay, "delay", -1, "Pause between reads (default from config)")
	sampleCmd.Flags().DurationVarP(&sampleDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	sampleCmd.Flags().BoolVar(&sampleReconnect, "reconnect", false, "Reconnect when the sensor drops the link")
	sampleCmd.Flags().BoolVar(&sampleNoSummary, "no-summary", false, "Do not print session summaries")
}

// sensorLink connects to one sensor and serves reads while connected.
type sensorLink interface {
	sampler.ReadCapable
	Run(ctx context.Context, handler session.EventHandler) error
}

// newLink is replaced in tests.
var newLink = func(opts *gatt.LinkOptions, logger *logrus.Logger) (sensorLink, error) {
	link, err := gatt.NewLink(opts, logger)
	if err != nil {
		return nil, err
	}
	return link, nil
}

func runSample(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if sampleFormat != "" {
		cfg.OutputFormat = sampleFormat
	}
	if sampleDelay >= 0 {
		cfg.InterReadDelay = sampleDelay
	}
	if cmd.Flags().Changed("reconnect") {
		cfg.Reconnect = sampleReconnect
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	format, _ := cfg.Format()

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if sampleDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sampleDuration)
		defer cancel()
	}

	address := ""
	if len(args) == 1 {
		address = args[0]
	} else {
		address, err = findSensor(ctx, cmd.ErrOrStderr(), cfg, logger)
		if err != nil {
			return err
		}
	}

	linkOpts, err := cfg.LinkOptions(address)
	if err != nil {
		return err
	}
	link, err := newLink(linkOpts, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := output.NewPrinter(out, format)
	seriesOpts := cfg.SeriesOptions()
	if !sampleNoSummary {
		seriesOpts.OnSessionEnd = func(summaries []series.Summary) {
			if err := output.WriteSummaries(out, format, summaries); err != nil {
				logger.WithError(err).Warn("Failed to write session summary")
			}
		}
	}
	ids := make([]sampler.CharacteristicID, 0, len(linkOpts.Characteristics))
	for _, c := range linkOpts.Characteristics {
		ids = append(ids, c.ID)
	}
	recorder := series.NewRecorder(ids, seriesOpts)

	run := &samplingRun{
		link:      link,
		consumer:  session.Tee(printer, recorder),
		opts:      cfg.SessionOptions(logger),
		reconnect: cfg.Reconnect,
		backoff:   reconnectBackoff,
		progress:  cmd.ErrOrStderr(),
		address:   address,
		logger:    logger,
	}
	return run.run(ctx)
}

// findSensor scans for the configured service and returns the address of the first match.
func findSensor(ctx context.Context, progressOut io.Writer, cfg *config.Config, logger *logrus.Logger) (string, error) {
	radio, err := newRadio()
	if err != nil {
		return "", fmt.Errorf("failed to create BLE scanner: %w", err)
	}
	s, err := scanner.NewScanner(radio, logger)
	if err != nil {
		return "", err
	}

	opts := cfg.ScanOptions()
	progress := NewCountdownProgressPrinter(progressOut, "Looking for a sensor", "Scanning", opts.Timeout, "Processing results")
	progress.Start()
	sensors, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if len(sensors) == 0 {
		return "", ErrNoSensorFound
	}

	logger.WithFields(logrus.Fields{
		"device":  sensors[0].DisplayName(),
		"address": sensors[0].Address,
		"rssi":    sensors[0].RSSI,
	}).Info("Using sensor")
	return sensors[0].Address, nil
}

// samplingRun drives one controller across one or more connections.
type samplingRun struct {
	link      sensorLink
	consumer  session.Consumer
	opts      session.Options
	reconnect bool
	backoff   time.Duration
	progress  io.Writer
	address   string
	logger    *logrus.Logger
}

func (r *samplingRun) run(ctx context.Context) error {
	controller, err := session.NewController(r.link, r.consumer, r.opts)
	if err != nil {
		return err
	}
	defer controller.Close()

	for attempt := 1; ; attempt++ {
		progress := NewProgressPrinter(r.progress, fmt.Sprintf("Connecting to %s", r.address), "Connecting")
		progress.Start()
		err := r.link.Run(ctx, &progressHandler{EventHandler: controller, progress: progress})
		progress.Stop()

		if ctx.Err() != nil {
			// interrupted or --duration elapsed
			return nil
		}
		if !r.reconnect {
			return err
		}

		r.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Session ended, reconnecting")

		if !waitIdle(ctx, controller, idleWaitTimeout) {
			return fmt.Errorf("sampling did not stop after disconnect (state %s)", controller.SchedulerState())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.backoff):
		}
	}
}

// waitIdle polls until the scheduler has settled after a disconnect.
func waitIdle(ctx context.Context, c *session.Controller, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for c.SchedulerState() != sampler.StateIdle {
		if ctx.Err() != nil || time.Now().After(deadline) {
			return c.SchedulerState() == sampler.StateIdle
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

// progressHandler clears the connecting line once the session starts or fails.
type progressHandler struct {
	session.EventHandler
	progress *ProgressPrinter
}

func (h *progressHandler) OnServicesReady(chars []sampler.CharacteristicID) error {
	h.progress.Stop()
	return h.EventHandler.OnServicesReady(chars)
}

func (h *progressHandler) OnDisconnected() {
	h.progress.Stop()
	h.EventHandler.OnDisconnected()
}

