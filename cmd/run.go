package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/ericogr/water-monitor/pkg/config"
	"github.com/ericogr/water-monitor/pkg/output"
	"github.com/ericogr/water-monitor/pkg/output/console"
	"github.com/ericogr/water-monitor/pkg/output/history"
	"github.com/ericogr/water-monitor/pkg/output/httpapi"
	"github.com/ericogr/water-monitor/pkg/output/mqtt"
	"github.com/ericogr/water-monitor/pkg/sensor"
)

const DefaultHistoryPath = "water-monitor.db"

// outputEntry is an output and how often it is fed.
type outputEntry struct {
	Name       string
	Out        output.Output
	IntervalMs int
	last       time.Time
}

func newRunCommand(flags *config.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the probes and publish readings to the configured outputs",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			interval := computeReadInterval(cfg)
			entries, err := initOutputs(&cfg, interval)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeOutputs(entries)) }()

			mon, err := openMonitor(cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, mon.Close()) }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Printf("reading every %d ms, %d output(s)", interval, len(entries))
			runLoop(ctx, mon, entries, time.Duration(interval)*time.Millisecond)
			return nil
		},
	}
}

// computeReadInterval keeps the configured interval unless a composite
// read cannot finish in it: one pH and one ORP conversion, a full ranging
// pass over seven rungs plus the final pair of legs, the settle time and
// the excitation phase offset.
func computeReadInterval(cfg config.Config) int {
	conv := 1000/cfg.ADC.SampleRate + 2
	n, extra := 2, 0
	if cfg.EC.Enabled {
		n += 2*7 + 2
		extra = cfg.EC.SettleMs
		if cfg.EC.FrequencyHz > 0 {
			extra += 1000 / (2 * cfg.EC.FrequencyHz)
		}
	}
	floor := n*conv + extra
	if cfg.IntervalMs < floor {
		return floor
	}
	return cfg.IntervalMs
}

// initOutputs builds every configured output. Outputs without an interval
// get defaultInterval, written back to cfg. The http output serves the
// first history output's journal.
func initOutputs(cfg *config.Config, defaultInterval int) (entries []outputEntry, err error) {
	defer func() {
		if err != nil {
			err = multierr.Append(err, closeOutputs(entries))
			entries = nil
		}
	}()

	var hist output.History
	for i := range cfg.Outputs {
		o := &cfg.Outputs[i]
		if o.IntervalMs == 0 {
			o.IntervalMs = defaultInterval
		}
		if !strings.EqualFold(o.Type, "history") {
			continue
		}
		path, retain := DefaultHistoryPath, 0
		if o.History != nil {
			if o.History.Path != "" {
				path = o.History.Path
			}
			retain = o.History.Retain
		}
		store, err := history.Open(path, retain)
		if err != nil {
			return entries, err
		}
		if hist == nil {
			hist = store
		}
		entries = append(entries, outputEntry{Name: "history", Out: store, IntervalMs: o.IntervalMs})
	}

	for _, o := range cfg.Outputs {
		var out output.Output
		switch strings.ToLower(o.Type) {
		case "history":
			continue
		case "console":
			out = console.NewConsole()
		case "mqtt":
			var mc config.MQTTConfig
			if o.MQTT != nil {
				mc = *o.MQTT
			}
			m, err := mqtt.NewMQTT(mc)
			if err != nil {
				return entries, err
			}
			out = m
		case "http":
			listen := ""
			if o.HTTP != nil {
				listen = o.HTTP.Listen
			}
			s := httpapi.New(listen, hist)
			if err := s.Start(); err != nil {
				return entries, fmt.Errorf("http listen: %w", err)
			}
			log.Printf("http api on %s", s.Addr())
			out = s
		default:
			return entries, fmt.Errorf("unknown output type %q", o.Type)
		}
		entries = append(entries, outputEntry{Name: strings.ToLower(o.Type), Out: out, IntervalMs: o.IntervalMs})
	}
	return entries, nil
}

func closeOutputs(entries []outputEntry) error {
	var err error
	for i := len(entries) - 1; i >= 0; i-- {
		err = multierr.Append(err, entries[i].Out.Close())
	}
	return err
}

type reader interface {
	ReadAll() sensor.Readings
}

// runLoop reads once per interval until ctx is done and hands each reading
// to the outputs whose own interval has elapsed.
func runLoop(ctx context.Context, r reader, entries []outputEntry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		readings := r.ReadAll()
		publish(entries, readings)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func publish(entries []outputEntry, readings sensor.Readings) {
	now := readings.Timestamp
	for i := range entries {
		e := &entries[i]
		every := time.Duration(e.IntervalMs) * time.Millisecond
		if !e.last.IsZero() && now.Sub(e.last) < every {
			continue
		}
		if err := e.Out.Publish(readings); err != nil {
			log.Printf("%s publish error: %v", e.Name, err)
		}
		e.last = now
	}
}
