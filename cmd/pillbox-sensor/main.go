// Command pillbox-sensor monitors pill container presence, confirms doses,
// serves the dispenser API over HTTP, and publishes events to MQTT.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweeney/pillbox-sensor/internal/alert"
	"github.com/sweeney/pillbox-sensor/internal/config"
	"github.com/sweeney/pillbox-sensor/internal/core"
	"github.com/sweeney/pillbox-sensor/internal/gpio"
	"github.com/sweeney/pillbox-sensor/internal/mqtt"
	"github.com/sweeney/pillbox-sensor/internal/store"
	"github.com/sweeney/pillbox-sensor/internal/web"
)

var (
	cfgFile    string
	printState bool
)

var rootCmd = &cobra.Command{
	Use:   "pillbox-sensor",
	Short: "Pill dispenser monitoring daemon",
	Long: `pillbox-sensor watches the dispenser's container sensors, debounces
removals into confirmed dose events, tracks adherence statistics, and
raises overdue-dose alerts over MQTT.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if printState {
			return runPrintState(cfg)
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default pillbox.yaml in . or /etc/pillbox-sensor)")
	rootCmd.Flags().BoolVar(&printState, "print-state", false, "read the sensors once, print container presence, and exit")
}

// runPrintState reads each sensor once and prints its state. Useful when
// checking the wiring on a new install.
func runPrintState(cfg *config.Config) error {
	slotIDs, pins := pinLayout(cfg.Slots)
	reader, err := gpio.NewRealReader(pins)
	if err != nil {
		return err
	}
	defer reader.Close()

	readings, err := reader.Read()
	if err != nil {
		return err
	}

	byID := make(map[int]core.SlotConfig, len(cfg.Slots))
	for _, s := range cfg.Slots {
		byID[s.ID] = s
	}
	for i, id := range slotIDs {
		state := "removed"
		if readings[i] {
			state = "present"
		}
		fmt.Printf("slot %d (%s, pin %d): %s\n", id, byID[id].Label, byID[id].Pin, state)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
	}

	startTime := time.Now()

	// Persistence
	var journal core.Journal = core.NopJournal{}
	var db *store.Store
	if cfg.DatabasePath != "" {
		var err error
		db, err = store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()
		journal = db
	}

	c, err := core.New(cfg.Slots, core.Options{
		FlickerThreshold: cfg.FlickerThreshold,
		HistoryCap:       cfg.HistoryCap,
		Journal:          journal,
	}, startTime)
	if err != nil {
		return err
	}

	if db != nil {
		events, idx, lastReset, err := db.Load(cfg.HistoryCap)
		if err != nil {
			return err
		}
		c.Restore(events, idx, lastReset, startTime)
		log.WithFields(log.Fields{"events": len(events), "days": len(idx)}).
			Info("restored persisted state")
	}
	c.Rollover(startTime)

	// Local sensors. The daemon still runs HTTP-only when GPIO is not
	// available (e.g. the sensors speak the wire protocol instead).
	slotIDs, pins := pinLayout(cfg.Slots)
	var reader gpio.Reader
	if real, err := gpio.NewRealReader(pins); err != nil {
		log.WithError(err).Warn("gpio unavailable, wire ingestion only")
	} else {
		defer real.Close()
		reader = real
	}

	// MQTT
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTTEnabled {
		real, err := mqtt.NewRealPublisher(cfg.Broker)
		if err != nil {
			return err
		}
		defer real.Close()
		publisher = real
		mqttStatus = real

		startup := mqtt.SystemEvent{Timestamp: startTime, Event: "STARTUP", Retained: true}
		if err := real.PublishSystem(startup); err != nil {
			log.WithError(err).Warn("publish startup event")
		}
	}

	// Overdue evaluator
	var notifier alert.Notifier = logNotifier{}
	if publisher != nil {
		notifier = mqtt.NewAlertNotifier(publisher)
	}
	evaluator, err := alert.New(c, notifier, alert.Settings{
		Enabled:     cfg.Notifications.Enabled,
		NightStart:  cfg.Notifications.NightStart,
		NightEnd:    cfg.Notifications.NightEnd,
		GracePeriod: time.Duration(cfg.Notifications.GraceMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}

	// HTTP API
	srv := web.New(cfg.HTTPAddr, c, web.Options{
		Publisher:  publisher,
		MQTTStatus: mqttStatus,
		Info: web.Info{
			Broker:    cfg.Broker,
			HTTPAddr:  cfg.HTTPAddr,
			PollMs:    cfg.PollInterval.Milliseconds(),
			FlickerMs: cfg.FlickerThreshold.Milliseconds(),
		},
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server")
		}
	}()
	defer srv.Shutdown(context.Background())
	log.WithField("addr", cfg.HTTPAddr).Info("http server listening")

	log.WithFields(log.Fields{
		"slots":   len(cfg.Slots),
		"poll":    cfg.PollInterval,
		"flicker": cfg.FlickerThreshold,
		"broker":  cfg.Broker,
	}).Info("started")

	pollTicker := time.NewTicker(cfg.PollInterval)
	defer pollTicker.Stop()
	rolloverTicker := time.NewTicker(cfg.RolloverInterval)
	defer rolloverTicker.Stop()
	evalTicker := time.NewTicker(cfg.EvaluatorInterval)
	defer evalTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lp := &loop{
		core:      c,
		gpio:      reader,
		publisher: publisher,
		evaluator: evaluator,
		slotIDs:   slotIDs,
		now:       time.Now,
		mono:      func() time.Duration { return time.Since(startTime) },
		pollTick:  pollTicker.C,
		rollTick:  rolloverTicker.C,
		evalTick:  evalTicker.C,
		sig:       sigCh,
	}
	return lp.run(context.Background())
}

// pinLayout returns slot ids in ascending order with their sensor pins,
// aligned index for index with gpio.Reader results.
func pinLayout(slots []core.SlotConfig) ([]int, []int) {
	sorted := append([]core.SlotConfig(nil), slots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	ids := make([]int, len(sorted))
	pins := make([]int, len(sorted))
	for i, s := range sorted {
		ids[i] = s.ID
		pins[i] = s.Pin
	}
	return ids, pins
}

// loop owns the daemon's tickers. Collaborators are interfaces or nil, so
// tests can drive it with fakes and hand-fed channels.
type loop struct {
	core      *core.Core
	gpio      gpio.Reader
	publisher mqtt.Publisher
	evaluator *alert.Evaluator
	slotIDs   []int

	now  func() time.Time
	mono func() time.Duration

	pollTick <-chan time.Time
	rollTick <-chan time.Time
	evalTick <-chan time.Time
	sig      <-chan os.Signal
}

func (l *loop) run(ctx context.Context) error {
	for {
		select {
		case s := <-l.sig:
			log.WithField("signal", s).Info("shutting down")
			l.publishShutdown(signalName(s))
			return nil

		case <-ctx.Done():
			l.publishShutdown("CONTEXT")
			return ctx.Err()

		case <-l.pollTick:
			l.pollOnce()

		case <-l.rollTick:
			if l.core.Rollover(l.now()) {
				log.Info("daily flags reset")
			}

		case <-l.evalTick:
			l.evaluator.Tick(ctx, l.now())
		}
	}
}

// pollOnce reads every local sensor and feeds the samples through the core.
func (l *loop) pollOnce() {
	if l.gpio == nil {
		return
	}
	readings, err := l.gpio.Read()
	if err != nil {
		log.WithError(err).Warn("gpio read")
		return
	}
	if len(readings) != len(l.slotIDs) {
		log.WithFields(log.Fields{"got": len(readings), "want": len(l.slotIDs)}).
			Warn("gpio reading count mismatch")
		return
	}

	wall, mono := l.now(), l.mono()
	for i, id := range l.slotIDs {
		_, ev, err := l.core.ReportPresence(id, readings[i], wall, mono)
		if err != nil {
			log.WithField("slot", id).WithError(err).Warn("report presence")
			continue
		}
		if ev == nil {
			continue
		}
		log.WithFields(log.Fields{"slot": ev.SlotID, "label": ev.Label, "duration_s": ev.DurationSeconds}).
			Info("dose confirmed")
		if l.publisher != nil {
			if err := l.publisher.PublishDose(*ev); err != nil {
				log.WithField("slot", ev.SlotID).WithError(err).Warn("dose publish failed")
			}
		}
	}
}

func (l *loop) publishShutdown(reason string) {
	if l.publisher == nil {
		return
	}
	event := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.WithError(err).Warn("publish shutdown event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// logNotifier is the fallback when MQTT is disabled: overdue alerts only
// reach the log.
type logNotifier struct{}

func (logNotifier) NotifyOverdue(ctx context.Context, slotID int, label string, minutesLate int) error {
	log.WithFields(log.Fields{"slot": slotID, "label": label, "late_min": minutesLate}).
		Warn("dose overdue")
	return nil
}
