// Package alert decides when a scheduled dose is overdue and hands exactly
// one alert per slot per day to the notifier collaborator.
package alert

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/pillbox-sensor/internal/core"
)

// DefaultGracePeriod is how long past the target time a dose may run before
// it counts as overdue.
const DefaultGracePeriod = 30 * time.Minute

// DefaultNotifyTimeout bounds a single notifier call. A timeout counts as a
// delivery failure and is retried on the next tick.
const DefaultNotifyTimeout = 10 * time.Second

// Notifier delivers an overdue-dose alert. Implementations are expected to
// be slow (network); the evaluator never holds the core lock across a call.
type Notifier interface {
	NotifyOverdue(ctx context.Context, slotID int, label string, minutesLate int) error
}

// Settings is the global notification configuration.
type Settings struct {
	Enabled bool
	// NightStart/NightEnd define a [start,end) time-of-day window during
	// which no alerts fire. The window may span midnight (e.g. 22:00-06:00).
	// Both empty disables night mode.
	NightStart    string
	NightEnd      string
	GracePeriod   time.Duration
	NotifyTimeout time.Duration
}

// Evaluator inspects slot state once per tick and dispatches overdue alerts.
type Evaluator struct {
	core     *core.Core
	notifier Notifier

	grace      time.Duration
	timeout    time.Duration
	enabled    bool
	nightOn    bool
	nightStart int // minutes since midnight
	nightEnd   int
}

// New builds an evaluator. Night-mode bounds must both be set or both empty.
func New(c *core.Core, n Notifier, s Settings) (*Evaluator, error) {
	e := &Evaluator{
		core:     c,
		notifier: n,
		grace:    s.GracePeriod,
		timeout:  s.NotifyTimeout,
		enabled:  s.Enabled,
	}
	if e.grace <= 0 {
		e.grace = DefaultGracePeriod
	}
	if e.timeout <= 0 {
		e.timeout = DefaultNotifyTimeout
	}

	if (s.NightStart == "") != (s.NightEnd == "") {
		return nil, fmt.Errorf("alert: night mode needs both start and end")
	}
	if s.NightStart != "" {
		start, err := parseMinute(s.NightStart)
		if err != nil {
			return nil, fmt.Errorf("alert: night start: %w", err)
		}
		end, err := parseMinute(s.NightEnd)
		if err != nil {
			return nil, fmt.Errorf("alert: night end: %w", err)
		}
		e.nightOn = true
		e.nightStart = start
		e.nightEnd = end
	}
	return e, nil
}

// Tick evaluates every slot once and returns the ids of slots that were
// alerted. Slots are independent: one slot's delivery failure is logged and
// retried next tick without blocking the others.
func (e *Evaluator) Tick(ctx context.Context, now time.Time) []int {
	if !e.enabled {
		return nil
	}
	if e.nightOn && inWindow(minuteOfDay(now), e.nightStart, e.nightEnd) {
		return nil
	}

	var alerted []int
	for _, snap := range e.core.Slots() {
		if snap.DoseTakenToday || snap.AlertSentToday {
			continue
		}

		late := minutesLate(now, snap.TargetMinute)
		switch {
		case late <= 0:
			continue
		case time.Duration(late)*time.Minute <= e.grace:
			log.WithFields(log.Fields{"slot": snap.ID, "late_min": late}).
				Debug("dose running late, still within grace period")
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		err := e.notifier.NotifyOverdue(callCtx, snap.ID, snap.Label, late)
		cancel()
		if err != nil {
			// Flag stays false so the next tick retries.
			log.WithFields(log.Fields{"slot": snap.ID, "late_min": late}).
				WithError(err).Warn("overdue alert delivery failed")
			continue
		}

		if err := e.core.MarkAlertSent(snap.ID); err != nil {
			log.WithField("slot", snap.ID).WithError(err).Warn("mark alert sent")
			continue
		}
		log.WithFields(log.Fields{"slot": snap.ID, "label": snap.Label, "late_min": late}).
			Info("overdue alert sent")
		alerted = append(alerted, snap.ID)
	}
	return alerted
}

// minutesLate is how far past today's target the given time is, rounded to
// whole minutes. Negative before the target.
func minutesLate(now time.Time, targetMinute int) int {
	target := time.Date(now.Year(), now.Month(), now.Day(),
		targetMinute/60, targetMinute%60, 0, 0, now.Location())
	return int(math.Round(now.Sub(target).Minutes()))
}

// inWindow reports whether minute t lies in [start,end), where the window
// may wrap past midnight.
func inWindow(t, start, end int) bool {
	if start <= end {
		return start <= t && t < end
	}
	return t >= start || t < end
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func parseMinute(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
