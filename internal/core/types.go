// Package core owns the dispenser state: the slot registry, the capped event
// history, and the daily dose index, all behind a single mutex. Every
// mutation path (sample ingestion, day rollover, alert bookkeeping,
// administrative resets) goes through a Core instance; there is no package
// level state.
package core

import (
	"errors"
	"time"

	"github.com/sweeney/pillbox-sensor/internal/logic"
)

// DefaultHistoryCap bounds the confirmed-event history; oldest entries are
// evicted on overflow.
const DefaultHistoryCap = 500

var (
	// ErrInvalidSlot is returned for slot ids not in the registry.
	ErrInvalidSlot = errors.New("core: unknown slot id")
	// ErrInvalidSample is returned for malformed presence values at the
	// ingestion boundary (anything other than 0 or 1 on the wire).
	ErrInvalidSample = errors.New("core: malformed presence sample")
	// ErrInvalidTargetTime is returned when a slot's target time does not
	// parse as HH:MM.
	ErrInvalidTargetTime = errors.New("core: target time must be HH:MM")
)

// SlotConfig defines one compartment at startup.
type SlotConfig struct {
	ID          int    `mapstructure:"id"`
	Label       string `mapstructure:"label"`
	Description string `mapstructure:"description"`
	TargetTime  string `mapstructure:"target_time"` // HH:MM, host local time
	Pin         int    `mapstructure:"pin"`         // BCM line offset of the presence sensor
}

// slot is the live per-compartment state. Mutated only under Core.mu.
type slot struct {
	cfg          SlotConfig
	targetMinute int // cfg.TargetTime as minutes since local midnight

	rawPresence    bool // last observed raw reading, updated on every sample
	doseTakenToday bool
	alertSentToday bool
	lastTaken      time.Time // TakenAt of the most recent confirmed event

	deb *logic.Debouncer
}

// SlotSnapshot is a point-in-time copy of one slot's state. It is a value
// type, safe to use after the core lock is released.
type SlotSnapshot struct {
	ID             int
	Label          string
	Description    string
	TargetTime     string
	TargetMinute   int
	RawPresence    bool
	DoseTakenToday bool
	AlertSentToday bool
	PendingRemoval bool
	LastTaken      time.Time // zero if no dose recorded yet
}

// NextDose describes the nearest upcoming scheduled dose.
type NextDose struct {
	Slot             SlotSnapshot
	MinutesRemaining int
}

// Journal persists confirmed events and rollover bookkeeping. Implementations
// must not block: Core calls these while holding its lock. The sqlite store
// satisfies this with an async batch writer; tests use the no-op journal.
type Journal interface {
	RecordDose(ev logic.DoseEvent)
	RecordReset(date string)
	DeleteDose(ev logic.DoseEvent)
	Clear()
}

// NopJournal discards everything. Used when persistence is disabled.
type NopJournal struct{}

func (NopJournal) RecordDose(logic.DoseEvent) {}
func (NopJournal) RecordReset(string)         {}
func (NopJournal) DeleteDose(logic.DoseEvent) {}
func (NopJournal) Clear()                     {}

// parseTargetMinute converts "HH:MM" to minutes since midnight.
func parseTargetMinute(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, ErrInvalidTargetTime
	}
	return t.Hour()*60 + t.Minute(), nil
}
