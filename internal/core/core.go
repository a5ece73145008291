package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sweeney/pillbox-sensor/internal/logic"
	"github.com/sweeney/pillbox-sensor/internal/stats"
)

// Core is the single mutable state of the daemon. All access goes through
// its methods; the mutex covers every mutation path so sample ingestion,
// rollover ticks, alert bookkeeping, and admin resets never interleave.
type Core struct {
	mu sync.Mutex

	slots map[int]*slot
	order []int // slot ids, ascending, for stable iteration

	history []logic.DoseEvent // oldest first; exposed newest first
	histCap int

	index stats.Index // local date -> slot -> daily stats

	lastResetDate string
	journal       Journal
	startTime     time.Time
}

// Options tunes a Core. Zero values select the defaults.
type Options struct {
	FlickerThreshold time.Duration // debounce threshold, default 1s
	HistoryCap       int           // default DefaultHistoryCap
	Journal          Journal       // default NopJournal
}

// New builds a Core from the configured slots. Slot ids must be positive and
// unique and target times must parse as HH:MM.
func New(cfgs []SlotConfig, opts Options, startTime time.Time) (*Core, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("core: no slots configured")
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = DefaultHistoryCap
	}
	if opts.Journal == nil {
		opts.Journal = NopJournal{}
	}

	c := &Core{
		slots:     make(map[int]*slot, len(cfgs)),
		histCap:   opts.HistoryCap,
		index:     make(stats.Index),
		journal:   opts.Journal,
		startTime: startTime,
	}

	for _, cfg := range cfgs {
		if cfg.ID <= 0 {
			return nil, fmt.Errorf("core: slot id %d: ids must be positive", cfg.ID)
		}
		if _, dup := c.slots[cfg.ID]; dup {
			return nil, fmt.Errorf("core: duplicate slot id %d", cfg.ID)
		}
		minute, err := parseTargetMinute(cfg.TargetTime)
		if err != nil {
			return nil, fmt.Errorf("core: slot %d: %w", cfg.ID, err)
		}
		c.slots[cfg.ID] = &slot{
			cfg:          cfg,
			targetMinute: minute,
			rawPresence:  true, // assume container present until first sample
			deb:          logic.NewDebouncer(cfg.ID, opts.FlickerThreshold),
		}
		c.order = append(c.order, cfg.ID)
	}
	sort.Ints(c.order)
	return c, nil
}

// ReportPresence feeds one raw sample into the slot's debouncer. The raw
// presence field is updated unconditionally so state queries always reflect
// the latest reading, even mid-debounce. If the sample confirms a dose the
// event is recorded atomically (history plus daily index) and returned so
// the caller can publish it.
func (c *Core) ReportPresence(slotID int, present bool, wall time.Time, mono time.Duration) (SlotSnapshot, *logic.DoseEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sl, ok := c.slots[slotID]
	if !ok {
		return SlotSnapshot{}, nil, ErrInvalidSlot
	}

	sl.rawPresence = present

	ev := sl.deb.Process(logic.Sample{Present: present, Wall: wall, Mono: mono})
	if ev != nil {
		ev.Label = sl.cfg.Label
		c.recordDoseLocked(sl, *ev)
	}
	return c.snapshotLocked(sl), ev, nil
}

// recordDoseLocked appends to history and updates the daily index together,
// so no event is ever partially recorded.
func (c *Core) recordDoseLocked(sl *slot, ev logic.DoseEvent) {
	c.history = append(c.history, ev)
	if len(c.history) > c.histCap {
		c.history = append(c.history[:0], c.history[len(c.history)-c.histCap:]...)
	}

	key := ev.TakenAt.Format(stats.DateLayout)
	day, ok := c.index[key]
	if !ok {
		day = make(stats.Day)
		c.index[key] = day
	}
	sd := day[ev.SlotID]
	sd.Count++
	sd.Times = append(sd.Times, ev.TakenAt)
	day[ev.SlotID] = sd

	sl.doseTakenToday = true
	sl.alertSentToday = false
	sl.lastTaken = ev.TakenAt

	c.journal.RecordDose(ev)
}

// Rollover clears every slot's daily flags when the local calendar date has
// changed since the last reset. It is idempotent under arbitrarily frequent
// ticks: only the first tick after a date change does anything. Returns true
// when a reset was performed.
func (c *Core) Rollover(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := now.Format(stats.DateLayout)
	if key == c.lastResetDate {
		return false
	}
	for _, id := range c.order {
		sl := c.slots[id]
		sl.doseTakenToday = false
		sl.alertSentToday = false
	}
	c.lastResetDate = key
	c.journal.RecordReset(key)
	return true
}

// MarkAlertSent records that the overdue alert for a slot was delivered
// today. Called by the evaluator after a successful notifier call, outside
// any long-running work.
func (c *Core) MarkAlertSent(slotID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sl, ok := c.slots[slotID]
	if !ok {
		return ErrInvalidSlot
	}
	sl.alertSentToday = true
	return nil
}

// Restore loads persisted state at startup: history (newest first, as the
// store returns it), the daily index, and the last reset date. Today's
// doseTakenToday flags are rebuilt from the index so a mid-day restart does
// not re-alert for doses already taken.
func (c *Core) Restore(events []logic.DoseEvent, idx stats.Index, lastResetDate string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(events) > c.histCap {
		events = events[:c.histCap]
	}
	c.history = c.history[:0]
	for i := len(events) - 1; i >= 0; i-- { // store order is newest first
		c.history = append(c.history, events[i])
	}

	if idx != nil {
		c.index = idx
	}
	c.lastResetDate = lastResetDate

	today := now.Format(stats.DateLayout)
	for id, sd := range c.index[today] {
		sl, ok := c.slots[id]
		if !ok || sd.Count == 0 {
			continue
		}
		sl.doseTakenToday = true
		if n := len(sd.Times); n > 0 {
			sl.lastTaken = sd.Times[n-1]
		}
	}
}

// Slot returns a snapshot of one slot.
func (c *Core) Slot(slotID int) (SlotSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sl, ok := c.slots[slotID]
	if !ok {
		return SlotSnapshot{}, ErrInvalidSlot
	}
	return c.snapshotLocked(sl), nil
}

// Slots returns snapshots of all slots in ascending id order.
func (c *Core) Slots() []SlotSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SlotSnapshot, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.snapshotLocked(c.slots[id]))
	}
	return out
}

// History returns up to limit confirmed events, newest first. limit <= 0
// returns everything retained.
func (c *Core) History(limit int) []logic.DoseEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]logic.DoseEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.history[i])
	}
	return out
}

// HistoryLen returns the number of retained events.
func (c *Core) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// DailyStats returns a copy of the daily index, optionally restricted to the
// inclusive [from, to] date-key range. Empty bounds mean unbounded.
func (c *Core) DailyStats(from, to string) stats.Index {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(stats.Index, len(c.index))
	for key, day := range c.index {
		if from != "" && key < from {
			continue
		}
		if to != "" && key > to {
			continue
		}
		out[key] = copyDay(day)
	}
	return out
}

// IndexSnapshot returns a full copy of the daily index for metrics
// computation outside the lock.
func (c *Core) IndexSnapshot() stats.Index {
	return c.DailyStats("", "")
}

// TargetMinutes maps slot id to scheduled minute of day.
func (c *Core) TargetMinutes() map[int]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int]int, len(c.slots))
	for id, sl := range c.slots {
		out[id] = sl.targetMinute
	}
	return out
}

// SlotIDs returns the configured slot ids in ascending order.
func (c *Core) SlotIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.order...)
}

// Metrics recomputes the adherence summary from a snapshot of the index.
func (c *Core) Metrics() stats.Metrics {
	return stats.Adherence(c.IndexSnapshot(), c.TargetMinutes())
}

// PerSlotReports computes the detailed per-slot breakdown over the whole
// daily index.
func (c *Core) PerSlotReports() map[int]*stats.SlotReport {
	return stats.PerSlot(c.IndexSnapshot(), c.SlotIDs())
}

// WeeklyRollup returns the trailing seven days of completion counts.
func (c *Core) WeeklyRollup(now time.Time) []stats.WeeklyDay {
	return stats.Weekly(c.IndexSnapshot(), now)
}

// AdherenceRate is the overall taken/expected percentage.
func (c *Core) AdherenceRate() int {
	return stats.AdherenceRate(c.IndexSnapshot(), len(c.SlotIDs()))
}

// Next returns the nearest upcoming dose today among slots not yet taken,
// or nil when nothing is scheduled later today.
func (c *Core) Next(now time.Time) *NextDose {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowMinute := now.Hour()*60 + now.Minute()
	var best *NextDose
	for _, id := range c.order {
		sl := c.slots[id]
		if sl.doseTakenToday || sl.targetMinute <= nowMinute {
			continue
		}
		remaining := sl.targetMinute - nowMinute
		if best == nil || remaining < best.MinutesRemaining {
			best = &NextDose{Slot: c.snapshotLocked(sl), MinutesRemaining: remaining}
		}
	}
	return best
}

// StartTime returns the daemon start time used for uptime reporting.
func (c *Core) StartTime() time.Time {
	return c.startTime
}

// LastResetDate returns the persisted date key of the last daily reset,
// empty if no rollover has run yet.
func (c *Core) LastResetDate() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResetDate
}

func (c *Core) snapshotLocked(sl *slot) SlotSnapshot {
	return SlotSnapshot{
		ID:             sl.cfg.ID,
		Label:          sl.cfg.Label,
		Description:    sl.cfg.Description,
		TargetTime:     sl.cfg.TargetTime,
		TargetMinute:   sl.targetMinute,
		RawPresence:    sl.rawPresence,
		DoseTakenToday: sl.doseTakenToday,
		AlertSentToday: sl.alertSentToday,
		PendingRemoval: sl.deb.Pending(),
		LastTaken:      sl.lastTaken,
	}
}

func copyDay(day stats.Day) stats.Day {
	out := make(stats.Day, len(day))
	for id, sd := range day {
		cp := sd
		cp.Times = append([]time.Time(nil), sd.Times...)
		out[id] = cp
	}
	return out
}
