package core

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/pillbox-sensor/internal/logic"
	"github.com/sweeney/pillbox-sensor/internal/stats"
)

func testSlots() []SlotConfig {
	return []SlotConfig{
		{ID: 1, Label: "Morning", TargetTime: "08:00", Pin: 26},
		{ID: 2, Label: "Lunch", TargetTime: "13:00", Pin: 16},
	}
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c, err := New(testSlots(), Options{FlickerThreshold: time.Second}, start)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// takeDose runs a complete removal/return cycle long enough to confirm.
func takeDose(t *testing.T, c *Core, slotID int, at time.Time, mono time.Duration) *logic.DoseEvent {
	t.Helper()
	if _, ev, err := c.ReportPresence(slotID, false, at, mono); err != nil || ev != nil {
		t.Fatalf("absent sample: ev=%v err=%v", ev, err)
	}
	_, ev, err := c.ReportPresence(slotID, true, at.Add(2*time.Second), mono+2*time.Second)
	if err != nil {
		t.Fatalf("present sample: %v", err)
	}
	if ev == nil {
		t.Fatal("expected confirmed dose event")
	}
	return ev
}

func TestNewValidation(t *testing.T) {
	start := time.Now()
	if _, err := New(nil, Options{}, start); err == nil {
		t.Error("expected error for empty slot config")
	}
	if _, err := New([]SlotConfig{{ID: 0, Label: "x", TargetTime: "08:00"}}, Options{}, start); err == nil {
		t.Error("expected error for non-positive slot id")
	}
	dup := []SlotConfig{
		{ID: 1, Label: "a", TargetTime: "08:00"},
		{ID: 1, Label: "b", TargetTime: "09:00"},
	}
	if _, err := New(dup, Options{}, start); err == nil {
		t.Error("expected error for duplicate slot id")
	}
	bad := []SlotConfig{{ID: 1, Label: "a", TargetTime: "8 o'clock"}}
	if _, err := New(bad, Options{}, start); !errors.Is(err, ErrInvalidTargetTime) {
		t.Errorf("expected ErrInvalidTargetTime, got %v", err)
	}
}

func TestReportPresenceUnknownSlot(t *testing.T) {
	c := newTestCore(t)
	_, _, err := c.ReportPresence(99, false, time.Now(), 0)
	if !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("expected ErrInvalidSlot, got %v", err)
	}
	// Prior state must be retained: no history, no pending removals.
	if c.HistoryLen() != 0 {
		t.Error("invalid slot must not touch history")
	}
	for _, s := range c.Slots() {
		if s.PendingRemoval {
			t.Errorf("slot %d: unexpected pending removal", s.ID)
		}
	}
}

func TestConfirmedDoseRecordedAtomically(t *testing.T) {
	c := newTestCore(t)
	at := time.Date(2026, 3, 1, 8, 2, 0, 0, time.UTC)

	ev := takeDose(t, c, 1, at, 10*time.Second)
	if ev.SlotID != 1 || ev.Label != "Morning" {
		t.Errorf("event identity: %+v", ev)
	}
	if ev.DurationSeconds != 2 {
		t.Errorf("DurationSeconds: got %d, want 2", ev.DurationSeconds)
	}

	hist := c.History(0)
	if len(hist) != 1 {
		t.Fatalf("history: got %d entries, want 1", len(hist))
	}

	idx := c.IndexSnapshot()
	day := idx["2026-03-01"]
	if day[1].Count != 1 {
		t.Errorf("daily count: got %d, want 1", day[1].Count)
	}
	if len(day[1].Times) != 1 || !day[1].Times[0].Equal(at) {
		t.Errorf("daily times: %v", day[1].Times)
	}

	snap, err := c.Slot(1)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.DoseTakenToday {
		t.Error("DoseTakenToday should be set")
	}
	if snap.AlertSentToday {
		t.Error("AlertSentToday should be cleared by a confirmed dose")
	}
	if !snap.LastTaken.Equal(at) {
		t.Errorf("LastTaken: got %v, want %v", snap.LastTaken, at)
	}
}

func TestFlickerLeavesStateUnchanged(t *testing.T) {
	c := newTestCore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	c.ReportPresence(1, false, at, 0)
	_, ev, _ := c.ReportPresence(1, true, at.Add(500*time.Millisecond), 500*time.Millisecond)
	if ev != nil {
		t.Fatalf("flicker should not confirm, got %+v", ev)
	}
	if c.HistoryLen() != 0 {
		t.Error("flicker must not append history")
	}
	snap, _ := c.Slot(1)
	if snap.DoseTakenToday {
		t.Error("DoseTakenToday must be unchanged after flicker")
	}
}

func TestRawPresenceAlwaysUpdated(t *testing.T) {
	c := newTestCore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	c.ReportPresence(1, false, at, 0)
	snap, _ := c.Slot(1)
	if snap.RawPresence {
		t.Error("raw presence should reflect the absent sample mid-debounce")
	}
	if !snap.PendingRemoval {
		t.Error("expected pending removal")
	}
}

func TestRolloverOncePerDate(t *testing.T) {
	c := newTestCore(t)
	day1 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	takeDose(t, c, 1, day1, time.Minute)
	if err := c.MarkAlertSent(2); err != nil {
		t.Fatal(err)
	}

	if !c.Rollover(day1) {
		t.Error("first tick of a date should reset")
	}
	if c.Rollover(day1.Add(30 * time.Second)) {
		t.Error("second tick within the same date must be a no-op")
	}

	// Flags cleared for every slot.
	for _, s := range c.Slots() {
		if s.DoseTakenToday || s.AlertSentToday {
			t.Errorf("slot %d: flags not cleared: %+v", s.ID, s)
		}
	}
	// History and stats survive the rollover.
	if c.HistoryLen() != 1 {
		t.Error("rollover must not touch history")
	}

	day2 := day1.AddDate(0, 0, 1)
	if !c.Rollover(day2) {
		t.Error("date change should reset again")
	}
	if got := c.LastResetDate(); got != "2026-03-02" {
		t.Errorf("LastResetDate: got %q, want 2026-03-02", got)
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c, err := New(testSlots(), Options{HistoryCap: 3}, start)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		at := start.Add(time.Duration(i) * time.Hour)
		takeDose(t, c, 1, at, time.Duration(i)*time.Hour)
	}

	hist := c.History(0)
	if len(hist) != 3 {
		t.Fatalf("history length: got %d, want 3", len(hist))
	}
	// Newest first: hour offsets 4, 3, 2.
	for i, wantHour := range []int{4, 3, 2} {
		if got := hist[i].TakenAt.Hour(); got != wantHour {
			t.Errorf("entry %d: hour=%d, want %d", i, got, wantHour)
		}
	}
}

func TestHistoryLimit(t *testing.T) {
	c := newTestCore(t)
	start := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		takeDose(t, c, 1, start.Add(time.Duration(i)*time.Hour), time.Duration(i)*time.Hour)
	}
	if got := len(c.History(2)); got != 2 {
		t.Errorf("History(2): got %d entries", got)
	}
	if got := len(c.History(100)); got != 4 {
		t.Errorf("History(100): got %d entries", got)
	}
}

func TestDeleteHistoryEntryKeepsDailyCount(t *testing.T) {
	c := newTestCore(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	takeDose(t, c, 1, at, time.Minute)
	takeDose(t, c, 2, at.Add(time.Hour), time.Hour)

	if err := c.DeleteHistoryEntry(0); err != nil { // newest entry (slot 2)
		t.Fatal(err)
	}
	hist := c.History(0)
	if len(hist) != 1 || hist[0].SlotID != 1 {
		t.Fatalf("expected only the slot 1 entry, got %+v", hist)
	}
	// Deliberate limitation: daily counters are not decremented.
	if got := c.IndexSnapshot()["2026-03-01"][2].Count; got != 1 {
		t.Errorf("daily count after deletion: got %d, want 1 (not decremented)", got)
	}

	if err := c.DeleteHistoryEntry(5); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestResetAllClearsHistoryAndIndexTogether(t *testing.T) {
	c := newTestCore(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	takeDose(t, c, 1, at, time.Minute)

	c.ResetAll()
	if c.HistoryLen() != 0 {
		t.Error("history not cleared")
	}
	if len(c.IndexSnapshot()) != 0 {
		t.Error("daily index not cleared")
	}
	snap, _ := c.Slot(1)
	if snap.DoseTakenToday || snap.AlertSentToday || !snap.RawPresence {
		t.Errorf("slot flags not reset: %+v", snap)
	}
}

func TestResetSlotKeepsHistory(t *testing.T) {
	c := newTestCore(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	takeDose(t, c, 1, at, time.Minute)

	if err := c.ResetSlot(1); err != nil {
		t.Fatal(err)
	}
	snap, _ := c.Slot(1)
	if snap.DoseTakenToday || !snap.LastTaken.IsZero() {
		t.Errorf("slot not reset: %+v", snap)
	}
	if c.HistoryLen() != 1 {
		t.Error("slot reset must not touch history")
	}
	if errors.Is(c.ResetSlot(42), ErrInvalidSlot) == false {
		t.Error("expected ErrInvalidSlot for unknown slot")
	}
}

func TestUpdateSlot(t *testing.T) {
	c := newTestCore(t)

	snap, err := c.UpdateSlot(1, "Blood pressure", "after breakfast", "08:30")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Label != "Blood pressure" || snap.TargetTime != "08:30" || snap.TargetMinute != 510 {
		t.Errorf("update not applied: %+v", snap)
	}

	// Empty fields leave values unchanged.
	snap, err = c.UpdateSlot(1, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Label != "Blood pressure" {
		t.Errorf("empty update changed label: %+v", snap)
	}

	if _, err := c.UpdateSlot(1, "", "", "25:99"); err == nil {
		t.Error("expected error for malformed target time")
	}
	if _, err := c.UpdateSlot(9, "x", "", ""); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("expected ErrInvalidSlot, got %v", err)
	}
}

func TestNextDose(t *testing.T) {
	c := newTestCore(t)
	now := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)

	next := c.Next(now)
	if next == nil {
		t.Fatal("expected an upcoming dose")
	}
	if next.Slot.ID != 1 || next.MinutesRemaining != 30 {
		t.Errorf("next: slot=%d remaining=%d, want slot 1 in 30m", next.Slot.ID, next.MinutesRemaining)
	}

	// After the morning dose is taken, lunch is next.
	takeDose(t, c, 1, now, time.Minute)
	next = c.Next(now)
	if next == nil || next.Slot.ID != 2 {
		t.Fatalf("expected slot 2 next, got %+v", next)
	}

	// Past the last target nothing remains.
	if got := c.Next(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)); got != nil {
		t.Errorf("expected nil after last target, got %+v", got)
	}
}

func TestRestoreRebuildsTodayFlags(t *testing.T) {
	c := newTestCore(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	taken := time.Date(2026, 3, 2, 8, 1, 0, 0, time.UTC)

	events := []logic.DoseEvent{
		{SlotID: 1, Label: "Morning", TakenAt: taken, ReturnedAt: taken.Add(3 * time.Second), DurationSeconds: 3},
	}
	idx := stats.Index{
		"2026-03-01": {1: stats.SlotDay{Count: 1, Times: []time.Time{taken.AddDate(0, 0, -1)}}},
		"2026-03-02": {1: stats.SlotDay{Count: 1, Times: []time.Time{taken}}},
	}
	c.Restore(events, idx, "2026-03-02", now)

	snap, _ := c.Slot(1)
	if !snap.DoseTakenToday {
		t.Error("today's flag should be rebuilt from the index")
	}
	if !snap.LastTaken.Equal(taken) {
		t.Errorf("LastTaken: got %v, want %v", snap.LastTaken, taken)
	}
	snap2, _ := c.Slot(2)
	if snap2.DoseTakenToday {
		t.Error("slot without doses today must stay cleared")
	}

	// Same-day restart: rollover must not double-reset.
	if c.Rollover(now) {
		t.Error("rollover within the restored date should be a no-op")
	}
	if hist := c.History(0); len(hist) != 1 || hist[0].SlotID != 1 {
		t.Errorf("restored history wrong: %+v", hist)
	}
}

func TestMetricsDelegation(t *testing.T) {
	c := newTestCore(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	takeDose(t, c, 1, at, time.Minute)

	m := c.Metrics()
	if m.PDC != 100 || m.TotalCount != 1 || m.TotalDays != 1 {
		t.Errorf("metrics: %+v", m)
	}
	week := c.WeeklyRollup(at)
	if len(week) != 7 || week[6].CompletedCount != 1 {
		t.Errorf("weekly rollup: %+v", week)
	}
}
