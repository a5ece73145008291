package core

import (
	"fmt"
	"time"

	"github.com/sweeney/pillbox-sensor/internal/stats"
)

// UpdateSlot changes a slot's medication metadata. Empty fields are left
// unchanged. A new target time must parse as HH:MM.
func (c *Core) UpdateSlot(slotID int, label, description, targetTime string) (SlotSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sl, ok := c.slots[slotID]
	if !ok {
		return SlotSnapshot{}, ErrInvalidSlot
	}
	if targetTime != "" {
		minute, err := parseTargetMinute(targetTime)
		if err != nil {
			return SlotSnapshot{}, fmt.Errorf("slot %d: %w", slotID, err)
		}
		sl.cfg.TargetTime = targetTime
		sl.targetMinute = minute
	}
	if label != "" {
		sl.cfg.Label = label
	}
	if description != "" {
		sl.cfg.Description = description
	}
	return c.snapshotLocked(sl), nil
}

// DeleteHistoryEntry removes one event by its newest-first index, as shown
// in history listings. The daily index is intentionally NOT decremented:
// single-entry deletion is a pruning tool and keeping the counters was the
// documented behaviour this replaces. Full consistency is only guaranteed by
// ResetAll.
func (c *Core) DeleteHistoryEntry(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.history)
	if index < 0 || index >= n {
		return fmt.Errorf("core: history index %d out of range [0,%d)", index, n)
	}
	i := n - 1 - index // internal storage is oldest first
	ev := c.history[i]
	c.history = append(c.history[:i], c.history[i+1:]...)
	c.journal.DeleteDose(ev)
	return nil
}

// ResetAll clears the history and the daily index together, plus every
// slot's daily flags and debounce state. History and index are never left
// out of sync: this is the only operation that clears either wholesale.
func (c *Core) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = c.history[:0]
	c.index = make(stats.Index)
	for _, id := range c.order {
		c.resetSlotLocked(c.slots[id])
	}
	c.journal.Clear()
}

// ResetSlot clears one slot's daily flags, raw value, and any pending
// debounce cycle. History and daily stats are untouched.
func (c *Core) ResetSlot(slotID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sl, ok := c.slots[slotID]
	if !ok {
		return ErrInvalidSlot
	}
	c.resetSlotLocked(sl)
	return nil
}

func (c *Core) resetSlotLocked(sl *slot) {
	sl.rawPresence = true
	sl.doseTakenToday = false
	sl.alertSentToday = false
	sl.lastTaken = time.Time{}
	sl.deb.Reset()
}
