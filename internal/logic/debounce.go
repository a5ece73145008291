package logic

import (
	"math"
	"time"
)

// Debouncer converts raw presence samples for a single slot into confirmed
// dose events, discarding absence intervals shorter than the flicker
// threshold. It tracks two states: present (initial) and pending-removal.
type Debouncer struct {
	slotID    int
	threshold time.Duration
	pending   *pendingRemoval
}

// NewDebouncer creates a debouncer for the given slot. A threshold <= 0
// falls back to DefaultFlickerThreshold.
func NewDebouncer(slotID int, threshold time.Duration) *Debouncer {
	if threshold <= 0 {
		threshold = DefaultFlickerThreshold
	}
	return &Debouncer{slotID: slotID, threshold: threshold}
}

// Process takes a new sample and returns a DoseEvent if the sample resolves
// a pending removal whose duration met the flicker threshold, nil otherwise.
//
// An absent sample while already pending is idempotent: only the first absent
// sample after a present state starts the timer. A present sample while
// pending always resolves the cycle, either confirming or discarding it.
func (d *Debouncer) Process(s Sample) *DoseEvent {
	if !s.Present {
		if d.pending == nil {
			d.pending = &pendingRemoval{startMono: s.Mono, startWall: s.Wall}
		}
		return nil
	}

	if d.pending == nil {
		return nil // stable present, nothing to resolve
	}

	elapsed := s.Mono - d.pending.startMono
	if elapsed < 0 {
		// Monotonic source went backwards; treat as zero elapsed so the
		// interval is rejected as flicker rather than crashing or
		// confirming a bogus dose.
		elapsed = 0
	}
	start := d.pending
	d.pending = nil

	if elapsed < d.threshold {
		return nil // flicker, discard silently
	}

	return &DoseEvent{
		SlotID:          d.slotID,
		TakenAt:         start.startWall,
		ReturnedAt:      s.Wall,
		DurationSeconds: int(math.Round(elapsed.Seconds())),
	}
}

// Pending reports whether an unresolved removal is in progress.
func (d *Debouncer) Pending() bool {
	return d.pending != nil
}

// PendingSince returns the wall-clock start of the unresolved removal, or a
// zero time if none is in progress.
func (d *Debouncer) PendingSince() time.Time {
	if d.pending == nil {
		return time.Time{}
	}
	return d.pending.startWall
}

// Reset discards any pending removal, returning the debouncer to the
// present state. Used by administrative slot resets.
func (d *Debouncer) Reset() {
	d.pending = nil
}
