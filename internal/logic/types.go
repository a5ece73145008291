// Package logic contains pure business logic for dose detection.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable: every sample carries its own wall and monotonic
// reading, so wall-clock adjustments can never affect flicker timing.
package logic

import "time"

// DefaultFlickerThreshold is the minimum absence duration for a removal to
// count as a genuine dose rather than signal flicker.
const DefaultFlickerThreshold = time.Second

// Sample is a single raw presence reading for one slot.
type Sample struct {
	// Present is true while the pill container sits in its compartment.
	Present bool
	// Wall is the wall-clock time of the reading, recorded into events.
	Wall time.Time
	// Mono is a reading from a monotonic source (e.g. time since process
	// start). Flicker rejection compares Mono values only.
	Mono time.Duration
}

// DoseEvent is a confirmed removal-then-return cycle for one slot.
// Immutable once emitted.
type DoseEvent struct {
	SlotID          int
	Label           string
	TakenAt         time.Time // start of absence
	ReturnedAt      time.Time // end of absence
	DurationSeconds int
}

// pendingRemoval tracks an absence interval that has not yet resolved.
type pendingRemoval struct {
	startMono time.Duration
	startWall time.Time
}
