// Package stats computes adherence metrics over the daily dose index.
// All functions are pure and read-only: they take a value copy of the index
// and recompute on demand, returning defined zero results on empty input.
package stats

import (
	"math"
	"sort"
	"time"
)

// DateLayout is the calendar-date key format used by the daily index.
const DateLayout = "2006-01-02"

// SlotDay holds one slot's confirmed doses for one calendar date.
type SlotDay struct {
	Count int
	Times []time.Time
}

// Day maps slot id to that slot's stats for a single date.
type Day map[int]SlotDay

// Index maps a local calendar date (YYYY-MM-DD) to its per-slot stats.
type Index map[string]Day

// Metrics is the adherence summary over the whole observed span.
type Metrics struct {
	PDC                 int     // proportion of days covered, percent
	MaxStreak           int     // longest run of consecutive covered days
	MaxGap              int     // most calendar days skipped between records
	TimeAccuracyMinutes float64 // mean |actual - target| minutes over all doses
	TotalDays           int     // dates with at least one record
	TotalCount          int     // confirmed doses across all slots and dates
}

// WeeklyDay is one entry of the trailing-seven-day rollup.
type WeeklyDay struct {
	Date           string
	Day            string // weekday label, e.g. "Mon"
	CompletedCount int    // distinct slots with at least one dose that date
}

var weekdayLabels = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Adherence computes the summary metrics. targets maps slot id to its
// scheduled minute of day and is only consulted for time accuracy.
func Adherence(idx Index, targets map[int]int) Metrics {
	dates := sortedDates(idx)
	m := Metrics{TotalDays: len(dates)}
	if len(dates) == 0 {
		return m
	}

	var successDays int
	for _, d := range dates {
		if dayCovered(idx[d.key]) {
			successDays++
		}
		for _, sd := range idx[d.key] {
			m.TotalCount += sd.Count
		}
	}

	span := daysBetween(dates[0].t, dates[len(dates)-1].t) + 1
	if span < 1 {
		span = 1
	}
	m.PDC = int(math.Round(100 * float64(successDays) / float64(span)))
	m.MaxStreak = maxStreak(idx, dates)
	m.MaxGap = maxGap(dates)
	m.TimeAccuracyMinutes = timeAccuracy(idx, targets)
	return m
}

// Weekly returns the trailing seven calendar days including today, in
// ascending date order, for charting.
func Weekly(idx Index, now time.Time) []WeeklyDay {
	out := make([]WeeklyDay, 0, 7)
	for i := 6; i >= 0; i-- {
		date := now.AddDate(0, 0, -i)
		key := date.Format(DateLayout)

		var completed int
		for _, sd := range idx[key] {
			if sd.Count > 0 {
				completed++
			}
		}
		out = append(out, WeeklyDay{
			Date:           key,
			Day:            weekdayLabels[int(date.Weekday())],
			CompletedCount: completed,
		})
	}
	return out
}

// AdherenceRate is the fraction of expected doses actually taken: slots with
// a dose per recorded day over slotCount doses expected per day, as a
// rounded percentage. Returns 0 when the index is empty.
func AdherenceRate(idx Index, slotCount int) int {
	if len(idx) == 0 || slotCount <= 0 {
		return 0
	}
	var taken, expected int
	for _, day := range idx {
		expected += slotCount
		for _, sd := range day {
			if sd.Count > 0 {
				taken++
			}
		}
	}
	if expected == 0 {
		return 0
	}
	return int(math.Round(100 * float64(taken) / float64(expected)))
}

// dayCovered reports whether any slot recorded a dose that day.
func dayCovered(day Day) bool {
	for _, sd := range day {
		if sd.Count > 0 {
			return true
		}
	}
	return false
}

// maxStreak finds the longest run of calendar-consecutive covered dates.
// A gap other than exactly one day resets the running streak to 1 when the
// date itself is covered, else to 0.
func maxStreak(idx Index, dates []datedKey) int {
	var best, run int
	for i, d := range dates {
		covered := dayCovered(idx[d.key])
		switch {
		case i == 0 || daysBetween(dates[i-1].t, d.t) != 1:
			if covered {
				run = 1
			} else {
				run = 0
			}
		case covered:
			run++
		default:
			run = 0
		}
		if run > best {
			best = run
		}
	}
	return best
}

// maxGap is the largest count of skipped calendar days between adjacent
// recorded dates.
func maxGap(dates []datedKey) int {
	var gap int
	for i := 1; i < len(dates); i++ {
		if g := daysBetween(dates[i-1].t, dates[i].t) - 1; g > gap {
			gap = g
		}
	}
	return gap
}

// timeAccuracy is the mean absolute deviation, in minutes, between each
// dose's minute of day and its slot's target minute. Same-day comparison
// only: no cross-midnight wraparound credit.
func timeAccuracy(idx Index, targets map[int]int) float64 {
	var total float64
	var n int
	for _, day := range idx {
		for slotID, sd := range day {
			target, ok := targets[slotID]
			if !ok {
				continue
			}
			for _, tm := range sd.Times {
				actual := tm.Hour()*60 + tm.Minute()
				total += math.Abs(float64(actual - target))
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

type datedKey struct {
	key string
	t   time.Time
}

// sortedDates parses and ascending-sorts the index keys, skipping any
// malformed date key rather than failing the whole computation.
func sortedDates(idx Index) []datedKey {
	out := make([]datedKey, 0, len(idx))
	for k := range idx {
		t, err := time.Parse(DateLayout, k)
		if err != nil {
			continue
		}
		out = append(out, datedKey{key: k, t: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].t.Before(out[j].t) })
	return out
}

// daysBetween returns whole calendar days from a to b. Keys parse as UTC
// midnights so the division is exact.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
