package stats

import "math"

// SlotReport is the per-slot breakdown used by the detailed report.
type SlotReport struct {
	TotalCount         int
	SuccessRate        int     // doses per observed day, as a rounded percentage
	WeekdayPattern     [7]int  // days with a dose, bucketed Sun..Sat
	HourlyDistribution [24]int // doses bucketed by hour of day
	MaxStreak          int     // longest run over recorded dates
	CurrentStreak      int     // run ending at the most recent recorded date
}

// PerSlot computes a report for each requested slot over the whole index.
// Streaks here run over recorded dates in order, matching the dashboard's
// historical behaviour; calendar gaps between records do not break them.
func PerSlot(idx Index, slotIDs []int) map[int]*SlotReport {
	reports := make(map[int]*SlotReport, len(slotIDs))
	for _, id := range slotIDs {
		reports[id] = &SlotReport{}
	}

	dates := sortedDates(idx)
	for _, d := range dates {
		day := idx[d.key]
		weekday := int(d.t.Weekday())

		for _, id := range slotIDs {
			r := reports[id]
			sd, ok := day[id]
			if !ok || sd.Count == 0 {
				r.CurrentStreak = 0
				continue
			}

			r.TotalCount += sd.Count
			r.WeekdayPattern[weekday]++
			for _, tm := range sd.Times {
				r.HourlyDistribution[tm.Hour()]++
			}

			r.CurrentStreak++
			if r.CurrentStreak > r.MaxStreak {
				r.MaxStreak = r.CurrentStreak
			}
		}
	}

	if n := len(dates); n > 0 {
		for _, r := range reports {
			r.SuccessRate = int(math.Round(100 * float64(r.TotalCount) / float64(n)))
		}
	}
	return reports
}
