package alert

import (
	"fmt"
	"time"

	"github.com/sweeney/pillbox-sensor/internal/core"
)

// Notice is a UI-facing advisory computed on demand. Unlike Tick, building
// notices mutates nothing and ignores night mode: the dashboard can always
// show what is late or coming up.
type Notice struct {
	SlotID      int    `json:"sensorId"`
	Type        string `json:"type"`     // "warning" or "info"
	Priority    string `json:"priority"` // "high", "medium", "low"
	Message     string `json:"message"`
	MinutesLate int    `json:"minutesLate,omitempty"`
}

// upcomingWindow is how far before the target an "upcoming dose" notice
// appears.
const upcomingWindow = 10

// Notices returns overdue warnings and upcoming-dose reminders for slots
// that have not been taken today.
func Notices(slots []core.SlotSnapshot, now time.Time) []Notice {
	var out []Notice
	for _, snap := range slots {
		if snap.DoseTakenToday {
			continue
		}
		late := minutesLate(now, snap.TargetMinute)
		switch {
		case late > 0:
			priority := "medium"
			if late > 60 {
				priority = "high"
			}
			out = append(out, Notice{
				SlotID:      snap.ID,
				Type:        "warning",
				Priority:    priority,
				Message:     fmt.Sprintf("%s not taken yet (%d min late)", snap.Label, late),
				MinutesLate: late,
			})
		case late >= -upcomingWindow && late < 0:
			out = append(out, Notice{
				SlotID:   snap.ID,
				Type:     "info",
				Priority: "low",
				Message:  fmt.Sprintf("%s is due in %d min", snap.Label, -late),
			})
		}
	}
	return out
}
