package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sweeney/pillbox-sensor/internal/core"
	"github.com/sweeney/pillbox-sensor/internal/logic"
	"github.com/sweeney/pillbox-sensor/internal/stats"
)

// SlotJSON is the wire representation of one compartment. Value follows the
// firmware convention: 1 means the container is out, 0 means present.
type SlotJSON struct {
	SensorID       int    `json:"sensorId"`
	Value          int    `json:"value"`
	Label          string `json:"label"`
	Description    string `json:"description,omitempty"`
	TargetTime     string `json:"targetTime"`
	DoseTakenToday bool   `json:"doseTakenToday"`
	PendingRemoval bool   `json:"pendingRemoval"`
	LastTaken      string `json:"lastTaken,omitempty"`
}

// EventJSON is the wire representation of a confirmed dose.
type EventJSON struct {
	SensorID        int    `json:"sensorId"`
	Label           string `json:"label"`
	TakenAt         string `json:"takenAt"`
	ReturnedAt      string `json:"returnedAt"`
	DurationSeconds int    `json:"durationSeconds"`
}

// SlotDayJSON is one slot's tally for one date.
type SlotDayJSON struct {
	Count int      `json:"count"`
	Times []string `json:"times"`
}

// MetricsJSON is the adherence summary.
type MetricsJSON struct {
	PDC                 int     `json:"pdc"`
	MaxStreak           int     `json:"maxStreak"`
	MaxGap              int     `json:"maxGap"`
	TimeAccuracyMinutes float64 `json:"timeAccuracyMinutes"`
	TotalDays           int     `json:"totalDays"`
	TotalCount          int     `json:"totalCount"`
	AdherenceRate       int     `json:"adherenceRate"`
}

// WeeklyDayJSON is one day of the trailing-week rollup.
type WeeklyDayJSON struct {
	Date           string `json:"date"`
	Day            string `json:"day"`
	CompletedCount int    `json:"completedCount"`
}

// SlotReportJSON is the per-slot breakdown in the detailed report.
type SlotReportJSON struct {
	SensorID           int     `json:"sensorId"`
	Label              string  `json:"label"`
	TotalCount         int     `json:"totalCount"`
	SuccessRate        int     `json:"successRate"`
	WeekdayPattern     [7]int  `json:"weekdayPattern"`
	HourlyDistribution [24]int `json:"hourlyDistribution"`
	MaxStreak          int     `json:"maxStreak"`
	CurrentStreak      int     `json:"currentStreak"`
}

// NextDoseJSON describes the nearest upcoming dose.
type NextDoseJSON struct {
	SensorID         int    `json:"sensorId"`
	Label            string `json:"label"`
	TargetTime       string `json:"targetTime"`
	MinutesRemaining int    `json:"minutesRemaining"`
}

func formatSlot(snap core.SlotSnapshot) SlotJSON {
	value := 0
	if !snap.RawPresence {
		value = 1
	}
	sj := SlotJSON{
		SensorID:       snap.ID,
		Value:          value,
		Label:          snap.Label,
		Description:    snap.Description,
		TargetTime:     snap.TargetTime,
		DoseTakenToday: snap.DoseTakenToday,
		PendingRemoval: snap.PendingRemoval,
	}
	if !snap.LastTaken.IsZero() {
		sj.LastTaken = snap.LastTaken.Format(time.RFC3339)
	}
	return sj
}

func formatEvent(ev logic.DoseEvent) EventJSON {
	return EventJSON{
		SensorID:        ev.SlotID,
		Label:           ev.Label,
		TakenAt:         ev.TakenAt.Format(time.RFC3339),
		ReturnedAt:      ev.ReturnedAt.Format(time.RFC3339),
		DurationSeconds: ev.DurationSeconds,
	}
}

func formatDaily(idx stats.Index) map[string]map[int]SlotDayJSON {
	out := make(map[string]map[int]SlotDayJSON, len(idx))
	for date, day := range idx {
		dj := make(map[int]SlotDayJSON, len(day))
		for id, sd := range day {
			times := make([]string, 0, len(sd.Times))
			for _, t := range sd.Times {
				times = append(times, t.Format(time.RFC3339))
			}
			dj[id] = SlotDayJSON{Count: sd.Count, Times: times}
		}
		out[date] = dj
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
