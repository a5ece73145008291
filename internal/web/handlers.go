package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/pillbox-sensor/internal/alert"
	"github.com/sweeney/pillbox-sensor/internal/core"
)

func logPublishError(slotID int, err error) {
	log.WithField("slot", slotID).WithError(err).Warn("dose publish failed")
}

func logChartError(err error) {
	log.WithError(err).Warn("chart render failed")
}

type valueRequest struct {
	SensorID int  `json:"sensorId"`
	Value    *int `json:"value"`
}

// handlePostValue ingests one raw firmware sample. Value 1 means the
// container is out, 0 means present; anything else is rejected before it can
// touch slot state.
func (s *Server) handlePostValue(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Value == nil || (*req.Value != 0 && *req.Value != 1) {
		writeError(w, http.StatusBadRequest, core.ErrInvalidSample.Error())
		return
	}

	present := *req.Value == 0
	snap, ev, err := s.core.ReportPresence(req.SensorID, present, s.now(), s.mono())
	if err != nil {
		if errors.Is(err, core.ErrInvalidSlot) {
			writeError(w, http.StatusNotFound, "unknown sensorId")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if ev != nil {
		log.WithFields(log.Fields{"slot": ev.SlotID, "label": ev.Label, "duration_s": ev.DurationSeconds}).
			Info("dose confirmed")
		s.publishDose(*ev)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"sensor":       formatSlot(snap),
		"doseDetected": ev != nil,
	})
}

func (s *Server) handleGetValues(w http.ResponseWriter, r *http.Request) {
	snaps := s.core.Slots()
	out := make([]SlotJSON, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, formatSlot(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensors": out})
}

func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "sensor id must be an integer")
		return
	}
	snap, err := s.core.Slot(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown sensorId")
		return
	}
	writeJSON(w, http.StatusOK, formatSlot(snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events := s.core.History(limit)
	out := make([]EventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, formatEvent(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  s.core.HistoryLen(),
		"events": out,
	})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	if err := s.core.DeleteHistoryEntry(index); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	writeJSON(w, http.StatusOK, formatDaily(s.core.DailyStats(from, to)))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.core.Metrics()
	writeJSON(w, http.StatusOK, MetricsJSON{
		PDC:                 m.PDC,
		MaxStreak:           m.MaxStreak,
		MaxGap:              m.MaxGap,
		TimeAccuracyMinutes: m.TimeAccuracyMinutes,
		TotalDays:           m.TotalDays,
		TotalCount:          m.TotalCount,
		AdherenceRate:       s.core.AdherenceRate(),
	})
}

func (s *Server) handleWeekly(w http.ResponseWriter, r *http.Request) {
	week := s.core.WeeklyRollup(s.now())
	out := make([]WeeklyDayJSON, 0, len(week))
	for _, d := range week {
		out = append(out, WeeklyDayJSON{Date: d.Date, Day: d.Day, CompletedCount: d.CompletedCount})
	}
	writeJSON(w, http.StatusOK, map[string]any{"week": out})
}

func (s *Server) handleDetailedReport(w http.ResponseWriter, r *http.Request) {
	snaps := s.core.Slots()
	reports := s.core.PerSlotReports()

	out := make([]SlotReportJSON, 0, len(snaps))
	for _, snap := range snaps {
		rep := reports[snap.ID]
		if rep == nil {
			continue
		}
		out = append(out, SlotReportJSON{
			SensorID:           snap.ID,
			Label:              snap.Label,
			TotalCount:         rep.TotalCount,
			SuccessRate:        rep.SuccessRate,
			WeekdayPattern:     rep.WeekdayPattern,
			HourlyDistribution: rep.HourlyDistribution,
			MaxStreak:          rep.MaxStreak,
			CurrentStreak:      rep.CurrentStreak,
		})
	}
	// Best-performing slot first; equal rates keep id order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].SuccessRate > out[j].SuccessRate })
	writeJSON(w, http.StatusOK, map[string]any{"slots": out})
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	snaps := s.core.Slots()

	var taken int
	for _, snap := range snaps {
		if snap.DoseTakenToday {
			taken++
		}
	}

	week := s.core.WeeklyRollup(now)
	weekJSON := make([]WeeklyDayJSON, 0, len(week))
	for _, d := range week {
		weekJSON = append(weekJSON, WeeklyDayJSON{Date: d.Date, Day: d.Day, CompletedCount: d.CompletedCount})
	}

	resp := map[string]any{
		"today": map[string]int{
			"taken":    taken,
			"expected": len(snaps),
		},
		"adherenceRate": s.core.AdherenceRate(),
		"notices":       len(alert.Notices(snaps, now)),
		"week":          weekJSON,
	}
	if last := s.core.History(1); len(last) == 1 {
		resp["lastEvent"] = formatEvent(last[0])
	} else {
		resp["lastEvent"] = nil
	}
	if next := s.core.Next(now); next != nil {
		resp["nextDose"] = NextDoseJSON{
			SensorID:         next.Slot.ID,
			Label:            next.Slot.Label,
			TargetTime:       next.Slot.TargetTime,
			MinutesRemaining: next.MinutesRemaining,
		}
	} else {
		resp["nextDose"] = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMedications(w http.ResponseWriter, r *http.Request) {
	snaps := s.core.Slots()
	out := make([]SlotJSON, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, formatSlot(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{"medications": out})
}

type medicationRequest struct {
	SensorID    int    `json:"sensorId"`
	Label       string `json:"label"`
	Description string `json:"description"`
	TargetTime  string `json:"targetTime"`
}

func (s *Server) handleUpdateMedication(w http.ResponseWriter, r *http.Request) {
	var req medicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	snap, err := s.core.UpdateSlot(req.SensorID, req.Label, req.Description, req.TargetTime)
	if err != nil {
		if errors.Is(err, core.ErrInvalidSlot) {
			writeError(w, http.StatusNotFound, "unknown sensorId")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, formatSlot(snap))
}

func (s *Server) handleNotificationsCheck(w http.ResponseWriter, r *http.Request) {
	notices := alert.Notices(s.core.Slots(), s.now())
	if notices == nil {
		notices = []alert.Notice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notices})
}

type resetRequest struct {
	SensorID *int `json:"sensorId"`
}

// handleAdminReset resets one slot when a sensorId is given, or the whole
// dispenser state (history, daily stats, every slot) when the body is empty.
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	// An empty body means a full reset; anything present must parse.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.SensorID != nil {
		if err := s.core.ResetSlot(*req.SensorID); err != nil {
			writeError(w, http.StatusNotFound, "unknown sensorId")
			return
		}
		log.WithField("slot", *req.SensorID).Info("slot reset")
		writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "sensorId": *req.SensorID})
		return
	}

	s.core.ResetAll()
	log.Info("full state reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	mqttConnected := false
	if s.mqttStatus != nil {
		mqttConnected = s.mqttStatus.IsConnected()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{
			"startTime":     s.core.StartTime().UTC().Format(time.RFC3339),
			"uptimeSeconds": int64(now.Sub(s.core.StartTime()).Truncate(time.Second).Seconds()),
			"timestamp":     now.UTC().Format(time.RFC3339),
			"historyCount":  s.core.HistoryLen(),
			"lastResetDate": s.core.LastResetDate(),
			"mqtt": map[string]any{
				"connected": mqttConnected,
				"broker":    s.info.Broker,
			},
			"config": map[string]any{
				"poll_ms":    s.info.PollMs,
				"flicker_ms": s.info.FlickerMs,
				"http_addr":  s.info.HTTPAddr,
			},
		},
	})
}
