// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/pillbox-sensor/internal/logic"
)

// Topic is the MQTT topic for confirmed dose events.
const Topic = "health/pillbox/events"

// TopicAlerts is the MQTT topic for overdue-dose alerts.
const TopicAlerts = "health/pillbox/alerts"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "health/pillbox/system"

// Publisher publishes dispenser events to MQTT.
type Publisher interface {
	// PublishDose sends a confirmed dose event to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishDose(ev logic.DoseEvent) error

	// PublishAlert sends an overdue-dose alert to the broker. Unlike dose
	// events, alerts are never buffered: a failure must surface so the
	// evaluator can retry on its next tick.
	PublishAlert(a Alert) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Alert is an overdue-dose notification.
type Alert struct {
	Timestamp   time.Time
	SlotID      int
	Label       string
	MinutesLate int
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// DosePayload is the MQTT message payload for a confirmed dose.
type DosePayload struct {
	Dose DoseInner `json:"dose"`
}

// DoseInner contains the dose event details.
type DoseInner struct {
	SensorID        int    `json:"sensorId"`
	Label           string `json:"label"`
	TakenAt         string `json:"takenAt"`
	ReturnedAt      string `json:"returnedAt"`
	DurationSeconds int    `json:"durationSeconds"`
}

// FormatDosePayload creates the JSON payload for a dose event.
func FormatDosePayload(ev logic.DoseEvent) ([]byte, error) {
	payload := DosePayload{
		Dose: DoseInner{
			SensorID:        ev.SlotID,
			Label:           ev.Label,
			TakenAt:         ev.TakenAt.UTC().Format(time.RFC3339),
			ReturnedAt:      ev.ReturnedAt.UTC().Format(time.RFC3339),
			DurationSeconds: ev.DurationSeconds,
		},
	}
	return json.Marshal(payload)
}

// AlertPayload is the MQTT message payload for an overdue alert.
type AlertPayload struct {
	Alert AlertInner `json:"alert"`
}

// AlertInner contains the alert details.
type AlertInner struct {
	Timestamp   string `json:"timestamp"`
	SensorID    int    `json:"sensorId"`
	Label       string `json:"label"`
	MinutesLate int    `json:"minutesLate"`
}

// FormatAlertPayload creates the JSON payload for an overdue alert.
func FormatAlertPayload(a Alert) ([]byte, error) {
	payload := AlertPayload{
		Alert: AlertInner{
			Timestamp:   a.Timestamp.UTC().Format(time.RFC3339),
			SensorID:    a.SlotID,
			Label:       a.Label,
			MinutesLate: a.MinutesLate,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
