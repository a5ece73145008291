package mqtt

import (
	"github.com/sweeney/pillbox-sensor/internal/logic"
)

// FakePublisher is a test double that records published events.
type FakePublisher struct {
	// Doses records all dose events passed to PublishDose.
	Doses []logic.DoseEvent

	// Alerts records all alerts passed to PublishAlert.
	Alerts []Alert

	// SystemEvents records all events passed to PublishSystem.
	SystemEvents []SystemEvent

	// Payloads records the serialized JSON of every published message, in order.
	Payloads [][]byte

	// DoseError, if set, is returned by PublishDose.
	DoseError error

	// AlertError, if set, is returned by PublishAlert.
	AlertError error

	// SystemError, if set, is returned by PublishSystem.
	SystemError error

	// Connected is reported by IsConnected. Defaults to true via NewFakePublisher.
	Connected bool

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a connected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

// PublishDose records the dose event.
func (f *FakePublisher) PublishDose(ev logic.DoseEvent) error {
	if f.DoseError != nil {
		return f.DoseError
	}
	f.Doses = append(f.Doses, ev)
	payload, err := FormatDosePayload(ev)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishAlert records the alert.
func (f *FakePublisher) PublishAlert(a Alert) error {
	if f.AlertError != nil {
		return f.AlertError
	}
	f.Alerts = append(f.Alerts, a)
	payload, err := FormatAlertPayload(a)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.SystemError != nil {
		return f.SystemError
	}
	f.SystemEvents = append(f.SystemEvents, event)
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// IsConnected reports the configured connection state.
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// Reset clears all recorded events and errors.
func (f *FakePublisher) Reset() {
	f.Doses = nil
	f.Alerts = nil
	f.SystemEvents = nil
	f.Payloads = nil
	f.DoseError = nil
	f.AlertError = nil
	f.SystemError = nil
	f.Connected = true
	f.Closed = false
}
