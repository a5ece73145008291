package alert

import "context"

// FakeNotifier records alert deliveries for test assertions.
type FakeNotifier struct {
	// Calls contains one entry per NotifyOverdue invocation.
	Calls []FakeCall

	// Err, if set, is returned by NotifyOverdue.
	Err error
}

// FakeCall captures the arguments of one delivery attempt.
type FakeCall struct {
	SlotID      int
	Label       string
	MinutesLate int
}

// NewFakeNotifier creates a FakeNotifier for testing.
func NewFakeNotifier() *FakeNotifier {
	return &FakeNotifier{}
}

// NotifyOverdue records the call and returns the configured error.
func (f *FakeNotifier) NotifyOverdue(_ context.Context, slotID int, label string, minutesLate int) error {
	f.Calls = append(f.Calls, FakeCall{SlotID: slotID, Label: label, MinutesLate: minutesLate})
	return f.Err
}

// Reset clears recorded calls.
func (f *FakeNotifier) Reset() {
	f.Calls = nil
	f.Err = nil
}
