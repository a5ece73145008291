package mqtt

import (
	"context"
	"time"
)

// AlertNotifier adapts a Publisher to the evaluator's notifier contract.
// The publish runs in a goroutine so a slow broker cannot outlive the
// caller's context.
type AlertNotifier struct {
	pub Publisher
}

// NewAlertNotifier wraps the given publisher.
func NewAlertNotifier(pub Publisher) *AlertNotifier {
	return &AlertNotifier{pub: pub}
}

// NotifyOverdue publishes an overdue alert, honoring ctx cancellation.
func (n *AlertNotifier) NotifyOverdue(ctx context.Context, slotID int, label string, minutesLate int) error {
	a := Alert{
		Timestamp:   time.Now(),
		SlotID:      slotID,
		Label:       label,
		MinutesLate: minutesLate,
	}

	done := make(chan error, 1)
	go func() { done <- n.pub.PublishAlert(a) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
