package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/pillbox-sensor/internal/core"
	"github.com/sweeney/pillbox-sensor/internal/gpio"
	"github.com/sweeney/pillbox-sensor/internal/mqtt"
)

func newTestCore(t *testing.T) *core.Core {
	t.Helper()
	c, err := core.New([]core.SlotConfig{
		{ID: 1, Label: "Morning", TargetTime: "08:00", Pin: 26},
		{ID: 2, Label: "Lunch", TargetTime: "13:00", Pin: 16},
	}, core.Options{}, time.Date(2024, 1, 15, 7, 0, 0, 0, time.Local))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// tickClock advances two seconds per poll so every raw transition survives
// the flicker threshold.
func tickClock() (func() time.Time, func() time.Duration) {
	base := time.Date(2024, 1, 15, 8, 0, 0, 0, time.Local)
	var wallN, monoN int
	now := func() time.Time {
		wallN++
		return base.Add(time.Duration(wallN) * 2 * time.Second)
	}
	mono := func() time.Duration {
		monoN++
		return time.Duration(monoN) * 2 * time.Second
	}
	return now, mono
}

func TestPollLoopConfirmsAndPublishesDose(t *testing.T) {
	c := newTestCore(t)
	pub := mqtt.NewFakePublisher()
	reader := gpio.NewFakeReader([][]bool{
		{true, true},  // baseline
		{false, true}, // slot 1 lifted
		{true, true},  // slot 1 returned after 2s
	})
	now, mono := tickClock()

	pollTick := make(chan time.Time)
	sig := make(chan os.Signal)
	lp := &loop{
		core:      c,
		gpio:      reader,
		publisher: pub,
		slotIDs:   []int{1, 2},
		now:       now,
		mono:      mono,
		pollTick:  pollTick,
		sig:       sig,
	}

	done := make(chan error, 1)
	go func() { done <- lp.run(context.Background()) }()

	for i := 0; i < 3; i++ {
		pollTick <- time.Time{}
	}
	sig <- syscall.SIGTERM
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if len(pub.Doses) != 1 {
		t.Fatalf("published doses = %d, want 1", len(pub.Doses))
	}
	ev := pub.Doses[0]
	if ev.SlotID != 1 || ev.Label != "Morning" || ev.DurationSeconds != 2 {
		t.Errorf("dose = %+v", ev)
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("system events = %+v", pub.SystemEvents)
	}
	if pub.SystemEvents[0].Reason != "SIGTERM" {
		t.Errorf("reason = %q", pub.SystemEvents[0].Reason)
	}
}

func TestPollLoopNoGPIO(t *testing.T) {
	c := newTestCore(t)
	pub := mqtt.NewFakePublisher()
	now, mono := tickClock()

	pollTick := make(chan time.Time)
	sig := make(chan os.Signal)
	lp := &loop{
		core:      c,
		publisher: pub,
		slotIDs:   []int{1, 2},
		now:       now,
		mono:      mono,
		pollTick:  pollTick,
		sig:       sig,
	}

	done := make(chan error, 1)
	go func() { done <- lp.run(context.Background()) }()

	pollTick <- time.Time{}
	sig <- syscall.SIGINT
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if len(pub.Doses) != 0 {
		t.Errorf("doses = %d, want 0", len(pub.Doses))
	}
}

func TestRolloverTick(t *testing.T) {
	c := newTestCore(t)
	rollTick := make(chan time.Time)
	sig := make(chan os.Signal)
	lp := &loop{
		core:     c,
		slotIDs:  []int{1, 2},
		now:      func() time.Time { return time.Date(2024, 1, 16, 0, 0, 30, 0, time.Local) },
		mono:     func() time.Duration { return 0 },
		rollTick: rollTick,
		sig:      sig,
	}

	done := make(chan error, 1)
	go func() { done <- lp.run(context.Background()) }()

	rollTick <- time.Time{}
	sig <- syscall.SIGTERM
	<-done

	if c.LastResetDate() != "2024-01-16" {
		t.Errorf("lastResetDate = %q", c.LastResetDate())
	}
}

func TestPinLayout(t *testing.T) {
	ids, pins := pinLayout([]core.SlotConfig{
		{ID: 3, Pin: 20},
		{ID: 1, Pin: 26},
		{ID: 2, Pin: 16},
	})
	wantIDs := []int{1, 2, 3}
	wantPins := []int{26, 16, 20}
	for i := range wantIDs {
		if ids[i] != wantIDs[i] || pins[i] != wantPins[i] {
			t.Fatalf("layout = %v %v", ids, pins)
		}
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGINT); got != "SIGINT" {
		t.Errorf("SIGINT = %q", got)
	}
	if got := signalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("SIGTERM = %q", got)
	}
	if got := signalName(syscall.SIGHUP); got != "UNKNOWN" {
		t.Errorf("SIGHUP = %q", got)
	}
}
