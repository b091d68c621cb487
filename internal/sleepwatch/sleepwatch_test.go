package sleepwatch

import (
	"testing"
	"time"
)

func TestSuppressionLifecycle(t *testing.T) {
	var slept, woke int
	w := New(func() { slept++ }, func() { woke++ })
	w.graceTime = 50 * time.Millisecond

	if w.IsSuppressed() {
		t.Fatal("fresh watcher must not suppress")
	}

	w.markSleep()
	if !w.IsSleeping() || !w.IsSuppressed() {
		t.Fatal("expected suppression while sleeping")
	}
	if slept != 1 {
		t.Errorf("onSleep fired %d times", slept)
	}

	w.markWake()
	if w.IsSleeping() {
		t.Fatal("expected awake after wake")
	}
	if !w.IsSuppressed() {
		t.Fatal("grace period after wake must still suppress")
	}
	if woke != 1 {
		t.Errorf("onWake fired %d times", woke)
	}

	time.Sleep(60 * time.Millisecond)
	if w.IsSuppressed() {
		t.Error("suppression must end after the grace period")
	}
}

func TestWakeWithoutSleepIgnored(t *testing.T) {
	woke := 0
	w := New(nil, func() { woke++ })

	w.markWake()
	if woke != 0 {
		t.Error("wake without a preceding sleep must not fire the callback")
	}
	if w.IsSuppressed() {
		t.Error("spurious wake must not start a grace period")
	}
}
