// Package sleepwatch detects system suspend/resume so the monitor can
// tell a laptop going to sleep apart from a genuine disconnect. While
// suppressed, transport-down signals are ignored; a grace period after
// wake absorbs the reconnect churn.
package sleepwatch

import (
	"log/slog"
	"sync"
	"time"
)

const defaultGrace = 10 * time.Second

// Watcher tracks the host's sleep state.
type Watcher struct {
	mu        sync.RWMutex
	sleeping  bool
	wakeTime  time.Time
	graceTime time.Duration

	onSleep func()
	onWake  func()
}

// New creates a Watcher. onSleep and onWake may be nil; they fire on
// the respective transitions.
func New(onSleep, onWake func()) *Watcher {
	return &Watcher{
		graceTime: defaultGrace,
		onSleep:   onSleep,
		onWake:    onWake,
	}
}

// IsSuppressed reports whether disconnect signals should currently be
// ignored: during sleep and for a grace period after wake.
func (w *Watcher) IsSuppressed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.sleeping {
		return true
	}
	if !w.wakeTime.IsZero() && time.Since(w.wakeTime) < w.graceTime {
		return true
	}
	return false
}

// IsSleeping reports whether the host is currently marked asleep.
func (w *Watcher) IsSleeping() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sleeping
}

func (w *Watcher) markSleep() {
	w.mu.Lock()
	w.sleeping = true
	w.mu.Unlock()

	slog.Info("System entering sleep, suppressing disconnect handling")
	if w.onSleep != nil {
		w.onSleep()
	}
}

func (w *Watcher) markWake() {
	w.mu.Lock()
	if !w.sleeping {
		w.mu.Unlock()
		return
	}
	w.sleeping = false
	w.wakeTime = time.Now()
	w.mu.Unlock()

	slog.Info("System waking up")
	if w.onWake != nil {
		w.onWake()
	}
}
