// Package procwatch polls the OS process table for the monitored game
// client: liveness checks, session start estimation and kill.
package procwatch

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
)

// cacheTTL bounds how often the process table is scanned. Callers
// tolerate up to this much staleness.
const cacheTTL = time.Second

// Watcher answers "is the client running" against an allow-list of
// executable names, matched case-insensitively as substrings.
type Watcher struct {
	names []string

	mu          sync.Mutex
	lastCheck   time.Time
	lastRunning bool
}

func New(processNames []string) *Watcher {
	lowered := make([]string, len(processNames))
	for i, n := range processNames {
		lowered[i] = strings.ToLower(n)
	}
	return &Watcher{names: lowered}
}

func (w *Watcher) matches(name string) bool {
	name = strings.ToLower(name)
	if name == "" {
		return false
	}
	for _, want := range w.names {
		if strings.Contains(name, want) {
			return true
		}
	}
	return false
}

// Running reports whether any matching process exists. The result is
// cached for up to one second to bound polling cost.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastCheck) < cacheTTL {
		return w.lastRunning
	}
	w.lastCheck = time.Now()
	w.lastRunning = w.scan()
	return w.lastRunning
}

func (w *Watcher) scan() bool {
	procs, err := process.Processes()
	if err != nil {
		slog.Warn("Process table scan failed", "error", err)
		return false
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		if w.matches(name) {
			return true
		}
	}
	return false
}

// SessionStartEstimate returns a best-effort session start derived from
// the earliest matching process's OS-reported creation time. The result
// carries Go's monotonic clock reading (it is computed by subtracting
// the wall-clock age from time.Now()), so elapsed times computed from
// it survive system clock adjustments. Returns zero time when no
// matching process reports a creation time.
func (w *Watcher) SessionStartEstimate() time.Time {
	procs, err := process.Processes()
	if err != nil {
		return time.Time{}
	}

	var earliest int64 // unix milliseconds
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !w.matches(name) {
			continue
		}
		created, err := p.CreateTime()
		if err != nil || created == 0 {
			continue
		}
		if earliest == 0 || created < earliest {
			earliest = created
		}
	}
	if earliest == 0 {
		return time.Time{}
	}

	age := time.Since(time.UnixMilli(earliest))
	if age < 0 {
		age = 0
	}
	return time.Now().Add(-age)
}

// KillAll terminates every matching process, ignoring per-process
// failures, and returns the number of successful kills.
func (w *Watcher) KillAll() int {
	procs, err := process.Processes()
	if err != nil {
		slog.Warn("Process table scan failed during kill", "error", err)
		return 0
	}

	killed := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !w.matches(name) {
			continue
		}
		if err := p.Kill(); err != nil {
			slog.Debug("Failed to kill process", "pid", p.Pid, "name", name, "error", err)
			continue
		}
		killed++
	}

	// The liveness cache is now stale by construction.
	w.mu.Lock()
	w.lastCheck = time.Time{}
	w.mu.Unlock()

	return killed
}

// OSUptime returns how long the host has been up, best effort.
func OSUptime() time.Duration {
	secs, err := host.Uptime()
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}
