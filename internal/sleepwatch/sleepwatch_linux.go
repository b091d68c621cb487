package sleepwatch

import (
	"context"
	"log/slog"
	"os"

	"github.com/godbus/dbus/v5"
)

// Start listens for logind's PrepareForSleep signal over the system
// bus. Falls back to a no-op when D-Bus is unavailable, as on headless
// machines that never sleep.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		conn, err := dbus.SystemBus()
		if err != nil {
			if os.Getenv("DBUS_SYSTEM_BUS_ADDRESS") == "" {
				slog.Debug("D-Bus unavailable, sleep watcher disabled")
			} else {
				slog.Warn("Failed to connect to D-Bus for sleep watching", "error", err)
			}
			return
		}

		if err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath("/org/freedesktop/login1"),
			dbus.WithMatchInterface("org.freedesktop.login1.Manager"),
			dbus.WithMatchMember("PrepareForSleep"),
		); err != nil {
			slog.Warn("Failed to subscribe to PrepareForSleep", "error", err)
			return
		}

		signals := make(chan *dbus.Signal, 8)
		conn.Signal(signals)
		slog.Info("Sleep watcher started (D-Bus logind)")

		for {
			select {
			case <-ctx.Done():
				conn.RemoveSignal(signals)
				return
			case sig := <-signals:
				if sig == nil {
					return
				}
				if sig.Name != "org.freedesktop.login1.Manager.PrepareForSleep" {
					continue
				}
				if len(sig.Body) < 1 {
					continue
				}
				entering, ok := sig.Body[0].(bool)
				if !ok {
					continue
				}
				if entering {
					w.markSleep()
				} else {
					w.markWake()
				}
			}
		}
	}()
}
