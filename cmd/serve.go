package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rbxmon/rbxmon/internal/core"
	"github.com/rbxmon/rbxmon/internal/discord"
	"github.com/rbxmon/rbxmon/internal/hub"
	"github.com/rbxmon/rbxmon/internal/keyring"
	"github.com/rbxmon/rbxmon/internal/logging"
	"github.com/rbxmon/rbxmon/internal/notify"
	"github.com/rbxmon/rbxmon/internal/store"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control hub",
		Long: `Run the control hub for network-split deployments: remote monitors
push events and poll for commands, authorized by per-user bearer tokens.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runHub())
		},
	}
}

func runHub() int {
	cfg := core.Config

	logWriter, err := logging.Setup(cfg.Verbose, cfg.LogPath(), cfg.Logging.RotateBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return core.ExitConfig
	}
	defer logWriter.Close()

	if cfg.Hub.Listen == "" {
		slog.Error("hub.listen is not configured")
		return core.ExitConfig
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		return core.ExitConfig
	}
	defer st.Close()

	// Events pushed by monitors are forwarded to the operator's DM when
	// a Discord token is available; otherwise they only hit the hub log.
	sink := logSink()
	var outbox *notify.Outbox
	if token := hubToken(); token != "" && cfg.Discord.UserID != "" {
		notifier := discord.NewNotifier(discord.NewRestClient(token), cfg.Discord)
		outbox = notify.NewOutbox(notifier)
		defer outbox.Close()
		sink = forwardSink(outbox)
	} else {
		slog.Warn("No Discord token or operator configured; events will only be logged")
	}

	server := hub.NewServer(cfg.Hub.Listen, st, sink)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Hub shutdown incomplete", "error", err)
		}
		return core.ExitOK
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return core.ExitOK
		}
		slog.Error("Hub server failed", "error", err)
		return 1
	}
}

func hubToken() string {
	token, err := discordToken(keyring.GetSecret)
	if err != nil {
		slog.Debug("Keyring lookup failed", "error", err)
		return ""
	}
	return token
}

func logSink() hub.EventSink {
	return func(user, title, description string) {
		slog.Info("Event received", "user", user, "title", title, "description", description)
	}
}

func forwardSink(outbox *notify.Outbox) hub.EventSink {
	return func(user, title, description string) {
		outbox.Enqueue(notify.Notification{
			Title: fmt.Sprintf("[%s] %s", user, title),
			Body:  description,
		})
	}
}
