package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rbxmon/rbxmon/internal/core"
	"github.com/rbxmon/rbxmon/internal/discord"
	"github.com/rbxmon/rbxmon/internal/keyring"
	"github.com/rbxmon/rbxmon/internal/logging"
	"github.com/rbxmon/rbxmon/internal/logtail"
	"github.com/rbxmon/rbxmon/internal/monitor"
	"github.com/rbxmon/rbxmon/internal/notify"
	"github.com/rbxmon/rbxmon/internal/procwatch"
	"github.com/rbxmon/rbxmon/internal/sleepwatch"
	"github.com/rbxmon/rbxmon/internal/store"
)

// instanceMarker is what the single-instance guard greps for in other
// processes' command lines.
const instanceMarker = "rbxmon run"

func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the session monitor",
		Long:  `Run the monitor loop: watch the client process, tail its log and notify over Discord.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runMonitor())
		},
	}
}

// runMonitor wires everything together and returns the process exit
// code per the wrapper protocol.
func runMonitor() int {
	cfg := core.Config

	logWriter, err := logging.Setup(cfg.Verbose, cfg.LogPath(), cfg.Logging.RotateBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return core.ExitConfig
	}
	defer logWriter.Close()

	if removed, err := logging.CleanupOldLogs(cfg.LogPath(), cfg.Logging.RetentionDays); err != nil {
		slog.Warn("Run log cleanup failed", "error", err)
	} else if removed > 0 {
		slog.Info("Removed old run logs", "count", removed)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return core.ExitConfig
	}

	if procwatch.AnotherInstanceRunning(instanceMarker) {
		slog.Error("Another rbxmon instance is already running against this client")
		return core.ExitConfig
	}

	token, err := discordToken(keyring.GetSecret)
	if err != nil {
		slog.Error("Failed to read token from keyring", "error", err)
		return core.ExitConfig
	}
	if token == "" {
		slog.Error("No Discord token configured",
			"hint", "set "+core.TokenEnvVar+" or run `rbxmon token set`")
		return core.ExitConfig
	}

	tailer, err := logtail.New(cfg.Monitor.LogDir)
	if err != nil {
		slog.Error("Client log directory unusable", "dir", cfg.Monitor.LogDir, "error", err)
		return core.ExitConfig
	}

	journal, err := store.Open(cfg.DatabasePath())
	if err != nil {
		slog.Error("Failed to open event journal", "error", err)
		return core.ExitConfig
	}
	defer journal.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rest := discord.NewRestClient(token)
	if user, err := rest.FetchUser(ctx, cfg.Discord.UserID); err != nil {
		slog.Error("Failed to resolve the configured operator", "user_id", cfg.Discord.UserID, "error", err)
		return core.ExitConfig
	} else {
		slog.Info("Notifying operator", "username", user.Username)
	}

	notifier := discord.NewNotifier(rest, cfg.Discord)
	outbox := notify.NewOutbox(notifier)
	defer outbox.Close()

	watcher := procwatch.New(cfg.Monitor.ProcessNames)
	monitor.SetOSUptimeFunc(procwatch.OSUptime)
	mon := monitor.New(cfg, watcher, tailer, outbox, journal)

	sleep := sleepwatch.New(nil, nil)
	sleep.Start(ctx)

	gateway := discord.NewGateway(token, rest)
	gateway.OnDown = func() {
		// A suspend looks exactly like a transport drop; don't let it
		// trigger the disconnect bookkeeping.
		if sleep.IsSuppressed() {
			slog.Debug("Ignoring transport drop during sleep window")
			return
		}
		mon.TransportDown()
	}
	gateway.OnUp = mon.TransportUp
	gateway.OnMessage = func(authorID, channelID, content string) {
		if authorID != cfg.Discord.UserID {
			return
		}
		cmd, ok := monitor.ParseCommand(content)
		if !ok {
			return
		}
		mon.Dispatch(cmd, "discord:"+authorID, func(text string) {
			replyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := notifier.Reply(replyCtx, text); err != nil {
				slog.Warn("Failed to deliver command reply", "error", err)
			}
		})
	}

	go func() {
		if err := gateway.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Gateway loop ended", "error", err)
		}
	}()

	slog.Info("rbxmon monitor started",
		"version", core.FormatVersion(core.Version),
		"log_dir", cfg.Monitor.LogDir,
		"processes", cfg.Monitor.ProcessNames)

	return mon.Run(ctx)
}

// discordToken resolves the bot token. The environment variable wins
// over the keyring so scripted runs can bypass the OS secret store.
func discordToken(fromKeyring func(key string) (string, error)) (string, error) {
	if token := os.Getenv(core.TokenEnvVar); token != "" {
		return token, nil
	}
	return fromKeyring(keyring.DiscordTokenKey)
}
