package core

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	BaseDirName    = ".config/rbxmon"
	ConfigFileName = "config.hcl"
	LogDirName     = "logs"
	DatabaseName   = "rbxmon.db"

	// TokenEnvVar overrides the keyring-stored bot token when set.
	TokenEnvVar = "RBXMON_DISCORD_TOKEN"
)

// Monitor process exit codes, consumed by the wrapper.
const (
	ExitOK      = 0 // clean shutdown, wrapper stops
	ExitConfig  = 1 // configuration error, wrapper stops
	ExitRestart = 2 // restart requested, wrapper restarts immediately
)

// Config is the global configuration instance.
var Config *Configuration

// DiscordConfig holds the chat transport settings.
type DiscordConfig struct {
	UserID     string // Discord user ID of the operator receiving notifications
	FooterText string
	FooterIcon string
	PingUser   bool // prefix messages with an @mention
}

// MonitorConfig holds session detection settings.
type MonitorConfig struct {
	ProcessNames          []string      // executable names, matched case-insensitively as substrings
	LogDir                string        // directory the game client writes its logs to
	DisconnectKeywords    []string      // substrings classifying a log line as a disconnect
	ClosedKeywords        []string      // substrings classifying a log line as a clean close
	AutoKillOnDisconnect  bool          // kill the client after a detected disconnect
	AttachExistingLog     bool          // attach to a pre-existing log file instead of waiting for a new one
	HeartbeatInterval     time.Duration // interval between heartbeat notifications (0 disables)
	CorrelationWindow     time.Duration // max gap between transport and client disconnects to report as one
	DisconnectDebounce    time.Duration // repeat transport disconnect signals within this window are ignored
}

// LoggingConfig holds run-log settings.
type LoggingConfig struct {
	RetentionDays int   // delete run logs older than this many days; 0 keeps everything
	RotateBytes   int64 // rotate the current run log once it exceeds this size
}

// WrapperConfig holds supervisor settings.
type WrapperConfig struct {
	MaxRestarts  int
	RestartDelay time.Duration // base delay for the backoff formula
	GracePeriod  time.Duration // wait after SIGTERM before force-killing the child
}

// HubConfig holds the HTTP control surface settings.
type HubConfig struct {
	Listen string // host:port; empty disables the hub endpoints in `rbxmon serve`
}

// Configuration is the complete rbxmon configuration.
type Configuration struct {
	ConfigPath string // directory containing config, logs and the database
	Verbose    int

	Discord DiscordConfig
	Monitor MonitorConfig
	Logging LoggingConfig
	Wrapper WrapperConfig
	Hub     HubConfig
}

// LogPath returns the directory that run logs are written to.
func (c *Configuration) LogPath() string {
	return filepath.Join(c.ConfigPath, LogDirName)
}

// DatabasePath returns the path of the sqlite event journal.
func (c *Configuration) DatabasePath() string {
	return filepath.Join(c.ConfigPath, DatabaseName)
}

// Validate reports the first fatal configuration problem, if any.
// Transport credentials are checked separately at startup because the
// token may come from the environment or the keyring.
func (c *Configuration) Validate() error {
	if c.Discord.UserID == "" {
		return fmt.Errorf("discord.user_id is required")
	}
	if len(c.Monitor.ProcessNames) == 0 {
		return fmt.Errorf("monitor.process_names must not be empty")
	}
	if c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days must be >= 0, got %d", c.Logging.RetentionDays)
	}
	if c.Monitor.CorrelationWindow <= 0 {
		return fmt.Errorf("monitor.correlation_window must be positive")
	}
	return nil
}

// HCL decode structs. Raw values are converted into the clean
// Configuration with defaults applied for anything left unset.

type hclConfig struct {
	Verbose int         `hcl:"verbose,optional"`
	Discord *hclDiscord `hcl:"discord,block"`
	Monitor *hclMonitor `hcl:"monitor,block"`
	Logging *hclLogging `hcl:"logging,block"`
	Wrapper *hclWrapper `hcl:"wrapper,block"`
	Hub     *hclHub     `hcl:"hub,block"`
}

type hclDiscord struct {
	UserID     string `hcl:"user_id"`
	FooterText string `hcl:"footer_text,optional"`
	FooterIcon string `hcl:"footer_icon,optional"`
	PingUser   *bool  `hcl:"ping_user,optional"`
}

type hclMonitor struct {
	ProcessNames         []string `hcl:"process_names,optional"`
	LogDir               string   `hcl:"log_dir,optional"`
	DisconnectKeywords   []string `hcl:"disconnect_keywords,optional"`
	ClosedKeywords       []string `hcl:"closed_keywords,optional"`
	AutoKillOnDisconnect *bool    `hcl:"auto_kill_on_disconnect,optional"`
	AttachExistingLog    *bool    `hcl:"attach_existing_log,optional"`
	HeartbeatHours       int      `hcl:"heartbeat_interval_hours,optional"`
	CorrelationWindow    string   `hcl:"correlation_window,optional"`
}

type hclLogging struct {
	RetentionDays *int  `hcl:"retention_days,optional"`
	RotateBytes   int64 `hcl:"rotate_bytes,optional"`
}

type hclWrapper struct {
	MaxRestarts  *int   `hcl:"max_restarts,optional"`
	RestartDelay string `hcl:"restart_delay,optional"`
	GracePeriod  string `hcl:"grace_period,optional"`
}

type hclHub struct {
	Listen string `hcl:"listen,optional"`
}

// DefaultLogDir returns the per-OS directory the game client writes
// logs to. The Linux default assumes the Sober flatpak.
func DefaultLogDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "Roblox", "logs")
	case "darwin":
		return filepath.Join(home, "Library", "Logs", "Roblox")
	default:
		return filepath.Join(home, ".var", "app", "org.vinegarhq.Sober", "data", "sober", "sober_logs")
	}
}

// GetDefaultConfig returns a Configuration with every default applied.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Discord: DiscordConfig{
			FooterText: "Roblox Monitor",
			PingUser:   true,
		},
		Monitor: MonitorConfig{
			ProcessNames: []string{"robloxplayerbeta", "roblox", "sober"},
			LogDir:       DefaultLogDir(),
			DisconnectKeywords: []string{
				"Lost connection with reason",
				"Client has been disconnected with reason",
				"Disconnection Notification.",
			},
			ClosedKeywords:       []string{"stop() called"},
			AutoKillOnDisconnect: true,
			AttachExistingLog:    true,
			HeartbeatInterval:    3 * time.Hour,
			CorrelationWindow:    time.Hour,
			DisconnectDebounce:   10 * time.Second,
		},
		Logging: LoggingConfig{
			RetentionDays: 7,
			RotateBytes:   5 * 1024 * 1024,
		},
		Wrapper: WrapperConfig{
			MaxRestarts:  50,
			RestartDelay: 10 * time.Second,
			GracePeriod:  5 * time.Second,
		},
	}
}

// LoadConfig parses the HCL configuration file and returns a
// Configuration with defaults applied for unset values.
func LoadConfig(filename string) (*Configuration, error) {
	var raw hclConfig
	if err := hclsimple.DecodeFile(filename, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.Verbose = raw.Verbose

	if raw.Discord != nil {
		cfg.Discord.UserID = raw.Discord.UserID
		if raw.Discord.FooterText != "" {
			cfg.Discord.FooterText = raw.Discord.FooterText
		}
		cfg.Discord.FooterIcon = raw.Discord.FooterIcon
		if raw.Discord.PingUser != nil {
			cfg.Discord.PingUser = *raw.Discord.PingUser
		}
	}

	if raw.Monitor != nil {
		if len(raw.Monitor.ProcessNames) > 0 {
			cfg.Monitor.ProcessNames = raw.Monitor.ProcessNames
		}
		if raw.Monitor.LogDir != "" {
			cfg.Monitor.LogDir = expandHome(raw.Monitor.LogDir)
		}
		if len(raw.Monitor.DisconnectKeywords) > 0 {
			cfg.Monitor.DisconnectKeywords = raw.Monitor.DisconnectKeywords
		}
		if len(raw.Monitor.ClosedKeywords) > 0 {
			cfg.Monitor.ClosedKeywords = raw.Monitor.ClosedKeywords
		}
		if raw.Monitor.AutoKillOnDisconnect != nil {
			cfg.Monitor.AutoKillOnDisconnect = *raw.Monitor.AutoKillOnDisconnect
		}
		if raw.Monitor.AttachExistingLog != nil {
			cfg.Monitor.AttachExistingLog = *raw.Monitor.AttachExistingLog
		}
		if raw.Monitor.HeartbeatHours > 0 {
			cfg.Monitor.HeartbeatInterval = time.Duration(raw.Monitor.HeartbeatHours) * time.Hour
		}
		if raw.Monitor.CorrelationWindow != "" {
			d, err := time.ParseDuration(raw.Monitor.CorrelationWindow)
			if err != nil {
				return nil, fmt.Errorf("invalid monitor.correlation_window: %w", err)
			}
			cfg.Monitor.CorrelationWindow = d
		}
	}

	if raw.Logging != nil {
		if raw.Logging.RetentionDays != nil {
			cfg.Logging.RetentionDays = *raw.Logging.RetentionDays
		}
		if raw.Logging.RotateBytes > 0 {
			cfg.Logging.RotateBytes = raw.Logging.RotateBytes
		}
	}

	if raw.Wrapper != nil {
		if raw.Wrapper.MaxRestarts != nil {
			cfg.Wrapper.MaxRestarts = *raw.Wrapper.MaxRestarts
		}
		if raw.Wrapper.RestartDelay != "" {
			d, err := time.ParseDuration(raw.Wrapper.RestartDelay)
			if err != nil {
				return nil, fmt.Errorf("invalid wrapper.restart_delay: %w", err)
			}
			cfg.Wrapper.RestartDelay = d
		}
		if raw.Wrapper.GracePeriod != "" {
			d, err := time.ParseDuration(raw.Wrapper.GracePeriod)
			if err != nil {
				return nil, fmt.Errorf("invalid wrapper.grace_period: %w", err)
			}
			cfg.Wrapper.GracePeriod = d
		}
	}

	if raw.Hub != nil {
		cfg.Hub.Listen = raw.Hub.Listen
	}

	return cfg, nil
}

// ConfigExists checks whether a config file exists at the given path.
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}

func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
