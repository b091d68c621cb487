package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rbxmon/rbxmon/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "rbxmon",
		Short: "rbxmon - Roblox session monitor",
		Long:  `rbxmon watches the Roblox client, tails its logs for disconnects and reports sessions over Discord.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguration(configPath)
			if err != nil {
				return err
			}
			cfg.Verbose = verbose
			core.Config = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", filepath.Join(homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewRunCommand(),
		NewWrapperCommand(),
		NewServeCommand(),
		NewTokenCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

// loadConfiguration reads config.hcl under configPath, falling back to
// defaults when the file does not exist yet.
func loadConfiguration(configPath string) (*core.Configuration, error) {
	file := filepath.Join(configPath, core.ConfigFileName)
	if !core.ConfigExists(file) {
		cfg := core.GetDefaultConfig()
		cfg.ConfigPath = configPath
		return cfg, nil
	}

	cfg, err := core.LoadConfig(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", file, err)
	}
	cfg.ConfigPath = configPath
	return cfg, nil
}
