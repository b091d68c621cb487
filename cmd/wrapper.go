package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rbxmon/rbxmon/internal/core"
	"github.com/rbxmon/rbxmon/internal/logging"
	"github.com/rbxmon/rbxmon/internal/wrapper"
)

func NewWrapperCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "wrapper",
		Short: "Run the monitor under the restarting supervisor",
		Long: `Run "rbxmon run" as a supervised child: crashes restart with backoff,
exit code 2 restarts immediately, exit codes 0 and 1 stop the wrapper.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runWrapper(cmd))
		},
	}
}

func runWrapper(cmd *cobra.Command) int {
	cfg := core.Config

	logWriter, err := logging.Setup(cfg.Verbose, cfg.LogPath(), cfg.Logging.RotateBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return core.ExitConfig
	}
	defer logWriter.Close()

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate own executable: %v\n", err)
		return core.ExitConfig
	}

	argv := []string{self, "run"}
	if path, _ := cmd.Flags().GetString("config-path"); path != "" {
		argv = append(argv, "--config-path", path)
	}
	for i := 0; i < cfg.Verbose; i++ {
		argv = append(argv, "-v")
	}

	sup := wrapper.New(cfg.Wrapper, argv)
	return sup.Run(context.Background())
}
