package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rbxmon/rbxmon/internal/core"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "rbxmon %s\n", core.FormatVersion(core.Version))
		},
	}
}
