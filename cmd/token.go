package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rbxmon/rbxmon/internal/core"
	"github.com/rbxmon/rbxmon/internal/keyring"
	"github.com/rbxmon/rbxmon/internal/store"
)

func NewTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage credentials",
		Long:  `Manage the Discord bot token and the hub's per-user bearer tokens.`,
	}

	tokenCmd.AddCommand(
		newTokenSetCommand(),
		newTokenDeleteCommand(),
		newTokenStatusCommand(),
		newHubTokenCommand(),
	)
	return tokenCmd
}

func newTokenSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Store the Discord bot token in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := keyring.PromptSecret("Discord bot token")
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}
			if err := keyring.SetSecret(keyring.DiscordTokenKey, token); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Token stored.")
			return nil
		},
	}
}

func newTokenDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored Discord bot token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keyring.DeleteSecret(keyring.DiscordTokenKey); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Token removed.")
			return nil
		},
	}
}

func newTokenStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a Discord bot token is stored",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if os.Getenv(core.TokenEnvVar) != "" {
				fmt.Fprintf(os.Stderr, "Token provided via %s.\n", core.TokenEnvVar)
				return
			}
			if keyring.HasSecret(keyring.DiscordTokenKey) {
				fmt.Fprintln(os.Stderr, "Token stored in keyring.")
			} else {
				fmt.Fprintln(os.Stderr, "No token stored. Run `rbxmon token set`.")
			}
		},
	}
}

func newHubTokenCommand() *cobra.Command {
	hubCmd := &cobra.Command{
		Use:   "hub",
		Short: "Manage the control hub's per-user bearer tokens",
	}

	hubCmd.AddCommand(
		&cobra.Command{
			Use:   "add <user>",
			Short: "Create (or rotate) a user's bearer token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := store.Open(core.Config.DatabasePath())
				if err != nil {
					return err
				}
				defer st.Close()

				token, err := keyring.GenerateToken()
				if err != nil {
					return err
				}
				if err := st.SetUserToken(args[0], token); err != nil {
					return err
				}
				// The token prints exactly once; it is not recoverable later.
				fmt.Println(token)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <user>",
			Short: "Revoke a user's bearer token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := store.Open(core.Config.DatabasePath())
				if err != nil {
					return err
				}
				defer st.Close()

				removed, err := st.DeleteUserToken(args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no token for user '%s'", args[0])
				}
				fmt.Fprintln(os.Stderr, "Token revoked.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List users with a bearer token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := store.Open(core.Config.DatabasePath())
				if err != nil {
					return err
				}
				defer st.Close()

				users, err := st.ListUsers()
				if err != nil {
					return err
				}
				for _, u := range users {
					fmt.Println(u)
				}
				return nil
			},
		},
	)
	return hubCmd
}
