package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nyu-mlab/gemini-proxy/internal/model/user"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect the allow-list of user ids",
	}

	cmd.AddCommand(newUsersCheckCmd())
	cmd.AddCommand(newUsersListCmd())
	return cmd
}

func newUsersCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <user_id>",
		Short: "Report whether a user id may start chats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := user.NewFileRegistry(cfg.Registry.Path, log)
			if !registry.IsValid(args[0]) {
				return fmt.Errorf("%q is not in %s", args[0], cfg.Registry.Path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
			return nil
		},
	}
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the user ids in the allow-list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := user.NewFileRegistry(cfg.Registry.Path, log).List()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
