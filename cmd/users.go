package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newUserAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "useradd <name> [display name]",
		Short: "Create a local account",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			display := name
			if len(args) > 1 {
				display = strings.Join(args[1:], " ")
			}

			u, err := a.store.CreateUser(name, display)
			if err != nil {
				return err
			}
			a.logger.Info("Created account", "user", u.Username)
			fmt.Fprintln(a.out, u.ActorURI(a.inst.Host()))
			return nil
		},
	}
}

func newUsersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List local accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := a.store.GetUserList()
			if err != nil {
				return err
			}

			names := make([]string, 0, len(users))
			for name := range users {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				fmt.Fprintf(a.out, "%s\t%s\n", name, users[name])
			}
			return nil
		},
	}
}
