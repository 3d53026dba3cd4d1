package cmd

import (
	"fmt"
	"strings"

	"github.com/deemkeen/pubcore/util"
	"github.com/spf13/cobra"
)

func newPublishCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <account> <content>",
		Short: "Publish a note to the followers of account",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := util.ContentToHTML(strings.Join(args[1:], " "))

			note, report, err := a.inst.PublishNote(cmd.Context(), args[0], content)
			if err != nil {
				return err
			}

			fmt.Fprintln(a.out, note.ID)
			for _, r := range report.Results {
				if r.OK() {
					fmt.Fprintf(a.out, "  %s\t%d\n", r.Instance, r.Status)
				} else {
					fmt.Fprintf(a.out, "  %s\tfailed: %v\n", r.Instance, r.Err)
				}
			}
			return nil
		},
	}
}

func newFollowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "follow <account> <@name@host>",
		Short: "Follow a remote account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.inst.FollowUser(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, actor.ID)
			return nil
		},
	}
}
