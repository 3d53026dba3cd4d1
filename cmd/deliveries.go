package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDeliveriesCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Show the newest entries of the delivery log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deliveries, err := a.journal.ReadDeliveries(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tINSTANCE\tSTATUS\tTOOK\tACTIVITY\tERROR")
			for _, d := range deliveries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					d.CreatedAt.Format(time.DateTime), d.Instance, d.Status, d.Duration, d.ActivityURI, d.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}
