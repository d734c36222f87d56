package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srediag/shmbox/pkg/mailbox"
)

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the mailbox state without reading the message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mb, err := a.openMailbox(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeMailbox(mb)

			n, err := mb.Len()
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}
			state := mailbox.StateEmpty
			if n > 0 {
				state = mailbox.StateOccupied
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "region:   %s\n", a.cfg.Region.Path())
			fmt.Fprintf(out, "capacity: %d\n", mailbox.Capacity)
			fmt.Fprintf(out, "state:    %s\n", state)
			fmt.Fprintf(out, "length:   %d\n", n)
			return nil
		},
	}
}
