package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srediag/shmbox/pkg/mailbox"
)

func newReadCommand(a *app) *cobra.Command {
	var offset int

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Take the stored message out of the mailbox",
		Long: `Print the stored message from --offset on and empty the mailbox.
An offset of 1024 or more is the end of the stream and prints nothing
without touching the mailbox.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mb, err := a.openMailbox(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeMailbox(mb)

			c := mailbox.NewConsumer(mb)
			var data []byte
			if b := a.retryPolicy(); b != nil {
				data, err = mailbox.ReceiveWithRetry(cmd.Context(), c, offset, b)
			} else {
				data, err = c.ReceiveContext(cmd.Context(), offset)
			}
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "first byte of the message to print")
	return cmd
}
