package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srediag/shmbox/pkg/mailbox"
)

func newWriteCommand(a *app) *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "write [message]",
		Short: "Store a message, replacing the previous one",
		Long: `Store a message in the mailbox, replacing anything stored before.
Without an argument the message is read from standard input. A message of
1024 bytes or more is cut to 1023 bytes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) == 1 {
				data = []byte(args[0])
			} else {
				var err error
				if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}

			mb, err := a.openMailbox(cmd.Context(), create)
			if err != nil {
				return err
			}
			defer closeMailbox(mb)

			p := mailbox.NewProducer(mb)
			var n int
			if b := a.retryPolicy(); b != nil {
				n, err = mailbox.SubmitWithRetry(cmd.Context(), p, data, b)
			} else {
				n, err = p.SubmitContext(cmd.Context(), data)
			}
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d of %d bytes\n", n, len(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "create the region file when missing")
	return cmd
}
