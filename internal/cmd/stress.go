package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/srediag/shmbox/pkg/mailbox"
)

var errTorn = errors.New("torn message observed")

// stressResult counts the outcomes of a stress run.
type stressResult struct {
	Accepted  int64
	Busy      int64
	Delivered int64
	Empty     int64
	Torn      int64
}

func (r stressResult) String() string {
	return fmt.Sprintf("accepted=%d busy=%d delivered=%d empty=%d torn=%d",
		r.Accepted, r.Busy, r.Delivered, r.Empty, r.Torn)
}

func newStressCommand(a *app) *cobra.Command {
	var (
		workers    int
		iterations int
		shared     bool
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Race producers and consumers against one mailbox",
		Long: `Run --workers goroutines that each write and read --iterations
messages, then report how many operations succeeded or found the mailbox
busy. Every delivered message is checked for tearing. By default a private
in-memory mailbox is used; --shared targets the configured region.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mb := mailbox.New()
			if shared {
				var err error
				if mb, err = a.openMailbox(cmd.Context(), true); err != nil {
					return err
				}
				defer closeMailbox(mb)
			}
			res, err := runStress(cmd.Context(), mb, workers, iterations)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workers=%d iterations=%d %s\n", workers, iterations, res)
			if res.Torn > 0 {
				return errTorn
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 8, "number of concurrent workers")
	cmd.Flags().IntVar(&iterations, "iterations", 1000, "write/read rounds per worker")
	cmd.Flags().BoolVar(&shared, "shared", false, "use the configured shared region")
	return cmd
}

// runStress submits one task per worker to an ants pool. Each task
// alternates a write and a read on mb.
func runStress(ctx context.Context, mb *mailbox.Mailbox, workers, iterations int) (stressResult, error) {
	if workers <= 0 || iterations <= 0 {
		return stressResult{}, fmt.Errorf("workers and iterations must be positive, got %d and %d", workers, iterations)
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return stressResult{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		accepted, busy, delivered, empty, torn atomic.Int64
		wg                                     sync.WaitGroup
	)
	p := mailbox.NewProducer(mb)
	c := mailbox.NewConsumer(mb)

	task := func(worker int) func() {
		return func() {
			defer wg.Done()
			for i := 0; i < iterations && ctx.Err() == nil; i++ {
				switch _, err := p.SubmitContext(ctx, stressMessage(worker+i)); {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, mailbox.ErrBusy):
					busy.Add(1)
				}

				data, err := c.ReceiveContext(ctx, 0)
				switch {
				case err == nil:
					delivered.Add(1)
					if !validStressMessage(data) {
						torn.Add(1)
					}
				case errors.Is(err, mailbox.ErrBusy):
					busy.Add(1)
				case errors.Is(err, mailbox.ErrNoMessage):
					empty.Add(1)
				}
			}
		}
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		if err := pool.Submit(task(w)); err != nil {
			wg.Done()
			wg.Wait()
			return stressResult{}, fmt.Errorf("submit worker %d: %w", w, err)
		}
	}
	wg.Wait()

	return stressResult{
		Accepted:  accepted.Load(),
		Busy:      busy.Load(),
		Delivered: delivered.Load(),
		Empty:     empty.Load(),
		Torn:      torn.Load(),
	}, nil
}

// stressMessage is the letter c repeated c times, so a reader can tell a
// whole message from a mix of two.
func stressMessage(k int) []byte {
	c := byte('A' + k%26)
	return bytes.Repeat([]byte{c}, int(c))
}

func validStressMessage(data []byte) bool {
	if len(data) == 0 || len(data) != int(data[0]) {
		return false
	}
	return len(bytes.Trim(data, string(data[:1]))) == 0
}
