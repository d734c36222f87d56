// Package health exposes liveness and readiness probes for a process that
// hosts a mailbox.
package health

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// Prober is the part of a mailbox the readiness probe needs.
type Prober interface {
	Len() (int, error)
}

// Options configures NewHandler.
type Options struct {
	// Registerer, when set, also exports check results as prometheus gauges.
	Registerer prometheus.Registerer
	// RegionPath is the shared region file that must exist to be ready.
	RegionPath string
	// Attempts bounds how often a busy mailbox is probed before it is
	// reported as not ready.
	Attempts uint64
	// Interval is the pause between probe attempts.
	Interval time.Duration
	// MaxGoroutines is the liveness threshold.
	MaxGoroutines int
}

// NewHandler returns an http.Handler serving /live and /ready for mb.
func NewHandler(mb Prober, opts Options) healthcheck.Handler {
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Millisecond
	}
	if opts.MaxGoroutines <= 0 {
		opts.MaxGoroutines = 1000
	}

	var h healthcheck.Handler
	if opts.Registerer != nil {
		h = healthcheck.NewMetricsHandler(opts.Registerer, "shmbox")
	} else {
		h = healthcheck.NewHandler()
	}
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))
	timeout := opts.Interval * time.Duration(opts.Attempts+1)
	h.AddReadinessCheck("mailbox", healthcheck.Timeout(MailboxCheck(mb, opts.Attempts, opts.Interval), timeout))
	if opts.RegionPath != "" {
		h.AddReadinessCheck("region", RegionCheck(opts.RegionPath))
	}
	return h
}

// MailboxCheck succeeds when the mailbox guard can be taken within attempts
// tries. A mailbox that stays busy that long is reported as stuck.
func MailboxCheck(mb Prober, attempts uint64, interval time.Duration) healthcheck.Check {
	if attempts == 0 {
		attempts = 1
	}
	return func() error {
		op := func() error {
			n, err := mb.Len()
			if err != nil {
				return err
			}
			if n < 0 {
				return backoff.Permanent(fmt.Errorf("negative occupied length %d", n))
			}
			return nil
		}
		b := backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), attempts-1)
		if err := backoff.Retry(op, b); err != nil {
			return fmt.Errorf("mailbox not available: %w", err)
		}
		return nil
	}
}

// RegionCheck succeeds while the region file at path exists.
func RegionCheck(path string) healthcheck.Check {
	return func() error {
		st, err := os.Stat(path)
		if err != nil {
			return err
		}
		if st.IsDir() {
			return errors.New(path + " is a directory")
		}
		return nil
	}
}
