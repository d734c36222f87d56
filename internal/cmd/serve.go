package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/srediag/shmbox/internal/audit"
	"github.com/srediag/shmbox/pkg/health"
	"github.com/srediag/shmbox/pkg/lifecycle"
	"github.com/srediag/shmbox/pkg/mailbox"
)

const (
	shutdownTimeout = 5 * time.Second
	maxBodySize     = 1 << 20
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host the mailbox region and serve it over HTTP",
		Long: `Create the region file, register the shmbox_in and shmbox_out
endpoints and serve:

  POST /in         store the request body
  GET  /out        take the message (?offset=N)
  GET  /endpoints  registered endpoints and their open handles
  GET  /journal    recent mailbox events (kept for the next reader)
  GET  /metrics    prometheus metrics
  GET  /live       liveness
  GET  /ready      readiness

On SIGINT or SIGTERM the region is unmapped and its file removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
			}
			return a.serve(ctx, ln, cmd.OutOrStdout())
		},
	}
}

// serve runs until ctx is done. It owns ln and the region file.
func (a *app) serve(ctx context.Context, ln net.Listener, out io.Writer) error {
	defer ln.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := mailbox.NewMetrics(reg)
	if err != nil {
		return err
	}
	telemetry, err := mailbox.NewTelemetry(otel.Meter("shmbox"), otel.Tracer("shmbox"))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	journal := audit.NewJournal(a.cfg.Journal.Size)
	defer journal.Close()

	path := a.cfg.Region.Path()
	mb, err := a.openMailbox(ctx, true, mailbox.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer func() {
		closeMailbox(mb)
		if err := mailbox.RemoveShared(path); err != nil {
			cmdLogger.Errorf("remove %s: %v", path, err)
		}
	}()

	endpoints := lifecycle.NewRegistry(a.cfg.Lifecycle.BaseID,
		lifecycle.WithJournal(journal),
		lifecycle.WithRegisterer(reg))
	for _, name := range []string{mailbox.DefaultProducerName, mailbox.DefaultConsumerName} {
		ep, err := endpoints.Register(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "registered %s (id %d)\n", ep.Name, ep.ID)
	}
	epOpts := []mailbox.EndpointOption{
		mailbox.WithLifecycle(endpoints),
		mailbox.WithJournal(journal),
		mailbox.WithTelemetry(telemetry),
	}
	producer := mailbox.NewProducer(mb, epOpts...)
	consumer := mailbox.NewConsumer(mb, epOpts...)

	probes := health.NewHandler(mb, health.Options{
		Registerer: reg,
		RegionPath: path,
		Interval:   a.cfg.Retry.Interval,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /in", inHandler(producer))
	mux.HandleFunc("GET /out", outHandler(consumer))
	mux.HandleFunc("GET /endpoints", jsonHandler(func() any { return endpoints.All() }))
	mux.HandleFunc("GET /journal", jsonHandler(func() any { return journal.Snapshot() }))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /live", probes.LiveEndpoint)
	mux.HandleFunc("GET /ready", probes.ReadyEndpoint)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	fmt.Fprintf(out, "serving %s on http://%s\n", path, ln.Addr())

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func inHandler(p *mailbox.Producer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		h, err := p.Open()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer closeHandle(h)

		n, err := h.Write(body)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, "accepted %d bytes\n", n)
	}
}

func outHandler(c *mailbox.Consumer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var offset int64
		if s := r.URL.Query().Get("offset"); s != "" {
			var err error
			if offset, err = strconv.ParseInt(s, 10, 32); err != nil {
				http.Error(w, "invalid offset", http.StatusBadRequest)
				return
			}
		}
		h, err := c.Open()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer closeHandle(h)

		if _, err := h.Seek(offset, io.SeekStart); err != nil {
			writeError(w, err)
			return
		}
		// a whole message always fits, so one Read drains it
		buf := make([]byte, mailbox.Capacity)
		n, err := h.Read(buf)
		switch {
		case errors.Is(err, io.EOF):
			w.WriteHeader(http.StatusOK)
			return
		case err != nil:
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(buf[:n])
	}
}

func jsonHandler(snapshot func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
			cmdLogger.Warnf("encode response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mailbox.ErrBusy):
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, mailbox.ErrNoMessage):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, mailbox.ErrInvalidOffset):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func closeHandle(h io.Closer) {
	if err := h.Close(); err != nil {
		cmdLogger.Warnf("close handle: %v", err)
	}
}
