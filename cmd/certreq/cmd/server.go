package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/certreq/api"
	"github.com/jmcleod/certreq/certificates"
	"github.com/jmcleod/certreq/channel"
	"github.com/jmcleod/certreq/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the certificate requesting API",
	Long: `Serve the REST API over TLS and scan every established session for
expiring certificates on the configured interval.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		provider, closeRepo, err := openProvider(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		var (
			handlers  certificates.Handlers
			alertOpts []metrics.Option
		)
		if cfg.Webhook.URL != "" {
			wh := api.NewWebhook(cfg.Webhook.URL, cfg.Webhook.AuthHeader, log)
			defer wh.Close()
			handlers = append(handlers, wh)
			alertOpts = append(alertOpts, metrics.WithAlertFunc(func(a metrics.AlertEvent) {
				log.Warn("alert", "type", a.Type, "count", a.Count, "threshold", a.Threshold)
				wh.Notify(string(a.Type), a)
			}))
		} else {
			alertOpts = append(alertOpts, metrics.WithAlertFunc(func(a metrics.AlertEvent) {
				log.Warn("alert", "type", a.Type, "count", a.Count, "threshold", a.Threshold)
			}))
		}

		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg, alertOpts...)
		if err != nil {
			return err
		}

		a := api.New(provider,
			api.WithLogger(log),
			api.WithHandler(handlers),
			api.WithRecorder(m),
			api.WithScannerConfig(scannerConfig()))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)
		r.Use(m.Middleware)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", metrics.Handler(reg))
		r.Mount("/api/v1", a.Router())

		tlsConfig, selfSigned, err := loadTLSConfig(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		out := cmd.OutOrStdout()
		printBanner(out)
		if selfSigned {
			fmt.Fprintln(out, "Using self-signed runtime generated certificate for TLS")
		}
		fmt.Fprintf(out, "Starting server on %s (storage: %s)...\n", cfg.Server.Addr, cfg.Storage.Driver)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			runScanLoop(gctx, provider, cfg.ScanInterval(), handlers, m)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(sctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		})
		return g.Wait()
	},
}

// runScanLoop runs the expiry scanner over every established session each
// interval until ctx is done.
func runScanLoop(ctx context.Context, p *channel.Provider, interval time.Duration, h certificates.Handler, m *metrics.Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanAll(ctx, p, h, m)
		}
	}
}

// scanAll scans each session once. A failing session is logged and skipped.
func scanAll(ctx context.Context, p *channel.Provider, h certificates.Handler, m *metrics.Metrics) int {
	sessions, err := p.Sessions()
	if err != nil {
		log.Error("listing sessions", "error", err)
		return 0
	}
	m.SetSessions(len(sessions))

	var emitted int
	for _, id := range sessions {
		req, err := newRequirer(p, id, certificates.WithHandler(h), certificates.WithRecorder(m))
		if err != nil {
			log.Error("binding session", "session", id, "error", err)
			continue
		}
		events, err := req.OnTick(ctx)
		if err != nil {
			log.Error("scanning session", "session", id, "error", err)
			continue
		}
		emitted += len(events)
	}
	log.Debug("expiry scan complete", slog.Int("sessions", len(sessions)), slog.Int("events", emitted))
	return emitted
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides server.addr)")
	serverCmd.Flags().StringVar(&flagTLSCert, "tls-cert", "", "Path to TLS certificate file (overrides server.tls_cert)")
	serverCmd.Flags().StringVar(&flagTLSKey, "tls-key", "", "Path to TLS key file (overrides server.tls_key)")
	serverCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if flagAddr != "" {
			cfg.Server.Addr = flagAddr
		}
		if flagTLSCert != "" || flagTLSKey != "" {
			cfg.Server.TLSCert, cfg.Server.TLSKey = flagTLSCert, flagTLSKey
		}
		return cfg.Validate()
	}
}

var (
	flagAddr    string
	flagTLSCert string
	flagTLSKey  string
)
