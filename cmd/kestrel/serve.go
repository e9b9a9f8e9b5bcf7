package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/worker"
)

func serveCmd(c *cli) *cobra.Command {
	var noBanner bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the async worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), c.cfg, cmd.OutOrStdout(), !noBanner)
		},
	}
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "do not print the startup banner")
	return cmd
}

func serve(ctx context.Context, cfg *domain.Config, out io.Writer, banner bool) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"scoring", cfg.Scoring.Provider,
	)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(a.bus, a.orchestrator, cfg.Worker)
		if err := asyncWorker.Start(); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Pipeline: a.orchestrator,
		Repo:     a.repo,
		Cache:    a.cache,
		Bus:      a.bus,
		Limits:   a.limits(),
		Version:  Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	if banner {
		printBanner(out, cfg)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	// Stop intake before the server so no new case starts mid-shutdown.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return serveErr
}

func printBanner(out io.Writer, cfg *domain.Config) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  KESTREL  chargeback dispute triage")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", Version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "  Worker:   %v\n", cfg.Worker.Enabled)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST /v1/disputes             - Triage a dispute")
	fmt.Fprintln(out, "    POST /v1/disputes/async       - Queue a dispute for the worker")
	fmt.Fprintln(out, "    GET  /v1/disputes             - List recent cases")
	fmt.Fprintln(out, "    GET  /v1/disputes/{id}        - Get a case")
	fmt.Fprintln(out, "    GET  /v1/disputes/{id}/audit  - Get a case audit trail")
	fmt.Fprintln(out, "    GET  /v1/metrics              - Pipeline metrics")
	fmt.Fprintln(out, "    POST /v1/ledger/transactions  - Record a ledger transaction")
	fmt.Fprintln(out, "    GET  /health                  - Health check")
	fmt.Fprintln(out)
}
