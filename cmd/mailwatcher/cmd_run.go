package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailwatcher/internal/httpserver"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a cycle now, then every poll interval",
		Long: `Run one sync cycle immediately and then one every poll interval until
SIGINT or SIGTERM. Serves /healthz, /readyz and /metrics on http.addr.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return doRun(flags)
		},
	}
}

func doRun(flags *rootFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, flags)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log

	router := httpserver.NewRouter(a.runner, log.Named("http"), a.readinessChecks()...)
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}()

	done := make(chan struct{})
	go func() {
		a.runner.Run(ctx)
		close(done)
	}()

	log.Info("mailwatcher is running")
	<-ctx.Done()
	log.Info("Shutting down mailwatcher gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("Cycle did not finish before shutdown timeout")
	}

	log.Info("mailwatcher shutdown complete")
	return nil
}
