package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/api"
	"github.com/JakeFAU/ota-answers-crawler/internal/dispatcher"
	"github.com/JakeFAU/ota-answers-crawler/internal/logging"
	"github.com/JakeFAU/ota-answers-crawler/internal/metrics"
	"github.com/JakeFAU/ota-answers-crawler/internal/queue/memory"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand: the ops HTTP API plus a
// dispatcher that runs submitted crawls one at a time.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ops HTTP API and crawl dispatcher",
		Long: `Serves health, metrics, and crawl management endpoints. Crawls
submitted over HTTP are queued and executed sequentially. The port comes from
server.port unless the PORT environment variable is set.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.Config
	logger := a.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	queue := memory.NewQueue[dispatcher.Job](cfg.Server.QueueCapacity)
	dispatch := dispatcher.New(queue, a.Pipeline, a.Runs, a.Clock, logging.Component(logger, "dispatcher"))

	apiServer := api.NewServer(api.Deps{
		Runs:      a.Runs,
		Runner:    dispatch,
		Platforms: a.Pipeline.Platforms(),
		Manifest:  a.Manifest,
		Limits:    a.Limiters.Registry(),
		IDs:       a.IDs,
		Logger:    logger,
	}, api.Options{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	})

	port := cfg.Server.Port
	if raw := os.Getenv("PORT"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			port = p
		}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("dispatcher started")
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	<-done
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
