package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/groundpass/core"
	"github.com/signalsfoundry/groundpass/internal/api"
	"github.com/signalsfoundry/groundpass/internal/config"
	"github.com/signalsfoundry/groundpass/internal/logging"
	"github.com/signalsfoundry/groundpass/internal/observability"
	"github.com/signalsfoundry/groundpass/kb"
	"github.com/signalsfoundry/groundpass/schedule"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (default $GROUNDPASS_CONFIG)")
	addr := flag.String("addr", "", "HTTP listen address, overrides server.address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		log.Error(ctx, "failed to listen", logging.String("addr", cfg.Server.Address), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis, prometheus.DefaultRegisterer, os.Stdout); err != nil {
		log.Error(ctx, "schedule server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the API on lis until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener, reg prometheus.Registerer, accessLog io.Writer) error {
	store := kb.NewStore()
	if err := store.LoadFile(cfg.Store.Path); err != nil {
		return err
	}
	for _, gs := range cfg.Stations {
		if _, err := store.UpsertStation(gs); err != nil {
			return fmt.Errorf("seed station %s: %w", gs.Code, err)
		}
	}
	stats := store.Stats()
	log.Info(ctx, "store loaded",
		logging.String("path", cfg.Store.Path),
		logging.Int("satellites", stats.Satellites),
		logging.Int("stations", stats.Stations),
		logging.Int("passes", stats.Passes),
	)

	collector, err := observability.NewAPICollector(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	det, err := core.NewDetector(cfg.DetectionOptions())
	if err != nil {
		return err
	}
	batch := core.NewBatchDriver(det)
	batch.ChunkSize = cfg.Batch.ChunkSize
	batch.Margin = cfg.Batch.Margin
	ellipsoid, err := cfg.ReferenceEllipsoid()
	if err != nil {
		return err
	}

	srv := api.NewServer(store,
		api.WithLogger(log),
		api.WithMetrics(collector),
		api.WithBatchDriver(batch),
		api.WithEllipsoid(ellipsoid),
		api.WithScheduler(schedule.Scheduler{MinDuration: cfg.Detection.MinDuration}),
	)

	httpSrv := &http.Server{
		Handler:           handlers.LoggingHandler(accessLog, srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(lis)
	}()
	log.Info(ctx, "serving groundpass API", logging.String("addr", lis.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down schedule server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
