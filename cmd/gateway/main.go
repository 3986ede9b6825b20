// cmd/gateway/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"road-state-gateway/internal/api"
	"road-state-gateway/internal/classify"
	"road-state-gateway/internal/config"
	"road-state-gateway/internal/ingest"
	"road-state-gateway/internal/logging"
	"road-state-gateway/internal/metrics"
	"road-state-gateway/internal/storage"
	"road-state-gateway/internal/websocket"
)

func main() {
	configPath := flag.String("config", ".", "Path to the configuration file directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuring logger: %v\n", err)
		os.Exit(1)
	}
	if cfg.Source == "" {
		log.Info("no config file found, running on defaults and environment")
	} else {
		log.WithField("file", cfg.Source).Info("config loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("gateway stopped")
	}
	log.Info("servers gracefully stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	// --- Initialize Components ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := storage.Open(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	hub := websocket.NewHub(log, m)
	defer hub.Close()

	pipeline := ingest.New(store, classify.NewFromConfig(cfg.Classifier), hub, log, m)
	apiHandler := api.NewAPIHandler(store, pipeline, hub, websocket.OptionsFromConfig(cfg.WebSocket),
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), log)

	// --- Setup HTTP Servers ---
	dataServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.DataPort),
		Handler: api.SetupDataRouter(apiHandler),
	}
	wsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.WSPort),
		Handler: api.SetupSubscriptionRouter(apiHandler),
	}

	g, gctx := errgroup.WithContext(ctx)
	serve := func(name string, srv *http.Server) {
		g.Go(func() error {
			log.WithField("addr", srv.Addr).Infof("starting %s server", name)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", name, err)
			}
			return nil
		})
	}
	serve("data ingestion", dataServer)
	serve("websocket", wsServer)

	// --- Graceful Shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown.
		hub.Close()
		return errors.Join(dataServer.Shutdown(shutdownCtx), wsServer.Shutdown(shutdownCtx))
	})

	return g.Wait()
}
