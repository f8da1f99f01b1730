package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/nmoreau/calldrill/internal/analysis"
	"github.com/nmoreau/calldrill/internal/call"
	"github.com/nmoreau/calldrill/internal/config"
	"github.com/nmoreau/calldrill/internal/metrics"
	"github.com/nmoreau/calldrill/internal/persona"
	"github.com/nmoreau/calldrill/internal/server"
	"github.com/nmoreau/calldrill/internal/transport"
)

func main() {
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "calldrill.yaml"
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("config load failed")
	}
	logger.SetLevel(cfg.ParsedLogLevel())
	for _, warning := range warnings {
		logger.Warn(warning)
	}

	metrics.Init(logger)

	catalog := persona.NewCatalog(cfg.BackendURL, logger)
	dialer := transport.NewClient(cfg.BackendURL, logger)
	dialer.SetConnectTimeout(cfg.ParsedConnectTimeout())
	analyzer := analysis.NewClient(cfg.BackendURL, logger)
	hub := server.NewHub(logger)

	var activeController atomic.Pointer[call.Controller]
	factory := func() server.CallController {
		controller := call.NewController(dialer, analyzer, hub, logger)
		controller.SetAnalysisTimeout(cfg.ParsedAnalysisTimeout())
		activeController.Store(controller)
		return controller
	}

	handler := server.Handler(hub, catalog, factory, func() []string { return warnings }, logger)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("calldrill web UI listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("calldrill: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if controller := activeController.Load(); controller != nil {
		if err := controller.End(shutdownCtx); err != nil && !errors.Is(err, call.ErrNotConnected) {
			logger.WithError(err).Warn("ending active call failed")
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown failed")
	}
}
