// Package main is the entry point for the OPC UA gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-edge/opc-gateway/internal/config"
	"github.com/nexus-edge/opc-gateway/internal/controlapi"
	"github.com/nexus-edge/opc-gateway/internal/domain"
	"github.com/nexus-edge/opc-gateway/internal/egress"
	"github.com/nexus-edge/opc-gateway/internal/health"
	"github.com/nexus-edge/opc-gateway/internal/metrics"
	"github.com/nexus-edge/opc-gateway/internal/opcclient"
	"github.com/nexus-edge/opc-gateway/internal/registry"
	"github.com/nexus-edge/opc-gateway/internal/session"
	"github.com/nexus-edge/opc-gateway/pkg/logging"
)

const serviceName = "opc-gateway"

var version = "dev"

func main() {
	logger := logging.New(serviceName, version, "info", "json")
	logger.Info().Msg("Starting OPC UA gateway")

	configFile := os.Getenv("GATEWAY_CONFIG_PATH")
	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger = logging.New(serviceName, version, cfg.Logging.Level, cfg.Logging.Format)
	tracer := domain.NewZerologTracer(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsRegistry := metrics.NewRegistry()

	publisher := egress.NewMQTTPublisher(egress.PublisherConfig{
		BrokerURL:      cfg.Egress.BrokerURL,
		ClientID:       cfg.Egress.ClientID,
		Username:       cfg.Egress.Username,
		Password:       cfg.Egress.Password,
		Topic:          cfg.Egress.Topic,
		QoS:            cfg.Egress.QoS,
		KeepAlive:      cfg.Egress.KeepAlive,
		ReconnectDelay: cfg.Egress.ReconnectDelay,
		BufferSize:     cfg.Egress.BufferSize,
	}, tracer)
	if err := publisher.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to egress broker")
	}
	defer publisher.Disconnect()

	enqueue := func(payload string) {
		publisher.Enqueue(payload)
		metricsRegistry.IncNotificationsEnqueued()
	}

	dialer := opcclient.NewGopcuaDialer()

	sessionCfg := session.Config{
		BackoffMax:                   cfg.Gateway.BackoffMax,
		KeepAliveIntervalSec:         uint32(cfg.Gateway.KeepAliveInterval.Seconds()),
		KeepAliveDisconnectThreshold: cfg.Gateway.KeepAliveDisconnectThreshold,
		FetchDisplayName:             cfg.Gateway.FetchDisplayName,
		ShopfloorDomain:              cfg.Gateway.ShopfloorDomain,
		ReconcileInterval:            cfg.Gateway.ReconcileInterval,
	}

	nodeConfigPath := registry.ResolveConfigPath(cfg.NodeConfig.Path)

	reg := registry.New(dialer, tracer, sessionCfg, enqueue, nodeConfigPath, cfg.Gateway.ReconcileInterval)

	sessionTimeoutMs := float64(cfg.Gateway.SessionTimeout.Milliseconds())
	defaultSamplingMs := float64(cfg.Gateway.DefaultSamplingInterval.Milliseconds())
	defaultPublishingMs := float64(cfg.Gateway.DefaultPublishingInterval.Milliseconds())

	entries, err := registry.ReadConfig(nodeConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", nodeConfigPath).Msg("Failed to read node configuration file")
	}
	if err := reg.BuildSessions(ctx, entries, sessionTimeoutMs, defaultSamplingMs, defaultPublishingMs); err != nil {
		logger.Fatal().Err(err).Msg("Failed to build sessions from node configuration")
	}
	logger.Info().Int("count", len(entries)).Msg("Loaded node configuration")

	reg.Start()

	if cfg.NodeConfig.WatchForEdit {
		go func() {
			if err := reg.WatchConfig(ctx, sessionTimeoutMs, defaultSamplingMs, defaultPublishingMs); err != nil {
				logger.Error().Err(err).Msg("Config watcher exited")
			}
		}()
	}

	healthChecker := health.NewChecker(reg, publisher, logger)
	controlHandler := controlapi.NewHandler(reg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthChecker.HealthHandler)
	mux.HandleFunc("/health/live", healthChecker.LiveHandler)
	mux.HandleFunc("/health/ready", healthChecker.ReadyHandler)
	mux.HandleFunc("/nodes", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			controlHandler.HandleAddNode(w, r)
		case http.MethodDelete:
			controlHandler.HandleRemoveNode(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := reg.PersistConfig(shutdownCtx, domain.IdentityExpandedNodeID, false); err != nil {
		logger.Error().Err(err).Msg("Failed to persist node configuration on shutdown")
	} else {
		metricsRegistry.IncConfigWrites()
	}

	reg.Stop(shutdownCtx)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	logger.Info().Msg("OPC UA gateway shutdown complete")
}
