package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ddos-guard/api/internal/handlers"
	"ddos-guard/api/internal/storage"
	"ddos-guard/internal/control"
	"ddos-guard/internal/guard"
	"ddos-guard/internal/utils"
)

func main() {
	var (
		configFile = flag.String("config", "configs/ddos_guard.yaml", "Configuration file path (YAML or JSON)")
		port       = flag.String("port", "", "API server port (overrides application.api_port)")
	)
	flag.Parse()

	// Load configuration
	config, defaulted, err := utils.LoadGuardConfigOrDefault(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if defaulted {
		log.Printf("Config file %s not found, using defaults", *configFile)
	}
	if *port != "" {
		config.Application.APIPort = *port
	}

	logger, err := utils.NewLoggerFromConfig(config.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	g, err := guard.New(config, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize detector: %v", err)
	}
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event history for the REST and WebSocket endpoints
	store := storage.NewStorage(logger)
	go store.Consume(ctx, g.Engine.Events())

	g.RunBackground(ctx)

	surface := control.NewSurface(ctx, g.Engine, g.Controller)
	surface.SetActionTimeout(time.Duration(config.Enforcement.TimeoutSeconds) * time.Second)
	promTimeout := time.Duration(config.Prometheus.TimeoutSeconds) * time.Second
	h := handlers.NewHandlers(surface, store, g.PromClient, promTimeout, logger)
	router := handlers.NewRouter(h, g.Registry)

	if config.Application.AutoStart {
		if _, err := surface.StartCapture(); err != nil {
			logger.Errorf("Failed to start packet capture: %v", err)
		}
	}

	addr := fmt.Sprintf(":%s", config.Application.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.Infof("API server starting on port %s", config.Application.APIPort)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down API server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorf("Server failed: %v", err)
	}
}
