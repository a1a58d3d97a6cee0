package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/namerelay/internal/logging"
	"github.com/Tyrowin/namerelay/internal/metrics"
	"github.com/Tyrowin/namerelay/internal/registry"
	"github.com/Tyrowin/namerelay/internal/server"
	"github.com/jonboulle/clockwork"
)

func main() {
	config, err := server.LoadConfig()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logging.InitLogger(config.LogLevel, config.LogFormat)
	slog.Info("Starting namerelay",
		"bind_mode", config.BindMode, "echo_to_sender", config.EchoToSender, "send_queue_size", config.SendQueueSize)

	clock := clockwork.NewRealClock()
	names := registry.New(clock, config.ClaimTTL, config.MaxNameLength)

	promRegistry := metrics.NewRegistry()
	relayMetrics := metrics.New(promRegistry)

	hub := server.NewHub(names, config, relayMetrics, clock)
	go hub.Run()

	handlers := server.NewHandlers(config, names, hub)
	router := server.SetupRoutes(handlers, metrics.Handler(promRegistry))
	httpServer := server.CreateServer(config.Addr(), router)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	exitCode := 0
	if err := server.ShutdownServer(httpServer, config.ShutdownTimeout); err != nil {
		exitCode = 1
	}
	if err := hub.Shutdown(config.ShutdownTimeout); err != nil {
		slog.Error("Hub shutdown failed", "error", err)
		exitCode = 1
	}
	os.Exit(exitCode)
}
