package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"

	"github.com/slipstream-racing/slipstream/go/internal/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// Configuration: optional YAML file, env overrides
	cfg := relay.DefaultFileConfig()
	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		loaded, err := relay.LoadFileConfig(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to load config")
		}
		cfg = loaded
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}

	log.Info().
		Str("addr", cfg.Addr).
		Int("max_connections", cfg.MaxConnections).
		Msg("starting session relay")

	service := relay.NewService(relay.Config{
		ConnectionConfig: cfg.ConnectionConfig(),
	})

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// The game client is served from arbitrary origins; mirror its
	// permissive CORS policy.
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      c.Handler(mux),
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.Start(ctx); err != nil {
			log.Error().Err(err).Msg("relay service failed")
		}
	}()

	go func() {
		listener, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to listen")
		}
		if cfg.MaxConnections > 0 {
			listener = netutil.LimitListener(listener, cfg.MaxConnections)
		}

		log.Info().Str("addr", cfg.Addr).Msg("HTTP server listening")
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop the relay service; it closes remaining connections.
	cancel()
	time.Sleep(100 * time.Millisecond)

	log.Info().Msg("session relay shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
