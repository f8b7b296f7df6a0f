package relay

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/slipstream-racing/slipstream/go/internal/room"
)

// Service wires the room registry, connection manager, and HTTP
// handler into one session-relay service.
type Service struct {
	registry          *room.Registry
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
}

// Config holds configuration for the relay service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default relay configuration.
func DefaultConfig() Config {
	return Config{ConnectionConfig: DefaultConnectionConfig()}
}

// NewService creates a relay service with a fresh registry.
func NewService(config Config) *Service {
	registry := room.NewRegistry()
	connectionManager := NewConnectionManager(registry, config.ConnectionConfig)

	return &Service{
		registry:          registry,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
	}
}

// Registry exposes the room registry, mainly for tests and stats.
func (s *Service) Registry() *room.Registry {
	return s.registry
}

// Start blocks until the context is cancelled, then closes every live
// connection. Each disconnect runs the normal leave path, so rooms
// drain and delete themselves on shutdown.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("session relay started")
	<-ctx.Done()

	log.Info().Msg("session relay shutting down")
	s.connectionManager.CloseAll()
	return nil
}

// RegisterRoutes mounts the relay's HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("relay routes registered")
}
