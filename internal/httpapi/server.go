// Package httpapi implements the mediator's ingress HTTP and WebSocket
// surface: the push endpoint, the forward-routing endpoint, long-poll
// and WebSocket session entry points, the connection invitation, and
// the admin event relay.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/didmediator/internal/bus"
	"github.com/nextlevelbuilder/didmediator/internal/config"
	"github.com/nextlevelbuilder/didmediator/internal/cryptobox"
	"github.com/nextlevelbuilder/didmediator/internal/forward"
	"github.com/nextlevelbuilder/didmediator/internal/push"
	"github.com/nextlevelbuilder/didmediator/internal/registry"
	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
)

// Server wires the registry, stream transport, bus, push engine, and
// forward router into the mediator's public HTTP/WebSocket surface.
type Server struct {
	cfg      *config.Config
	reg      *registry.Registry
	pool     *streamtransport.Pool
	ring     *streamtransport.Ring
	bus      *bus.Bus
	engine   *push.Engine
	router   *forward.Router
	mediator cryptobox.KeyPair

	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer builds the ingress surface.
func NewServer(cfg *config.Config, reg *registry.Registry, pool *streamtransport.Pool, ring *streamtransport.Ring, b *bus.Bus, engine *push.Engine, router *forward.Router, mediator cryptobox.KeyPair) *Server {
	return &Server{
		cfg:         cfg,
		reg:         reg,
		pool:        pool,
		ring:        ring,
		bus:         b,
		engine:      engine,
		router:      router,
		mediator:    mediator,
		rateLimiter: NewRateLimiter(cfg.Gateway.RateLimitRPM),
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// BuildMux registers every route once and caches the result.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/e/", s.handlePush)
	mux.HandleFunc("/endpoint", s.handleEndpoint)
	mux.HandleFunc("/polling", s.handlePolling)
	mux.HandleFunc("/invitation", s.handleInvitation)
	mux.HandleFunc("/maintenance/health_check", s.handleHealthCheck)
	mux.HandleFunc("/maintenance/liveness_check", s.handleLivenessCheck)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/ws/events", s.handleWSEvents)

	s.mux = mux
	return mux
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("httpapi starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	var err error
	if s.cfg.TLS.CertFile != "" && s.cfg.TLS.KeyFile != "" {
		err = s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: serve: %w", err)
	}
	return nil
}
