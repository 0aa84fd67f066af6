// Package server implements the HTTP API for Shiko: health, the kaizen
// loop's operational endpoints, invocation summaries, and the MCP
// StreamableHTTP transport.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/shiko-ai/shiko/internal/kaizen"
	"github.com/shiko-ai/shiko/internal/ratelimit"
	"github.com/shiko-ai/shiko/internal/storage"
)

// Store is the persistence surface the HTTP handlers need. *storage.DB
// satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	SummarizeInvocations(ctx context.Context, from, to time.Time) ([]storage.InvocationSummary, error)
}

// ServerConfig holds the dependencies and settings for creating a Server.
// Limiter and MCPServer are optional; nil disables them.
type ServerConfig struct {
	Store  Store
	Kaizen *kaizen.Service
	Logger *slog.Logger

	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// Server is the Shiko HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &handlers{
		store:   cfg.Store,
		kaizen:  cfg.Kaizen,
		logger:  cfg.Logger,
		version: cfg.Version,
	}

	rl := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc)

	mux := http.NewServeMux()

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.handleHealth)

	// Kaizen operational surface.
	mux.Handle("GET /v1/kaizen/status", rl(http.HandlerFunc(h.handleKaizenStatus)))
	mux.Handle("POST /v1/kaizen/cycle", rl(http.HandlerFunc(h.handleKaizenCycle)))
	mux.Handle("POST /v1/kaizen/approvals/{id}", rl(http.HandlerFunc(h.handleApproval)))

	// Invocation aggregates.
	mux.Handle("GET /v1/invocations/summary", rl(http.HandlerFunc(h.handleInvocationsSummary)))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", rl(mcpHTTP))
	}

	// Middleware chain (outermost executes first):
	// request ID → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
