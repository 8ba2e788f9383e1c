package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/enso/api"
	"github.com/ashita-ai/enso/internal/auth"
	"github.com/ashita-ai/enso/internal/dispatch"
)

// Server is the execution core's HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Config holds all dependencies and configuration for creating a
// Server. MCPServer, UI and ExtraRoutes are optional.
type Config struct {
	Engine  *dispatch.Engine
	AuthMgr *auth.Manager
	Logger  *slog.Logger
	Ready   *atomic.Bool

	MCPServer   *mcpserver.MCPServer
	UI          fs.FS
	ExtraRoutes func(mux *http.ServeMux)

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:              cfg.Engine,
		AuthMgr:             cfg.AuthMgr,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Ready:               cfg.Ready,
	})

	mux := http.NewServeMux()

	// Token exchange (open; the auth middleware exempts it).
	mux.HandleFunc("POST /auth/token", h.HandleAuthToken)

	// Execution.
	mux.HandleFunc("POST /v1/programs/{name}", h.HandleRun)
	mux.HandleFunc("POST /v1/programs/{name}/stream", h.HandleRunStream)

	// Introspection.
	mux.HandleFunc("GET /v1/programs", h.HandleListPrograms)
	mux.HandleFunc("GET /v1/traces/{request_id}", h.HandleGetTrace)
	mux.HandleFunc("GET /v1/metrics", h.HandleMetrics)
	mux.HandleFunc("GET /v1/metrics/{program}", h.HandleMetricsProgram)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (open).
	mux.HandleFunc("GET /health/live", h.HandleHealthLive)
	mux.HandleFunc("GET /health/ready", h.HandleHealthReady)

	// API specification (open).
	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPISpec)
	})

	// Optional dashboard, mounted when a build embeds one.
	if cfg.UI != nil {
		mux.Handle("GET /ui/", http.StripPrefix("/ui/", http.FileServerFS(cfg.UI)))
	}

	if cfg.ExtraRoutes != nil {
		cfg.ExtraRoutes(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.AuthMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
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
