// Package api is the HTTP/JSON and WebSocket surface of the build engine.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/elisa-build/elisa/pkg/config"
	"github.com/elisa-build/elisa/pkg/events"
	"github.com/elisa-build/elisa/pkg/memory"
	"github.com/elisa-build/elisa/pkg/pipeline"
	"github.com/elisa-build/elisa/pkg/session"
)

// wsWriteTimeout bounds one frame write to a subscriber.
const wsWriteTimeout = 10 * time.Second

// Server wires the HTTP handlers to the session store and pipeline.
type Server struct {
	cfg         *config.Config
	store       *session.Store
	connManager *events.ConnectionManager
	memory      *memory.Store

	mu          sync.Mutex
	controllers map[string]*pipeline.Controller

	echo *echo.Echo
	http *http.Server
}

// NewServer creates the server and registers its routes.
func NewServer(cfg *config.Config, store *session.Store, mem *memory.Store) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		connManager: events.NewConnectionManager(wsWriteTimeout),
		memory:      mem,
		controllers: make(map[string]*pipeline.Controller),
	}
	s.echo = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *echo.Echo {
	e := echo.New()
	e.Use(securityHeaders())
	e.Use(s.bearerAuth())

	e.GET("/api/health", s.healthHandler)
	if s.cfg.DevMode && s.cfg.StaticDir == "" {
		e.POST("/api/internal/config", s.devConfigHandler)
	}

	e.POST("/api/workspace/save", s.workspaceSaveHandler)
	e.POST("/api/workspace/load", s.workspaceLoadHandler)
	e.POST("/api/workspace/inspect", s.workspaceInspectHandler)
	e.POST("/api/workspace/reset", s.workspaceResetHandler)

	e.POST("/api/session", s.createSessionHandler)
	e.POST("/api/session/:id/cancel", s.cancelSessionHandler)
	e.POST("/api/session/:id/gate", s.gateHandler)
	e.POST("/api/session/:id/answer", s.answerHandler)

	e.GET("/ws/session/:id", s.wsHandler)

	if s.cfg.StaticDir != "" {
		e.Static("/", s.cfg.StaticDir)
	}
	return e
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Router exposes the echo engine for tests.
func (s *Server) Router() *echo.Echo {
	return s.echo
}

func (s *Server) controller(id string) (*pipeline.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.controllers[id]
	return ctrl, ok
}
