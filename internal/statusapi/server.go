// Package statusapi exposes one workflow engine over HTTP: read-only state
// queries, step execution and a websocket stream of transitions.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/kingrea/stepflow/internal/workflow/engine"
)

// APIVersion is reported by /health.
const APIVersion = 1

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Server wraps the HTTP listener and handlers serving one engine.
type Server struct {
	settings    Settings
	engine      *engine.Engine
	hub         *Hub
	logger      *slog.Logger
	clock       func() time.Time
	router      *gin.Engine
	unsubscribe func()

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
	sockets   map[*client]struct{}
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger routes request and lifecycle logs to logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithHub replaces the default event hub.
func WithHub(h *Hub) Option {
	return func(s *Server) {
		if h != nil {
			s.hub = h
		}
	}
}

// NewServer prepares a server for eng and subscribes its hub to the
// engine's transitions. A server cannot be restarted after Shutdown.
func NewServer(eng *engine.Engine, settings Settings, opts ...Option) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("statusapi: engine is required")
	}
	settings.normalize()
	s := &Server{
		settings: settings,
		engine:   eng,
		logger:   slog.New(slog.DiscardHandler),
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
		sockets:  map[*client]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.hub == nil {
		s.hub = NewHub(HubWithLogger(s.logger))
	}
	s.unsubscribe = eng.Subscribe(s.hub)
	s.router = s.setupRoutes()
	return s, nil
}

// Handler exposes the routes, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event hub fed by the engine.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(_ *gin.Context, _ *slog.Logger) *slog.Logger {
			return s.logger
		}),
	))

	router.GET("/health", s.handleHealth)
	wf := router.Group("/workflow")
	{
		wf.GET("", s.handleState)
		wf.GET("/steps", s.listSteps)
		wf.GET("/steps/:stepID", s.getStep)
		wf.POST("/steps/:stepID/execute", s.executeStep)
		wf.GET("/executable", s.listExecutable)
		wf.GET("/blocked", s.listBlocked)
		wf.POST("/reset", s.resetWorkflow)
		wf.GET("/events", s.handleWebSocket)
	}
	return router
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("statusapi: server already started")
	}
	if s.status == StatusDraining {
		return fmt.Errorf("statusapi: server was shut down")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("statusapi: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status api serve error", "error", err)
		}
	}()
	s.logger.Info("status api listening", "addr", listener.Addr().String(), "engine", s.engine.ID())
	return nil
}

// Shutdown stops accepting connections, closes event streams and waits for
// in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.status = StatusDraining
	server := s.server
	s.server = nil
	s.listener = nil
	sockets := make([]*client, 0, len(s.sockets))
	for c := range s.sockets {
		sockets = append(sockets, c)
	}
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.Close()
	for _, c := range sockets {
		c.close()
	}
	if server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	return server.Shutdown(ctx)
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

func (s *Server) registerSocket(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[c] = struct{}{}
}

func (s *Server) unregisterSocket(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, c)
}
