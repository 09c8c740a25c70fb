// Package api provides the HTTP surface for FollowPipe: configuration
// management, manual sweep/promote triggers, agent pause propagation, and
// read access to executions and history.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/juliahq/followpipe/internal/followup"
	"github.com/juliahq/followpipe/internal/store"
)

// DefaultAddr is the address the API server binds to when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful shutdown on Stop.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address for the API server.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server wires the follow-up services behind HTTP handlers.
type Server struct {
	st       store.Store
	configs  *followup.ConfigService
	sweeper  *followup.Sweeper
	promoter *followup.Promoter
	pause    *followup.PauseService
	addr     string
	httpSrv  *http.Server
}

// NewServer creates an API server backed by the given store. The follow-up
// services exposed over HTTP are constructed here so callers only hand over
// storage.
func NewServer(st store.Store, opts ...Option) *Server {
	options := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&options)
	}
	return &Server{
		st:       st,
		configs:  followup.NewConfigService(st),
		sweeper:  followup.NewSweeper(st),
		promoter: followup.NewPromoter(st),
		pause:    followup.NewPauseService(st),
		addr:     options.Addr,
	}
}

// Handler returns the routed http.Handler for the API surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/followup/configs", s.configsHandler)
	mux.HandleFunc("/followup/configs/", s.configByIDHandler)
	mux.HandleFunc("/followup/cleanup", s.cleanupHandler)
	mux.HandleFunc("/followup/promote", s.promoteHandler)
	mux.HandleFunc("/followup/history", s.historyHandler)
	mux.HandleFunc("/followup/executions", s.executionsHandler)
	mux.HandleFunc("/agents/", s.agentsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until it stops serving.
func (s *Server) Run() error {
	s.httpSrv = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	slog.Info("Server.Run: API server listening", "addr", s.addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Stop: shutting down API server")
	return s.httpSrv.Shutdown(ctx)
}
