package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ServerConfig mirrors the http section of the service configuration.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Server runs an http.Server until it is stopped.
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
	addr            string
	ln              net.Listener
	errCh           chan error
}

// NewServer prepares a server for h. Nothing listens until Start.
func NewServer(cfg ServerConfig, h http.Handler) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 5 * time.Second
	}
	return &Server{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		shutdownTimeout: shutdown,
		logger:          logger,
		errCh:           make(chan error, 1),
	}
}

// Start binds the listen address and serves in the background. A bind
// failure is returned directly; later serve failures arrive on Err.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.server.Addr, err)
	}
	s.ln, s.addr = ln, ln.Addr().String()
	s.logger.Info("api: listening", slog.String("addr", s.addr))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() string { return s.addr }

// Err is closed when the server stops and carries any serve failure.
func (s *Server) Err() <-chan error { return s.errCh }

// Stop drains in-flight requests for at most the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	if s.ln == nil {
		return err
	}
	// Shutdown closed the listener, so Serve returns and closes errCh.
	for srvErr := range s.errCh {
		err = errors.Join(err, srvErr)
	}
	return err
}
