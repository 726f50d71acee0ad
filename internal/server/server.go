package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shiftsync/shiftsync/internal/auth"
	"github.com/shiftsync/shiftsync/internal/core/merge"
	"github.com/shiftsync/shiftsync/internal/core/observability/log"
	"github.com/shiftsync/shiftsync/internal/core/store"
)

// Server wires the document store, the merge resolver, the realtime hub and
// the HTTP surface into one process.
type Server struct {
	config Config
	logger log.Log

	docs   store.DocumentStore
	hub    *Hub
	http   *http.Server
	bridge *RedisBridge

	running int32 // atomic bool
	closed  int32 // atomic bool
}

// NewServer creates a server over the given document store.
func NewServer(config Config, docs store.DocumentStore, logger log.Log) *Server {
	if logger == nil {
		logger = log.New(config.LogLevel)
	}
	logger = logger.With(log.String("component", "server"))

	verifier := auth.NewVerifier([]byte(config.TokenSecret))
	hub := NewHub(config, verifier, logger)
	resolver := merge.NewResolver(docs, logger)
	httpServer := NewHTTPServer(resolver, docs, hub, verifier, logger)

	s := &Server{
		config: config,
		logger: logger,
		docs:   docs,
		hub:    hub,
		http: &http.Server{
			Addr:              config.ListenAddr,
			Handler:           httpServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	if config.RedisAddr != "" {
		s.bridge = NewRedisBridge(config.RedisAddr, config.RedisChannel,
			uuid.NewString(), hub, logger)
	}

	return s
}

// Start begins serving. It returns once the listener is up; serving
// continues until Stop.
func (s *Server) Start(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	s.logger.Info("starting server", log.String("listen_addr", s.config.ListenAddr))

	g, gctx := errgroup.WithContext(ctx)
	if s.bridge != nil {
		g.Go(func() error { return s.bridge.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		atomic.StoreInt32(&s.running, 0)
		return err
	}

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", log.Error(err))
		}
	}()

	s.logger.Info("server started")
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("stopping server")

	if s.bridge != nil {
		s.bridge.Stop()
	}
	s.hub.Close()

	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}

	s.logger.Info("server stopped")
	return nil
}

// Close releases all resources.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil // already closed
	}
	if atomic.LoadInt32(&s.running) == 1 {
		_ = s.Stop(context.Background())
	}
	return nil
}

// Hub exposes the event hub for tests and embedders.
func (s *Server) Hub() *Hub { return s.hub }
