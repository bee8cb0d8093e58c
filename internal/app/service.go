// Package app composes the relay service: the monitor pipeline behind
// HTTP and NATS profile intake, with ordered startup and shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"perfmonitor/internal/ingest"
	"perfmonitor/internal/logging"
	"perfmonitor/monitor"
)

const (
	profilesPath = "/v1/profiles"
	healthPath   = "/healthz"
	readyPath    = "/readyz"

	shutdownTimeout = 10 * time.Second
)

// Service composes runtime dependencies and process lifecycle.
// Params: monitor pipeline, HTTP server, and optional NATS intake.
// Returns: runnable relay service.
type Service struct {
	cfg       monitor.Config
	server    ServerConfig
	logger    *slog.Logger
	closeLog  func()
	mon       *monitor.Monitor
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
}

// NewService builds the relay from one config file.
// Params: config file path; empty path runs on defaults and env.
// Returns: initialized service or setup error with partial resources
// cleaned up.
func NewService(configPath string) (*Service, error) {
	cfg, err := monitor.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	server, err := LoadServerConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	mon, err := monitor.New(cfg, monitor.WithLogger(logger))
	if err != nil {
		closeLog()
		return nil, err
	}

	service := &Service{
		cfg:      cfg,
		server:   server,
		logger:   logger,
		closeLog: closeLog,
		mon:      mon,
	}
	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	return service, nil
}

// Run starts the relay and blocks until a shutdown signal or a fatal
// server error.
// Params: root context; cancellation triggers shutdown.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.server.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order: intake stops
// first so nothing new enters the pipeline, then the monitor drains.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats intake close failed", "error", err.Error())
			markErr(fmt.Errorf("nats intake close: %w", err))
		}
	}
	if err := s.mon.Close(); err != nil {
		s.logger.Error("monitor close failed", "error", err.Error())
		markErr(fmt.Errorf("monitor close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources after a
// startup failure.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.mon != nil {
		_ = s.mon.Close()
		s.mon = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the intake and health endpoints.
// Params: none.
// Returns: none; the server starts in Run.
func (s *Service) buildHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(readyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(profilesPath, ingest.NewHTTPHandler(s.mon, s.server.MaxBodyBytes))

	s.httpSrv = &http.Server{
		Addr:              s.server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildNATSSubscriber starts the NATS intake when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.server.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.server.ingestNATSConfig(), s.mon, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	s.logger.Info("nats intake started",
		"subject", s.server.NATS.Subject,
		"stream", s.server.NATS.Stream,
		"deliver_group", s.server.NATS.DeliverGroup)
	return nil
}

// Handler exposes the relay HTTP handler. Used by tests.
// Params: none.
// Returns: the composed mux.
func (s *Service) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Monitor exposes the underlying pipeline. Used by tests.
// Params: none.
// Returns: the service monitor.
func (s *Service) Monitor() *monitor.Monitor {
	return s.mon
}

// MarkReady flips the readiness probe. Used by tests driving the
// handler directly without Run.
// Params: ready flag value.
// Returns: none.
func (s *Service) MarkReady(ready bool) {
	s.readyFlag.Store(ready)
}
