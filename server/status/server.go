// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package status serves liveness, readiness and live progress of a benchmark run
// over HTTP.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Config holds status server configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Snapshot is the live progress of a run.
type Snapshot struct {
	RunID         string  `json:"run_id"`
	Phase         string  `json:"phase"`
	Sender        string  `json:"sender"`
	Receiver      string  `json:"receiver"`
	Generated     uint64  `json:"generated"`
	Sent          uint64  `json:"sent"`
	Failed        uint64  `json:"failed"`
	Retries       uint64  `json:"retries"`
	Received      uint64  `json:"received"`
	ReceiveErrors uint64  `json:"receive_errors"`
	PublishRate   float64 `json:"publish_rate_mps"`
	ReceiveRate   float64 `json:"receive_rate_mps"`
	ElapsedMS     int64   `json:"elapsed_ms"`
}

// Source reports the state of the run being served.
type Source interface {
	Snapshot() Snapshot
	// Running reports whether messages are being sent or received.
	Running() bool
}

// Server provides health and progress endpoints.
type Server struct {
	config Config
	source Source
	logger *slog.Logger
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new status server.
func New(cfg Config, src Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		config: cfg,
		source: src,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Addr returns the listener's network address, or an empty string before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Starting status server", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Status server shutdown error", "error", err)
			return err
		}

		s.logger.Info("Status server stopped")
		return nil
	}
}

// HealthResponse represents the liveness probe response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents the readiness probe response.
type ReadyResponse struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleReady answers 200 only while a run is in progress.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Details: "no run attached"})
		return
	}
	if !s.source.Running() {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Details: s.source.Snapshot().Phase})
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Details: "no run attached"})
		return
	}
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
