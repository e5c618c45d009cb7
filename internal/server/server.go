package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gPlorovg/sayo-captions/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type Pipeline interface {
	Content() string
	Snapshot() session.Snapshot
	Connect() bool
	Disconnect() bool
	Resize(maxLines, maxCharsPerLine int)
}

type Server struct {
	pipeline Pipeline
	checkers []Checker
	registry prometheus.Gatherer
	mux      *http.ServeMux
}

func New(pipeline Pipeline, registry prometheus.Gatherer, checkers ...Checker) *Server {
	s := &Server{
		pipeline: pipeline,
		checkers: append([]Checker(nil), checkers...),
		registry: registry,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /caption", s.caption)
	s.mux.HandleFunc("GET /status", s.status)
	s.mux.HandleFunc("POST /connect", s.connect)
	s.mux.HandleFunc("POST /disconnect", s.disconnect)
	s.mux.HandleFunc("POST /resize", s.resize)
	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.HandleFunc("GET /readyz", s.readyz)
	if registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	slog.Info("http server stopped")
	return nil
}

func (s *Server) caption(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(s.pipeline.Content()))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Snapshot())
}

func (s *Server) connect(w http.ResponseWriter, _ *http.Request) {
	if !s.pipeline.Connect() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already connected or connecting"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting"})
}

func (s *Server) disconnect(w http.ResponseWriter, _ *http.Request) {
	if !s.pipeline.Disconnect() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "not connected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) resize(w http.ResponseWriter, r *http.Request) {
	snap := s.pipeline.Snapshot()
	lines, err := positiveQuery(r, "lines", snap.MaxLines)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	chars, err := positiveQuery(r, "chars", snap.MaxCharsPerLine)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.pipeline.Resize(lines, chars)
	writeJSON(w, http.StatusOK, map[string]int{"max_lines": lines, "max_chars_per_line": chars})
}

func positiveQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
