package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/queueflow/internal/runtime/jsoncodec"
	"github.com/drblury/queueflow/internal/runtime/logging"
)

const DefaultStatusPort = 8081

// StatusSource is what the status server reports on. Supervisor and
// InlineConsumer both implement it.
type StatusSource interface {
	Snapshot() []WorkerStatus
	Handlers() map[string][]string
}

// StatusConfig configures the status HTTP server.
type StatusConfig struct {
	Port               int
	CORSAllowedOrigins []string
	Source             StatusSource
	Metrics            *Metrics
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   logging.ServiceLogger
}

// StatusServer serves worker, handler and metrics information over HTTP.
type StatusServer struct {
	cfg    StatusConfig
	mux    *http.ServeMux
	mu     sync.Mutex
	server *http.Server
}

func NewStatusServer(cfg StatusConfig) *StatusServer {
	if cfg.Port == 0 {
		cfg.Port = DefaultStatusPort
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &StatusServer{cfg: cfg, mux: http.NewServeMux()}
	s.mux.Handle("/api/workers", s.jsonHandler(func() any { return s.workers() }))
	s.mux.Handle("/api/handlers", s.jsonHandler(func() any { return s.handlers() }))
	s.mux.Handle("/api/stats", s.jsonHandler(func() any { return s.cfg.Metrics.Snapshot() }))
	s.mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *StatusServer) Handler() http.Handler { return s.mux }

// Start listens on the configured port and serves in the background.
func (s *StatusServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status server listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logError("status server stopped", err, logging.LogFields{"address": addr})
		}
	}()
	return nil
}

// Shutdown stops the server if it was started.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *StatusServer) workers() []WorkerStatus {
	if s.cfg.Source == nil {
		return []WorkerStatus{}
	}
	st := s.cfg.Source.Snapshot()
	if st == nil {
		return []WorkerStatus{}
	}
	return st
}

func (s *StatusServer) handlers() map[string][]string {
	if s.cfg.Source == nil {
		return map[string][]string{}
	}
	return s.cfg.Source.Handlers()
}

func (s *StatusServer) jsonHandler(payload func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if len(s.cfg.CORSAllowedOrigins) > 0 {
			if allowed := s.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
		}

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodGet, http.MethodHead:
		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := jsoncodec.Encode(w, payload()); err != nil {
			s.logError("failed to encode status response", err, logging.LogFields{"path": r.URL.Path})
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for the
// request origin, or "" when it is not allowed.
func (s *StatusServer) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.cfg.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

func (s *StatusServer) logError(msg string, err error, fields logging.LogFields) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Error(msg, err, fields)
	}
}
