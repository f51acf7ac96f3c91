// Package server implements the validation HTTP collaborator (§6): the
// one external-facing API the core engine depends on, plus the process's
// /health and /metrics endpoints. It follows the teacher's own
// pkg/server habit of a plain http.ServeMux with one handler struct per
// concern, rather than a router dependency.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server is the process's HTTP surface: specification validation,
// liveness and Prometheus scraping.
type Server struct {
	http *http.Server
}

// New builds a Server bound to addr. validation handles
// POST /specifications/validations.
func New(addr string, validation *ValidationHandler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/specifications/validations", validation.HandleValidate)
	mux.HandleFunc("/openapi.json", handleOpenAPI)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           requestLogger(logger, mux),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Run starts serving and blocks until ctx is cancelled, at which point it
// shuts the server down gracefully (§6/§7: a top-level component failure
// must not leave in-flight requests hanging, but it also must not block
// shutdown forever).
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
			return
		}
		errs <- nil
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
