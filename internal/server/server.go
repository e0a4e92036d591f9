// Package server wires the dispatcher into an HTTP server.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"modtile/internal/handler"
	"modtile/internal/stats"
)

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-ID"

// Server 瓦片服务
type Server struct {
	http     *http.Server
	log      logrus.FieldLogger
	shutdown time.Duration
}

// NewRouter routes /metrics to Prometheus and everything else to the dispatcher.
func NewRouter(d *handler.Dispatcher, recorder *stats.Recorder, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID(log))
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{}))
	r.Method(http.MethodGet, "/*", d)
	r.Method(http.MethodHead, "/*", d)
	return r
}

// requestID assigns a short id to every request unless the client sent one.
func requestID(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				var err error
				if id, err = shortid.Generate(); err != nil {
					log.Warnf("generate request id: %v", err)
				}
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(handler.WithRequestID(r.Context(), id)))
		})
	}
}

// New creates a server listening on addr.
func New(addr string, h http.Handler, shutdown time.Duration, log logrus.FieldLogger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log:      log,
		shutdown: shutdown,
	}
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.log.Infof("listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Errorf("shutdown: %v", err)
	}
}
