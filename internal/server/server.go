// Package server exposes the scrape orchestrator, the result store and the
// webhook agents over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/FranksOps/vaxscrape/internal/agent"
	"github.com/FranksOps/vaxscrape/internal/metrics"
	"github.com/FranksOps/vaxscrape/internal/pipeline"
	"github.com/FranksOps/vaxscrape/internal/storage"
)

// Runner is the orchestrator surface the server needs.
type Runner interface {
	Start(ctx context.Context, opts pipeline.Options) (*pipeline.RunSummary, error)
	StartAsync(ctx context.Context, opts pipeline.Options) (string, error)
	Stats() pipeline.Stats
}

// AgentHandler processes one webhook envelope.
type AgentHandler interface {
	Handle(ctx context.Context, env agent.Envelope) error
}

// Config wires the server.
type Config struct {
	Runner     Runner
	Store      *storage.Store
	ResultsDir string
	// MasterFile is hidden from the batch listing.
	MasterFile string
	Version    string

	// Profiler and RAG may be nil; their routes then answer 503.
	Profiler AgentHandler
	RAG      AgentHandler

	// BaseContext is the parent of async runs. It should outlive requests.
	BaseContext context.Context

	Logger *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg    Config
	router chi.Router
	logger *slog.Logger
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = "results"
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/scrape", s.handleScrape)
	r.Get("/results", s.handleListResults)
	r.Get("/results/{filename}", s.handleResult)
	r.Get("/database", s.handleDatabase)
	r.Get("/report", s.handleReport)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/agents", func(r chi.Router) {
		r.Post("/profile", s.agentHandler("profile_sent", func() AgentHandler { return s.cfg.Profiler }))
		r.Post("/rag", s.agentHandler("rag_response_sent", func() AgentHandler { return s.cfg.RAG }))
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, readTimeout, shutdownTimeout)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, readTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// requestLogger logs one line per request with slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
					"remote", r.RemoteAddr,
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure is the body for structural failures.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error":     msg,
		"status":    "failed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
