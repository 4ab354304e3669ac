// Package server provides the HTTP API for triggering carousel generation,
// polling job status and browsing generated posts.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/jonathan/carousel-generator/internal/db"
	"github.com/jonathan/carousel-generator/internal/generator"
	"github.com/jonathan/carousel-generator/internal/jobs"
	"github.com/jonathan/carousel-generator/internal/observability"
	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/server/ratelimit"
	"github.com/jonathan/carousel-generator/internal/storage"
)

// Runner executes one batch. *generator.Generator satisfies it.
type Runner interface {
	Run(ctx context.Context, req generator.Request) (*pipeline.BatchSummary, error)
	Style() *generator.Style
}

// PostStore reads saved posts. *storage.FileStore satisfies it.
type PostStore interface {
	ListPosts() ([]storage.PostSummary, error)
	LoadPost(postID string) (*storage.PostDetail, error)
	BasePath() string
}

// ArtifactLister reads stored step outputs. *db.DB satisfies it.
type ArtifactLister interface {
	ListArtifacts(ctx context.Context, postID string) ([]db.ArtifactRow, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	runner      Runner
	tracker     *jobs.Tracker
	posts       PostStore
	artifacts   ArtifactLister
	database    Pinger
	rateLimiter *ratelimit.Limiter
	validate    *validator.Validate
	logger      zerolog.Logger

	streamInterval time.Duration
	maxPosts       int
}

// Config holds server configuration
type Config struct {
	Port    int
	Runner  Runner
	Tracker *jobs.Tracker
	Posts   PostStore
	// Artifacts and Database are optional.
	Artifacts ArtifactLister
	Database  Pinger
	RateLimit *ratelimit.Config
	Logger    zerolog.Logger
	// StreamInterval is how often /status/{job_id}/stream polls the tracker.
	StreamInterval time.Duration
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil || cfg.Tracker == nil {
		return nil, errors.New("server: runner and tracker are required")
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = time.Second
	}
	if cfg.RateLimit == nil {
		rl, err := ratelimit.LoadConfig()
		if err != nil {
			return nil, err
		}
		cfg.RateLimit = rl
	}

	s := &Server{
		runner:         cfg.Runner,
		tracker:        cfg.Tracker,
		posts:          cfg.Posts,
		artifacts:      cfg.Artifacts,
		database:       cfg.Database,
		rateLimiter:    ratelimit.NewLimiter(cfg.RateLimit),
		validate:       validator.New(),
		logger:         cfg.Logger.With().Str("component", "server").Logger(),
		streamInterval: cfg.StreamInterval,
		maxPosts:       generator.MaxBatchSize,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open until the job finishes
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("POST /generate_from_text", s.handleGenerateFromText)
	mux.HandleFunc("GET /status/{job_id}", s.handleStatus)
	mux.HandleFunc("GET /status/{job_id}/stream", s.handleStatusStream)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /style", s.handleGetStyle)
	mux.HandleFunc("POST /update-style", s.handleUpdateStyle)
	mux.HandleFunc("GET /posts", s.handleListPosts)
	mux.HandleFunc("GET /posts/{post_id}", s.handleGetPost)
	mux.HandleFunc("GET /posts/{post_id}/artifacts", s.handlePostArtifacts)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.posts != nil {
		mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(s.posts.BasePath()))))
	}

	var h http.Handler = mux
	h = s.withRateLimit(h)
	h = s.withCORS(h)
	h = middleware.Recoverer(h)
	h = observability.RequestLogger(s.logger)(h)
	h = middleware.RealIP(h)
	h = middleware.RequestID(h)
	return h
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.rateLimiter.Stop()
	s.logger.Info().Msg("server stopped")
	return nil
}

// Close releases background resources without serving.
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(extractClientID(r), r.Method, r.URL.Path)
		setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractClientID extracts the client identifier from the request. RealIP
// has already replaced RemoteAddr when a proxy header was present.
func extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = secs
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	}

	s.logger.Warn().
		Str("client", extractClientID(r)).
		Str("path", r.URL.Path).
		Int("limit", info.Limit).
		Msg("rate limit exceeded")

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("error encoding JSON response")
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// writeError maps err to a status code and writes it.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
		s.errorResponse(w, status, "internal server error")
		return
	}
	s.errorResponse(w, status, err.Error())
}
