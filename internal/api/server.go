package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/medprice/internal/browser"
	"github.com/JakeFAU/medprice/internal/history"
	"github.com/JakeFAU/medprice/internal/metrics"
	"github.com/JakeFAU/medprice/internal/retrieval"
)

// Searcher runs searches. *retrieval.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, keyword string, overrides map[string]bool) (retrieval.Response, error)
	SearchSource(ctx context.Context, src retrieval.Source, keyword string) (retrieval.Response, error)
}

// HistoryReader lists recent searches. *history.Recorder satisfies it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Row, error)
}

// BrowserAdmin exposes the shared browser to operators. *browser.Manager
// satisfies it.
type BrowserAdmin interface {
	Status() browser.Status
	Reset() error
}

// Config wires the Server.
type Config struct {
	Searcher Searcher
	History  HistoryReader
	Browser  BrowserAdmin
	Logger   *zap.Logger
	// APIKey guards /admin. Admin routes are not mounted without one.
	APIKey         string
	FrontendURL    string
	Environment    string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the search service.
type Server struct {
	router   chi.Router
	searcher Searcher
	history  HistoryReader
	browser  BrowserAdmin
	logger   *zap.Logger
	env      string
}

const defaultRequestTimeout = 90 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	s := &Server{
		searcher: cfg.Searcher,
		history:  cfg.History,
		browser:  cfg.Browser,
		logger:   cfg.Logger,
		env:      cfg.Environment,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.env == "" {
		s.env = "development"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(corsMiddleware(cfg.FrontendURL))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.apiHealth)
		r.Post("/search", s.search)
		r.Post("/apollo-search", s.search)
		r.Post("/pharmeasy-typeahead", s.sourceSearchFor(retrieval.SourcePharmEasy))
		r.Post("/sources/{source}/search", s.sourceSearch)
		r.Get("/searches", s.searches)
	})

	if cfg.APIKey != "" && cfg.Browser != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(apiKeyMiddleware(cfg.APIKey))
			r.Get("/browser", s.browserStatus)
			r.Post("/browser/restart", s.browserRestart)
		})
	}

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

var (
	localhostOrigin = regexp.MustCompile(`^http://localhost:\d+$`)
	vercelOrigin    = regexp.MustCompile(`^https://.*\.vercel\.app$`)
)

// AllowOrigin reports whether a browser origin may call the API: any
// localhost port, the configured front-end, and Vercel preview deployments.
func AllowOrigin(frontendURL, origin string) bool {
	switch {
	case origin == "":
		return true
	case localhostOrigin.MatchString(origin):
		return true
	case frontendURL != "" && origin == frontendURL:
		return true
	default:
		return vercelOrigin.MatchString(origin)
	}
}

func corsMiddleware(frontendURL string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowOriginFunc:  func(origin string) bool { return AllowOrigin(frontendURL, origin) },
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key"},
		AllowCredentials: true,
	}).Handler
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"success":false,"error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
