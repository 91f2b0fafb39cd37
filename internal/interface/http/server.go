// Package http is the optional ops endpoint of the bot: health checks,
// metrics, a read-only view of the standings and an authenticated sync
// trigger.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/scheduler"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/http/handlers"
	"github.com/JunyuanChen/SonnyBot-ng/internal/interface/telegram/middleware"
)

// Config of the ops server.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxLeaderboard caps the limit parameter of the leaderboard endpoint.
	MaxLeaderboard int

	// APIKeys unlock the admin endpoints, presented in APIKeyHeader or as a
	// bearer token. Without keys the admin endpoints are not served.
	APIKeyHeader string
	APIKeys      []string
}

// DefaultConfig listens on port 8080 of every interface.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   90 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxLeaderboard: 50,
		APIKeyHeader:   "X-API-Key",
	}
}

// Address is the host:port to listen on.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Syncer flushes pending changes and reloads the store from its remote.
type Syncer interface {
	Handle(ctx context.Context) error
}

// MetricsSource reports the command metrics of the chat bot.
type MetricsSource interface {
	Metrics() middleware.MetricsSnapshot
}

// JobLister reports the scheduled jobs.
type JobLister interface {
	ListJobs() []scheduler.JobInfo
}

// Dependencies of the server. Every field is optional; endpoints without
// their dependency answer 501.
type Dependencies struct {
	Leaderboard *query.LeaderboardHandler
	Stat        *query.StatHandler
	Sync        Syncer

	Health  handlers.HealthChecker
	Metrics MetricsSource
	Jobs    JobLister

	Logger *slog.Logger
}

// Server serves the ops endpoints.
type Server struct {
	config     Config
	deps       Dependencies
	logger     *slog.Logger
	router     *http.ServeMux
	httpServer *http.Server

	mu        sync.RWMutex
	listener  net.Listener
	startedAt time.Time
}

// NewServer builds the routes and middleware. Nothing listens until Start.
func NewServer(config Config, deps Dependencies) *Server {
	defaults := DefaultConfig()
	if config.MaxLeaderboard <= 0 {
		config.MaxLeaderboard = defaults.MaxLeaderboard
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = defaults.APIKeyHeader
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("component", "http"),
		router:    http.NewServeMux(),
		startedAt: time.Now(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /{$}", s.handleRoot)
	for _, path := range []string{"/health", "/healthz"} {
		s.router.HandleFunc("GET "+path, s.handleHealth)
	}
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)
	s.router.HandleFunc("GET /metrics", s.handleMetrics)

	s.router.HandleFunc("GET /api/v1/leaderboard", s.handleGetLeaderboard)
	s.router.HandleFunc("GET /api/v1/users/{id}", s.handleGetUser)

	if len(s.config.APIKeys) > 0 {
		auth := handlers.RequireAPIKey(s.config.APIKeyHeader, s.config.APIKeys)
		s.router.Handle("POST /api/v1/admin/sync", auth(http.HandlerFunc(s.handleSync)))
	}
}

// Handler returns the routes behind panic recovery, request IDs, access
// logging and security headers, outermost first.
func (s *Server) Handler() http.Handler {
	return handlers.Chain(
		s.recoverPanics,
		withRequestID,
		s.logRequests,
		handlers.SecureHeaders,
	)(s.router)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// quietPaths are logged at debug level.
var quietPaths = map[string]bool{
	"/health": true, "/healthz": true, "/ready": true, "/live": true, "/metrics": true,
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if quietPaths[r.URL.Path] {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic recovered",
					slog.Any("error", v),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a graceful shutdown, including one that came first.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address(), err)
	}

	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		ln.Close()
		return errors.New("server already running")
	}
	s.listener = ln
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", slog.String("address", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests until
// ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the address being served, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Uptime is the time since Start, or since NewServer before that.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return defaultValue
}

func parseUserID(r *http.Request) (user.ID, bool) {
	id, err := user.ParseID(r.PathValue("id"))
	return id, err == nil
}
