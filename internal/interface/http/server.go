// Package http serves the read-only schedule status API, the manual refresh
// trigger, health checks and Prometheus metrics.
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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/busroute-hub/stopfinder-bridge/internal/application/coordinator"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/external/stopfinder"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/scheduler"
	"github.com/busroute-hub/stopfinder-bridge/internal/interface/http/handlers"
	"github.com/busroute-hub/stopfinder-bridge/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string

	// RateLimitPerMinute per client IP; 0 disables limiting.
	RateLimitPerMinute int

	// APIKeys protect POST /api/v1/refresh when non-empty.
	APIKeys []string

	// RefreshTimeout bounds a refresh started from the API.
	RefreshTimeout time.Duration

	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		RateLimitPerMinute: 120,
		RefreshTimeout:     time.Minute,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// StateProvider exposes the published coordinator state.
type StateProvider interface {
	State() *coordinator.State
}

// Refresher triggers one refresh cycle and returns its error.
// shared.ErrRefreshInFlight means another cycle is running.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// JobLister lists scheduler jobs.
type JobLister interface {
	ListJobs() []scheduler.JobInfo
}

// UpstreamReporter exposes the pacing and circuit state of the upstream client.
type UpstreamReporter interface {
	Status() stopfinder.ClientStatus
}

// RequestObserver counts served requests.
type RequestObserver interface {
	ObserveHTTP(method, route string, status int)
}

// Dependencies contains everything the handlers need. Only State is required.
type Dependencies struct {
	State     StateProvider
	Refresher Refresher
	Runs      schedule.RunRepository
	Jobs      JobLister
	Upstream  UpstreamReporter
	AccountID string

	HealthChecker  handlers.HealthChecker
	MetricsHandler http.Handler
	Observer       RequestObserver

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *slog.Logger
	apiKeys    *handlers.APIKeyAuth
	limiter    *clientLimiter

	mu        sync.RWMutex
	running   bool
	draining  bool
	startedAt time.Time
	wg        sync.WaitGroup
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = time.Minute
	}

	s := &Server{
		config:  config,
		deps:    deps,
		router:  http.NewServeMux(),
		logger:  deps.Logger.With("component", "http"),
		apiKeys: handlers.NewAPIKeyAuth("X-API-Key", config.APIKeys),
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = newClientLimiter(config.RateLimitPerMinute)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              config.Address(),
		Handler:           s.Handler(),
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// Health
	s.handle("GET /health", s.handleHealth)
	s.handle("GET /healthz", s.handleHealth)
	s.handle("GET /ready", s.handleReady)
	s.handle("GET /live", s.handleLive)
	s.handle("GET /{$}", s.handleRoot)

	// API v1
	s.handle("GET /api/v1/state", s.handleGetState)
	s.handle("GET /api/v1/students", s.handleListStudents)
	s.handle("GET /api/v1/students/{id}", s.handleGetStudent)
	s.handle("GET /api/v1/runs", s.handleListRuns)
	s.handle("GET /api/v1/jobs", s.handleListJobs)
	s.router.Handle("POST /api/v1/refresh", handlers.Chain(
		http.HandlerFunc(s.handleRefresh),
		s.apiKeys.Middleware,
		handlers.RequestSizeLimitMiddleware(1<<10),
	))

	if s.deps.MetricsHandler != nil {
		s.router.Handle("GET /metrics", s.deps.MetricsHandler)
	}
}

func (s *Server) handle(pattern string, fn http.HandlerFunc) {
	s.router.HandleFunc(pattern, fn)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []handlers.MiddlewareFunc{
		s.recoveryMiddleware,
		s.corsMiddleware,
	}
	if s.limiter != nil {
		middlewares = append(middlewares, s.rateLimitMiddleware)
	}
	middlewares = append(middlewares,
		s.requestIDMiddleware,
		s.loggingMiddleware,
		handlers.SecurityHeadersMiddleware,
		handlers.NoCacheMiddleware,
	)
	return handlers.Chain(s.router, middlewares...)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		ctx = logger.WithAttrs(ctx, slog.String("request_id", requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		if s.deps.Observer != nil {
			s.deps.Observer.ObserveHTTP(r.Method, route, rw.statusCode)
		}

		level := slog.LevelInfo
		if r.URL.Path == "/live" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", getClientIP(r),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(getClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "address", s.config.Address())

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown drains connections and waits for refreshes started by the API.
// Refresh requests arriving after this point are turned away.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	var err error
	if wasRunning {
		s.logger.Info("shutting down HTTP server")
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSONWithMeta(w, r, status, data, nil)
}

func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: getRequestID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Meta:    &ResponseMeta{Timestamp: time.Now().UTC()},
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER TYPES AND FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyRequestID contextKey = "request_id"

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getQueryParamBool(r *http.Request, key string) bool {
	value := strings.ToLower(r.URL.Query().Get(key))
	return value == "true" || value == "1" || value == "yes"
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client IP.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	limit   rate.Limit
	burst   int
	sweep   time.Time
}

func newClientLimiter(perMinute int) *clientLimiter {
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		clients: make(map[string]*clientEntry),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		sweep:   time.Now(),
	}
}

func (l *clientLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.sweep) > 5*time.Minute {
		for k, e := range l.clients {
			if now.Sub(e.lastSeen) > 5*time.Minute {
				delete(l.clients, k)
			}
		}
		l.sweep = now
	}

	entry, ok := l.clients[key]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
