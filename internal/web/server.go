// Package web provides the HTTP surface of the ingestion service: the
// upload-event intake and the read-only job and table endpoints.
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/quarrydata/quarry/internal/job"
	"github.com/quarrydata/quarry/internal/load"
	"github.com/quarrydata/quarry/internal/pipeline"
)

// Enqueuer accepts upload events for asynchronous processing.
// *pipeline.Pipeline satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev pipeline.Event) (*job.Job, error)
}

// JobReader is the read side of the job store.
type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)
	Recent(ctx context.Context, limit int) ([]*job.Job, error)
}

// Catalog is the read side of the loaded tables. *load.Loader satisfies it.
type Catalog interface {
	ListTables(ctx context.Context) ([]load.TableInfo, error)
	FetchRows(ctx context.Context, name string, limit int) ([]map[string]any, error)
}

// Options tune the HTTP layer.
type Options struct {
	// RateLimitPerMinute caps requests per client IP per minute.
	// Zero disables rate limiting.
	RateLimitPerMinute int

	// HealthCheck, when set, is probed by /healthz (typically the database
	// pool's Ping). A failing check turns the endpoint 503.
	HealthCheck func(ctx context.Context) error
}

// Server is the HTTP server for the ingestion API.
type Server struct {
	enqueuer Enqueuer
	jobs     JobReader
	catalog  Catalog
	opts     Options
	router   *chi.Mux
	server   *http.Server
}

// NewServer wires the API routes around the given collaborators.
func NewServer(enqueuer Enqueuer, jobs JobReader, catalog Catalog, opts Options) *Server {
	s := &Server{
		enqueuer: enqueuer,
		jobs:     jobs,
		catalog:  catalog,
		opts:     opts,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.opts.RateLimitPerMinute > 0 {
		limiter := newRateLimiter(s.opts.RateLimitPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/events", s.handleEvent)

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)

		r.Get("/tables", s.handleListTables)
		r.Get("/tables/{name}/rows", s.handleTableRows)
	})
}

// Start begins listening for HTTP requests and blocks until the listener
// closes.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// rateLimiter is a fixed-window request limiter per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	go rl.cleanup()
	return rl
}

// cleanup drops idle visitor entries every minute.
func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists || time.Since(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: time.Now()}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// RealIP middleware has already rewritten RemoteAddr when the
		// request carries forwarding headers.
		if !rl.allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "60")
			respondError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
