package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"sitehook/internal/config"
	"sitehook/internal/deployment"
	"sitehook/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// HTTP server timeouts. The webhook handler lifts the write timeout for
	// its own response.
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second
)

// Server represents the HTTP server
type Server struct {
	Config   *config.Config
	Deployer deployment.Deployer
	Notifier notify.Notifier
	Logger   *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new server instance. A nil notifier disables commit
// status reporting.
func NewServer(cfg *config.Config, deployer deployment.Deployer, notifier notify.Notifier, logger *slog.Logger) *Server {
	if notifier == nil {
		notifier = notify.Noop{}
	}

	return &Server{
		Config:   cfg,
		Deployer: deployer,
		Notifier: notifier,
		Logger:   logger,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"request_id", middleware.GetReqID(r.Context()),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, r)
		})
	})

	if s.Config.GlobalRateLimit > 0 {
		r.Use(NewRateLimitMiddleware(s.Config.GlobalRateLimit, s.Logger))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusNotFound, errorResponse("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondJSON(w, http.StatusMethodNotAllowed, errorResponse("Method not allowed"))
	})

	// Routes
	r.Get("/", s.HandleIndex)
	r.Get("/health", s.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Webhook route with its own rate limit
	if s.Config.WebhookRateLimit > 0 {
		r.With(NewWebhookRateLimitMiddleware(s.Config.WebhookRateLimit, s.Logger)).Post("/webhook", s.HandleWebhook)
	} else {
		r.Post("/webhook", s.HandleWebhook)
	}

	return r
}

// Start listens on the configured address and serves until Shutdown is
// called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server", "addr", addr)

	srv := s.newHTTPServer(addr)
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) newHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}
}

// Shutdown stops accepting connections and waits for in-flight requests,
// and therefore any running deployment, to finish or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.Logger.Info("Shutting down server")
	return srv.Shutdown(ctx)
}
