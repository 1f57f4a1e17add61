package server

import (
	"benritz/dtd/internal/calc"
	"benritz/dtd/internal/config"
	"benritz/dtd/internal/metrics"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
)

// Server exposes the calculator over HTTP: an upload page, a JSON API and
// health and metrics endpoints.
type Server struct {
	calc     *calc.Calculator
	cfg      config.ServerConfig
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	router   chi.Router
}

// New creates the server. gatherer may be nil, in which case /metrics is not
// served.
func New(c *calc.Calculator, cfg config.ServerConfig, logger *slog.Logger, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		calc:     c,
		cfg:      cfg,
		logger:   logger,
		gatherer: gatherer,
	}
	s.router = s.routes()

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))

	r.Get("/health", s.health)

	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit.Enabled {
			r.Use(newRateLimiter(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.logger).Handler)
		}

		r.Get("/", s.uploadPage)
		r.Post("/", s.uploadForm)

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Post("/dtd", s.calculate)
			r.Post("/dtd/upload", s.calculateUpload)
		})
	})

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server started", "address", s.cfg.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("server shutting down")

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
