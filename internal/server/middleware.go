package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/time/rate"
)

// Problem is an RFC 7807 error body.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (p *Problem) Render(_ http.ResponseWriter, r *http.Request) error {
	p.RequestID = middleware.GetReqID(r.Context())
	render.Status(r, p.Status)
	return nil
}

func newProblem(status int, kind, detail string) *Problem {
	return &Problem{
		Type:   "/errors/" + kind,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// requestLogger logs one line per completed request. It must come after
// middleware.RequestID.
func requestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "request completed",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			)
		})
	}
}

func recoverer(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}

					logger.ErrorContext(r.Context(), "panic recovered",
						"request_id", middleware.GetReqID(r.Context()),
						"panic", rvr,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path,
					)

					_ = render.Render(w, r, newProblem(http.StatusInternalServerError, "internal-server-error", "An unexpected error occurred"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type rateLimiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newRateLimiter(rps float64, burst int, logger *slog.Logger) *rateLimiter {
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

func (rl *rateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter.Allow() {
			rl.logger.WarnContext(r.Context(), "rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			w.Header().Set("Retry-After", "1")
			_ = render.Render(w, r, newProblem(http.StatusTooManyRequests, "rate-limit-exceeded", "Rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
