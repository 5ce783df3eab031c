package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"guest-access-gate/internal/domain/model"
	"guest-access-gate/internal/infra/security"
	"guest-access-gate/internal/usecase"
)

// RateLimiter throttles invoice creation per client address.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Server struct {
	access      usecase.AccessUseCase
	sessions    *security.SessionManager
	limiter     RateLimiter
	rateLimit   int
	rateWindow  time.Duration
	frontendURL string
	log         *zerolog.Logger
}

func NewServer(
	access usecase.AccessUseCase,
	sessions *security.SessionManager,
	limiter RateLimiter,
	rateLimit int,
	rateWindow time.Duration,
	frontendURL string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		access:      access,
		sessions:    sessions,
		limiter:     limiter,
		rateLimit:   rateLimit,
		rateWindow:  rateWindow,
		frontendURL: frontendURL,
		log:         logger,
	}
}

// Router builds the public guest router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID())
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Route("/guest", func(r chi.Router) {
		r.With(s.rateLimitMiddleware).Post("/pay/{ps}", s.handlePay)
		r.Post("/multicard/callback", s.handleCallback)
		r.Get("/enter", s.handleEnter)
		r.Get("/session", s.handleSession)
		r.Post("/consume", s.handleConsume)
	})
	return r
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		addr := remoteHost(r)
		ok, err := s.limiter.Allow(r.Context(), "rate_limit:pay:"+addr, s.rateLimit, s.rateWindow)
		if err != nil {
			// A broken limiter must not take the payment flow down with it.
			s.log.Warn().Err(err).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too_many_requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestContext extracts the client-identifying attributes used for
// fingerprinting.
func requestContext(r *http.Request) model.RequestContext {
	return model.RequestContext{
		UserAgent:    r.Header.Get("User-Agent"),
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RemoteAddr:   remoteHost(r),
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
