// Package httpserver assembles the HTTP boundary: a gorilla/mux router
// carrying correlation-id propagation, security headers, CORS preflight
// validation, and per-route rate limiting, in front of the
// credentials/oauthfed/session flow packages.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/mjsherwood76-dev/centerpiece-auth/internal/auditlog"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/credentials"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/jwtkernel"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/oauthfed"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/ratelimit"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/redirectvalidator"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/session"
	"github.com/mjsherwood76-dev/centerpiece-auth/internal/store"
)

// RefreshCookieName is the browser-facing refresh token cookie.
const RefreshCookieName = "cp_refresh"

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Server bundles every dependency the HTTP boundary needs.
type Server struct {
	Credentials *credentials.Flows
	OAuth       *oauthfed.Flows
	Session     *session.Flows
	JWT         *jwtkernel.Kernel
	Validator   *redirectvalidator.Validator
	Store       *store.Conn

	Environment     string
	AuthDomain      string
	Version         string
	DeployedAt      time.Time
	RefreshTokenTTL time.Duration

	RateLimiter *ratelimit.Limiter
	Audit       *auditlog.Logger
	Logger      *slog.Logger

	now Clock
}

// New constructs a Server. now defaults to time.Now when nil.
func New(s Server, now Clock) *Server {
	if now == nil {
		now = time.Now
	}
	s.now = now
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return &s
}

func (s *Server) isProduction() bool { return s.Environment == "production" }

// refreshTokenMaxAge is the Max-Age the cp_refresh cookie carries, falling
// back to tokenkernel's own default when the server wasn't given one.
func (s *Server) refreshTokenMaxAge() time.Duration {
	if s.RefreshTokenTTL <= 0 {
		return 30 * 24 * time.Hour
	}
	return s.RefreshTokenTTL
}

// Router builds the full gorilla/mux router, wrapped with gorilla/handlers'
// panic recovery so a handler bug surfaces as a 500 instead of killing the
// listener goroutine. Every route handler is further wrapped with
// correlation-id propagation, security headers, CORS preflight handling and
// per-route rate limiting.
func (s *Server) Router() http.Handler {
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(!s.isProduction()))(s.router())
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter().SkipClean(true)
	r.NotFoundHandler = http.NotFoundHandler()

	wrap := func(route string, h http.HandlerFunc) http.Handler {
		return s.withMiddleware(route, h)
	}

	r.Handle("/health", wrap("/health", s.handleHealth)).Methods(http.MethodGet)
	r.Handle("/.well-known/jwks.json", wrap("/.well-known/jwks.json", s.handleJWKS)).Methods(http.MethodGet)

	r.Handle("/api/register", wrap("/api/register", s.handleRegister)).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/api/login", wrap("/api/login", s.handleLogin)).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/api/forgot-password", wrap("/api/forgot-password", s.handleForgotPassword)).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/api/reset-password", wrap("/api/reset-password", s.handleResetPassword)).Methods(http.MethodPost, http.MethodOptions)

	r.Handle("/api/token", wrap("/api/token", s.handleToken)).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/api/refresh", wrap("/api/refresh", s.handleRefresh)).Methods(http.MethodGet)
	r.Handle("/api/logout", wrap("/api/logout", s.handleLogout)).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/api/logout-all", wrap("/api/logout-all", s.handleLogoutAll)).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/api/memberships", wrap("/api/memberships", s.handleMemberships)).Methods(http.MethodGet, http.MethodOptions)

	r.Handle("/oauth/{provider}", wrap("/oauth/{provider}", s.handleOAuthInit)).Methods(http.MethodGet)
	r.Handle("/oauth/{provider}/callback", wrap("/oauth/{provider}/callback", s.handleOAuthCallback)).
		Methods(http.MethodGet, http.MethodPost)

	return r
}

type correlationIDKey struct{}

// CorrelationID extracts the id withMiddleware attached to ctx, or "" if
// called outside a request this package routed.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey{}).(string)
	return v
}

// withMiddleware layers correlation-id propagation, security headers, CORS
// preflight handling and rate limiting around a single route's handler.
func (s *Server) withMiddleware(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("x-correlation-id")
		if correlationID == "" {
			correlationID = r.Header.Get("x-request-id")
		}
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), correlationIDKey{}, correlationID)
		r = r.WithContext(ctx)

		w.Header().Set("x-trace-id", correlationID)
		start := s.now()

		applySecurityHeaders(w)
		if s.applyCORS(w, r) {
			return
		}

		if s.RateLimiter != nil && !s.RateLimiter.Allow(ctx, clientIP(r), route) {
			if s.Audit != nil {
				s.Audit.Emit(ctx, auditlog.Event{
					CorrelationID: correlationID, Kind: auditlog.KindRateLimited,
					IP: clientIP(r), Route: route, UserAgent: r.UserAgent(), StatusCode: http.StatusTooManyRequests,
				})
			}
			http.Error(w, `{"error":"rate_limited"}`, http.StatusTooManyRequests)
			return
		}

		tw := &timingResponseWriter{ResponseWriter: w, start: start, now: s.now}
		h(tw, r)
	}
}

// timingResponseWriter injects the Server-Timing header just before the
// first byte of the response is committed, since setting a header after
// WriteHeader has already been called has no effect.
type timingResponseWriter struct {
	http.ResponseWriter
	start       time.Time
	now         Clock
	wroteHeader bool
}

func (tw *timingResponseWriter) WriteHeader(status int) {
	if !tw.wroteHeader {
		tw.Header().Set("Server-Timing", durationServerTiming(tw.now().Sub(tw.start)))
		tw.wroteHeader = true
	}
	tw.ResponseWriter.WriteHeader(status)
}

func (tw *timingResponseWriter) Write(b []byte) (int, error) {
	if !tw.wroteHeader {
		tw.WriteHeader(http.StatusOK)
	}
	return tw.ResponseWriter.Write(b)
}
