// middleware.go wires authentication, per-identity rate limiting and
// audit logging around the Public API facade's mux, grounded on the
// teacher's internal/web/middleware.go (AuthMiddleware, CORSMiddleware)
// adapted from cookie/htmx web auth to a bearer/API-key REST facade.
package api

import (
	"net/http"
	"strings"

	"github.com/haasonsaas/nexus/internal/audit"
	"github.com/haasonsaas/nexus/internal/auth"
	"github.com/haasonsaas/nexus/internal/ratelimit"
)

// authMiddleware enforces JWT or API-key authentication when s.auth is
// configured and enabled. Requests carrying neither credential are
// rejected with 401; the resolved user is attached to the request
// context via auth.WithUser for downstream handlers and audit logging.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil || !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			token := strings.TrimSpace(authHeader[len("bearer "):])
			user, err := s.auth.ValidateJWT(token)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
				return
			}
			s.logger.Warn("api: jwt validation failed", "error", err)
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" {
			user, err := s.auth.ValidateAPIKey(apiKey)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
				return
			}
			s.logger.Warn("api: api key validation failed", "error", err)
		}

		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	})
}

// rateLimitMiddleware throttles requests per authenticated user (or
// remote address, for unauthenticated traffic) using a token bucket.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.Allow(rateLimitKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitKey(r *http.Request) string {
	if user, ok := auth.UserFromContext(r.Context()); ok && user != nil {
		return "user:" + user.ID
	}
	return "addr:" + r.RemoteAddr
}

// auditMiddleware records every request's outcome once the handler
// chain completes. It runs outermost so it sees the final status code
// written by downstream handlers.
func (s *Server) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.audit == nil {
			next.ServeHTTP(w, r)
			return
		}
		wrapped := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		userID := ""
		if user, ok := auth.UserFromContext(r.Context()); ok && user != nil {
			userID = user.ID
		}
		s.audit.LogAgentAction(r.Context(), userID, r.Method+" "+r.URL.Path, "public api request",
			map[string]any{"status": wrapped.status, "remote_addr": r.RemoteAddr}, "")
	})
}

// chain wraps the facade's mux with audit, rate-limit and auth
// middleware, outermost first so every request is logged exactly once
// regardless of how deep it failed.
func (s *Server) chain(mux http.Handler) http.Handler {
	return s.auditMiddleware(s.rateLimitMiddleware(s.authMiddleware(mux)))
}

type statusResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *statusResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// buildAuditLogger constructs the facade's audit logger from config,
// returning nil (a no-op) when auditing is disabled so chain() can skip
// the middleware entirely.
func buildAuditLogger(cfg audit.Config) (*audit.Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return audit.NewLogger(cfg)
}

// buildRateLimiter constructs the facade's limiter from config,
// returning nil when rate limiting is disabled.
func buildRateLimiter(cfg ratelimit.Config) *ratelimit.Limiter {
	if !cfg.Enabled {
		return nil
	}
	return ratelimit.NewLimiter(cfg)
}
