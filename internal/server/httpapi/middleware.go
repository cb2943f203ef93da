package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/server/auth"
	"github.com/dmitrijs2005/classifyd/internal/server/metrics"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
)

type ctxKey string

const (
	principalKey ctxKey = "principal"
	scopesKey    ctxKey = "scopes"
	apiKeyKey    ctxKey = "apiKey"
)

func principalFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(principalKey).(*models.User)
	return u
}

func scopesFrom(ctx context.Context) []auth.Scope {
	s, _ := ctx.Value(scopesKey).([]auth.Scope)
	return s
}

func apiKeyFrom(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(apiKeyKey).(*models.APIKey)
	return k
}

// ClientIPFunc returns the client address of a request: the first
// X-Forwarded-For hop when the proxy is trusted, else the remote host.
func ClientIPFunc(trustXFF bool) func(r *http.Request) string {
	return func(r *http.Request) string {
		if trustXFF {
			if xff := r.Header.Get(common.ForwardedForHeaderName); xff != "" {
				ip := strings.TrimSpace(strings.Split(xff, ",")[0])
				if ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// requireAPIKey authenticates the X-API-Key header and loads the key owner.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		key, err := s.Verifier.VerifyAPIKey(ctx, strings.TrimSpace(r.Header.Get(common.APIKeyHeaderName)))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		owner, err := s.Verifier.KeyOwner(ctx, key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx = context.WithValue(ctx, apiKeyKey, key)
		ctx = context.WithValue(ctx, principalKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireBearer authenticates an "Authorization: Bearer" session token.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			s.writeError(w, r, common.ErrInvalidToken)
			return
		}

		user, scopes, err := s.Verifier.VerifySessionToken(r.Context(), strings.TrimSpace(token))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, user)
		ctx = context.WithValue(ctx, scopesKey, scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireScopes must run behind requireBearer.
func (s *Server) requireScopes(next http.Handler, required ...auth.Scope) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.RequireScopes(scopesFrom(r.Context()), required...); err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.logger.Info(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// recoverer turns a handler panic into a 500 problem response.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error(r.Context(), "handler panicked", "path", r.URL.Path, "panic", p)
				WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
