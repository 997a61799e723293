package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"objectos/internal/permission"
	"objectos/pkg/logging"
)

type contextKey int

const callerKey contextKey = iota

// withCaller stores the authenticated caller on the request context.
func withCaller(ctx context.Context, uctx permission.Context) context.Context {
	return context.WithValue(ctx, callerKey, uctx)
}

// callerFrom returns the authenticated caller, if any. Requests on a server
// without auth enabled have no caller and run as system calls.
func callerFrom(ctx context.Context) (permission.Context, bool) {
	uctx, ok := ctx.Value(callerKey).(permission.Context)
	return uctx, ok
}

// callerMeta builds the hook metadata for data operations. A nil return
// means system call: the permission gates skip enforcement.
func callerMeta(r *http.Request) map[string]interface{} {
	uctx, ok := callerFrom(r.Context())
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"userId":              uctx.UserID,
		permission.PayloadKey: uctx,
	}
}

// authenticate verifies the bearer token and attaches the caller context.
// When the auth service is absent or disabled the middleware passes
// everything through unauthenticated.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Auth == nil || !s.deps.Auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			s.fail(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.deps.Auth.VerifyToken(token)
		if err != nil {
			s.fail(w, http.StatusUnauthorized, codeUnauthorized, "invalid token")
			return
		}

		uctx := s.deps.Auth.PermissionContext(claims)
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), uctx)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// logRequests writes one line per request at debug level, errors at warn.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		if ww.Status() >= http.StatusInternalServerError {
			logging.Warn("HTTP", "%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), elapsed)
			return
		}
		logging.Debug("HTTP", "%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), elapsed)
	})
}

// observeRequests feeds the request counter and latency histogram. The chi
// route pattern keeps the label cardinality bounded: /data/{object}/{id}
// stays one series no matter how many records exist.
func (s *Server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.ObserveHTTP(r.Method, route, ww.Status(), time.Since(start))
	})
}

// recoverer turns a handler panic into a 500 envelope instead of a dropped
// connection.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.Error("HTTP", fmt.Errorf("%v", rec), "Panic serving %s %s", r.Method, r.URL.Path)
				s.fail(w, http.StatusInternalServerError, codeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
