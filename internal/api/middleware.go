package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carpenike/fitcoach/internal/ratelimit"
)

type requestIDKey struct{}

// requestID stamps every request with a fresh UUID, echoed back as
// X-Request-Id and threaded into the access log line so a caller-reported
// failure can be matched to one server-side log entry.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusWriter wraps http.ResponseWriter to capture the status code,
// grounded on the teacher's middleware.RequestLogger wrapper.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	return w.ResponseWriter.Write(b)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Printf("[%s] %s %s %d %s", requestIDFrom(r.Context()), r.Method, r.URL.Path, sw.status, time.Since(start).Round(time.Microsecond))
	})
}

// bodyLimit caps every request body at maxBodyBytes. Oversized bodies
// surface as a read error inside the handler; POST /api/chat answers it
// with 413, the other handlers treat it like any other malformed-JSON
// failure.
func (s *Server) bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// authenticate enforces the bearer/x-api-token check. Preflight (OPTIONS)
// requests bypass auth entirely so rs/cors can answer them. When no token
// is configured, auth is a no-op — the daemon is assumed to sit behind a
// trusted network boundary in that mode.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || s.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Status: "error", Message: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if tok := r.Header.Get("x-api-token"); tok != "" {
		return tok == s.AuthToken
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == s.AuthToken
	}
	return false
}

// rateLimit applies a sliding-window limiter to one route, returning 429
// with a descriptive message that names the route on exceedance.
func (s *Server) rateLimit(window func() *ratelimit.Window, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !window().Allow(s.now()) {
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Status:  "error",
					Message: fmt.Sprintf("Rate limit exceeded for %s", route),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
