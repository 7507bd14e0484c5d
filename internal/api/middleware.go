package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/teemow/sitekit/internal/instrumentation"
	"github.com/teemow/sitekit/internal/logging"
	"github.com/teemow/sitekit/internal/permissions"
)

// Request headers understood by the route layer.
const (
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"
)

type callerKey struct{}

// CallerFromContext returns the site user the request was made by.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}

// requestID propagates the caller's request id or assigns a new one, and
// stores a request-scoped logger in the context.
func requestID(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)

			logger := base.With(logging.RequestID(id))
			if traceID := instrumentation.GetTraceID(r.Context()); traceID != "" {
				logger = logger.With(slog.String("trace_id", traceID))
			}
			next.ServeHTTP(w, r.WithContext(logging.NewContext(r.Context(), logger)))
		})
	}
}

// recovery recovers from panics and returns a 500 envelope instead of crashing.
func recovery(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.FromContext(r.Context(), base).ErrorContext(r.Context(), "panic recovered",
						slog.Any("panic", rec),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
					)
					writeFailure(w, http.StatusInternalServerError, CodeInternal, "an internal error occurred")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// recordMetrics records one HTTP request metric per request, labelled with the
// matched route pattern.
func recordMetrics(m *instrumentation.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTPRequest(r.Context(), r.Method, route, status, time.Since(start))
		})
	}
}

// identify rejects requests without a caller id and makes the caller
// available through CallerFromContext.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get(HeaderUserID)
		if caller == "" {
			writeFailure(w, http.StatusUnauthorized, CodeUnauthorized, "missing "+HeaderUserID+" header")
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		logger := logging.FromContext(ctx, slog.Default()).With(logging.OwnerHash(caller))
		next.ServeHTTP(w, r.WithContext(logging.NewContext(ctx, logger)))
	})
}

// authorize rejects callers lacking action.
func authorize(checker permissions.Checker, action permissions.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checker.Can(r.Context(), CallerFromContext(r.Context()), action) {
				writeFailure(w, http.StatusForbidden, CodeForbidden, "caller may not "+string(action))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const (
	maxTrackedCallers = 4096
	callerIdleTTL     = 10 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// callerLimiter keeps one token bucket per caller. Idle callers are pruned
// when the table grows past maxTrackedCallers.
type callerLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

func newCallerLimiter(rps float64, burst int) *callerLimiter {
	return &callerLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *callerLimiter) allow(caller string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[caller]
	if !ok {
		if len(l.visitors) >= maxTrackedCallers {
			l.prune(now)
		}
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[caller] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *callerLimiter) prune(now time.Time) {
	for caller, v := range l.visitors {
		if now.Sub(v.lastSeen) > callerIdleTTL {
			delete(l.visitors, caller)
		}
	}
}

func rateLimit(l *callerLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(CallerFromContext(r.Context())) {
				w.Header().Set("Retry-After", "1")
				writeFailure(w, http.StatusTooManyRequests, CodeRateLimited, "too many authentication requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
