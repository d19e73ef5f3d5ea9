package server

import (
	"bufio"
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/winstat/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// Prometheus HTTP metrics, labelled by the matched mux pattern so that
// per-series URLs do not explode label cardinality.
var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "winstat",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "winstat",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	httpResponseBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "winstat",
		Subsystem: "http",
		Name:      "response_bytes_total",
		Help:      "Response body bytes written by route.",
	}, []string{"route"})

	httpRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "winstat",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter.",
	}, []string{"class"})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpResponseBytes, httpRateLimited)
}

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in order (first argument is outermost).
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

type requestIDKey struct{}

// RequestID returns the request ID from the context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// maxRequestIDLen bounds client-supplied request IDs echoed into logs.
const maxRequestIDLen = 128

// RequestIDMiddleware propagates X-Request-ID, generating one when the
// client sent none or an oversized value.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// LoggingMiddleware logs every request and records the HTTP metrics.
// Server errors log at Error, client errors at Warn, the rest at Info.
// Paths in skipPaths still count in metrics but are not logged.
func LoggingMiddleware(logger *zap.Logger, skipPaths []string) Middleware {
	skip := pathSet(skipPaths)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
			httpResponseBytes.WithLabelValues(route).Add(float64(rec.bytes))

			if skip[r.URL.Path] {
				return
			}
			level := zapcore.InfoLevel
			switch {
			case rec.status >= 500:
				level = zapcore.ErrorLevel
			case rec.status >= 400:
				level = zapcore.WarnLevel
			}
			logger.Log(level, "http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.Int64("bytes", rec.bytes),
				zap.Duration("duration", elapsed),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

// SecurityHeadersMiddleware sets headers for a JSON-only API.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Winstat-Version", version.Short())
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware turns a handler panic into a 500 problem response.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestID(r.Context())),
					zap.Stack("stack"),
				)
				InternalError(w, r, "an unexpected error occurred")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Rate limit classes. Writes (sample ingestion, anomaly resolution) get
// their own budget so a flood of samples cannot starve dashboard reads.
const (
	classRead  = "read"
	classWrite = "write"
)

// RateLimits configures the per-client token buckets of each class.
// A non-positive RPS disables limiting for that class.
type RateLimits struct {
	ReadRPS    float64
	ReadBurst  int
	WriteRPS   float64
	WriteBurst int
	TrustProxy bool // take the client address from X-Forwarded-For
}

func requestClass(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return classRead
	}
	return classWrite
}

// RateLimitMiddleware enforces per-client, per-class rate limits.
// Requests to paths in skipPaths are never limited.
func RateLimitMiddleware(limits RateLimits, skipPaths []string) Middleware {
	skip := pathSet(skipPaths)
	buckets := map[string]*clientLimiter{
		classRead:  newClientLimiter(limits.ReadRPS, limits.ReadBurst),
		classWrite: newClientLimiter(limits.WriteRPS, limits.WriteBurst),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			class := requestClass(r)
			l := buckets[class]
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}
			if ok, wait := l.allow(clientIP(r, limits.TrustProxy)); !ok {
				httpRateLimited.WithLabelValues(class).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				RateLimited(w, r, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientLimiter holds one token bucket per client address. Idle buckets
// are evicted once the table reaches maxClients.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	maxClients    = 10000
	clientIdleTTL = 10 * time.Minute
)

// newClientLimiter returns nil when rps is not positive.
func newClientLimiter(rps float64, burst int) *clientLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = int(math.Ceil(rps))
	}
	return &clientLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientBucket),
	}
}

// allow takes a token for ip. When none is available it reports how long
// until the next one.
func (l *clientLimiter) allow(ip string) (bool, time.Duration) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[ip]
	if !ok {
		if len(l.clients) >= maxClients {
			l.evictIdle(now)
		}
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// evictIdle drops buckets unused for clientIdleTTL. Callers hold l.mu.
func (l *clientLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-clientIdleTTL)
	for ip, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// clientIP returns the address used as rate limit key. X-Forwarded-For is
// only honoured behind a trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}

// responseRecorder captures status and body size. It exposes the wrapped
// writer so WebSocket upgrades and streaming still work through the chain.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (w *responseRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack hands the connection to a WebSocket upgrader. The status is
// recorded as 101 since the handler never writes one itself.
func (w *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return conn, rw, err
}

// Flush implements http.Flusher.
func (w *responseRecorder) Flush() {
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}
