package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"cardctl/pkg/logging"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

type ctxKey int

const userKey ctxKey = iota

// userID returns the authenticated user set by requireAuth.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey).(string)
	return id
}

// requireAuth resolves the bearer token and stores the user id in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Resolve(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, id)
		ctx = logging.WithContext(ctx, logging.FromContext(ctx).With(logging.UserID(id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRequestLogger tags the request with an id, echoed in the response, and
// attaches a logger carrying it to the context.
func (s *Server) withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		logger := s.logger.With(logging.RequestID(id))
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(srw, r.WithContext(logging.WithContext(r.Context(), logger)))

		logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("endpoint", getEndpoint(r)),
			zap.Int("status", srw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// httpMetrics counts requests per route template.
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) (*httpMetrics, error) {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(srw, r)

		endpoint := getEndpoint(r)
		m.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(srw.statusCode)).Inc()
		m.duration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// statusResponseWriter captures the status code
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// getEndpoint returns the route template so ids don't explode label cardinality.
func getEndpoint(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}

	pathTemplate, err := route.GetPathTemplate()
	if err != nil {
		return r.URL.Path
	}

	return pathTemplate
}
