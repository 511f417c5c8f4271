package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumina_agent_http_requests_total",
			Help: "Total number of HTTP requests served by the agent",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumina_agent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	SyncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumina_sync_passes_total",
			Help: "Sync passes over the pending submission queue by result",
		},
		[]string{"result"}, // completed | aborted
	)

	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumina_submission_uploads_total",
			Help: "Speaking submission uploads by outcome",
		},
		[]string{"outcome"}, // success | permanent | transient
	)

	PendingSubmissions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumina_pending_submissions",
			Help: "Submissions left pending after the last sync pass",
		},
	)

	ConflictsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lumina_exam_conflicts_total",
			Help: "Concurrent-tab conflicts detected for the same attempt",
		},
	)

	Takeovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lumina_exam_takeovers_total",
			Help: "Forced session takeovers after a conflict",
		},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			SyncPasses,
			Uploads,
			PendingSubmissions,
			ConflictsDetected,
			Takeovers,
		)
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

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware records request count and latency by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
