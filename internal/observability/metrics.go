package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wgha"

var (
	registerOnce sync.Once

	taskEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_events_total",
		Help:      "Accepted task lifecycle events by type.",
	}, []string{"event"})

	taskTerminal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "apply_tasks_total",
		Help:      "Apply tasks that reached a terminal state.",
	}, []string{"state"})

	reconcileIterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_iterations_total",
		Help:      "Reconciliation iterations by outcome.",
	}, []string{"result"})

	broadcastMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_messages_total",
		Help:      "Messages delivered to observer connections.",
	}, []string{"topic"})

	broadcastDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_dropped_total",
		Help:      "Messages dropped because an observer buffer was full.",
	}, []string{"topic"})

	subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "observer_connections",
		Help:      "Currently connected observers.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			taskEvents,
			taskTerminal,
			reconcileIterations,
			broadcastMessages,
			broadcastDropped,
			subscribers,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordTaskEvent(event string) {
	register()
	taskEvents.WithLabelValues(event).Inc()
}

func RecordTaskTerminal(state string) {
	register()
	taskTerminal.WithLabelValues(state).Inc()
}

func RecordReconcile(result string) {
	register()
	reconcileIterations.WithLabelValues(result).Inc()
}

func RecordBroadcast(topic string) {
	register()
	broadcastMessages.WithLabelValues(topic).Inc()
}

func RecordBroadcastDropped(topic string) {
	register()
	broadcastDropped.WithLabelValues(topic).Inc()
}

func SetObservers(n int) {
	register()
	subscribers.Set(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	register()
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// HTTPMiddleware records request counts and latency labelled by the matched
// route pattern. It must wrap the mux directly so the pattern is visible.
func HTTPMiddleware(next http.Handler) http.Handler {
	register()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
