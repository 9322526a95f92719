package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)

	// Restarts counts completed search restarts per variant.
	Restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vns_restarts_total", Help: "Completed VNS restarts."},
		[]string{"variant"},
	)
	// RestartDuration is the wall time of one construct/shake plus descent.
	RestartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "vns_restart_duration_seconds", Help: "Duration of one VNS restart.", Buckets: prometheus.ExponentialBuckets(0.001, 4, 10)},
		[]string{"variant"},
	)
	// MoveImprovements counts improving applications per neighborhood.
	MoveImprovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vns_move_improvements_total", Help: "Improving move applications by neighborhood."},
		[]string{"variant", "move"},
	)
	// BestDistance is the best distance of the most recent run per instance key.
	BestDistance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "vns_best_distance", Help: "Best distance found by the latest run."},
		[]string{"key", "variant"},
	)
	// Runs counts finished runs by outcome.
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vns_runs_total", Help: "Finished runs by variant and status."},
		[]string{"variant", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(Restarts)
		Registry.MustRegister(RestartDuration)
		Registry.MustRegister(MoveImprovements)
		Registry.MustRegister(BestDistance)
		Registry.MustRegister(Runs)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ObserveRestart records one finished restart.
func ObserveRestart(variant string, d time.Duration, improvements map[string]int) {
	Restarts.WithLabelValues(variant).Inc()
	RestartDuration.WithLabelValues(variant).Observe(d.Seconds())
	for move, n := range improvements {
		MoveImprovements.WithLabelValues(variant, move).Add(float64(n))
	}
}

// ObserveDelivery records one webhook delivery attempt.
func ObserveDelivery(eventType, status string, latencyMs int) {
	WebhookDeliveries.WithLabelValues(eventType, status).Inc()
	WebhookLatency.WithLabelValues(eventType, status).Observe(float64(latencyMs))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer cannot hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware counts and times requests. route maps a request to a bounded
// path label.
func Middleware(route func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		labels := []string{r.Method, route(r), strconv.Itoa(rec.status)}
		HTTPRequests.WithLabelValues(labels...).Inc()
		HTTPDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}
