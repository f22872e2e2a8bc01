package adminapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noded",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of admin API HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "noded",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of admin API HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "noded",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight admin API HTTP requests",
		},
		[]string{"path"},
	)

	// actionsTotal counts admin actions (currently just despawn) by result,
	// replacing the teacher's inference-specific backpressure counter with
	// the equivalent admission-control signal for this domain.
	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noded",
			Subsystem: "admin",
			Name:      "actions_total",
			Help:      "Total admin actions by kind and result",
		},
		[]string{"action", "result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight, actionsTotal, nodeMetrics)
}

var (
	metricsSvcMu sync.RWMutex
	metricsSvc   Service
)

// setMetricsService points nodeMetrics at the Service backing the current
// mux, so /metrics reflects whichever node NewMux was last built against.
// Mirrors SetLogger's package-level override in logging.go.
func setMetricsService(svc Service) {
	metricsSvcMu.Lock()
	metricsSvc = svc
	metricsSvcMu.Unlock()
}

// nodeCollector derives pool size, queue depth, per-slave load, spawn
// counts, and channel-close counts from Service.Status() on every scrape,
// rather than tracking a parallel set of gauges that application/node code
// would need to keep in sync by hand. Registered once, for the whole
// process, since Describe/Collect are the only contract Prometheus needs;
// the Service it reads from can change underneath it via setMetricsService.
type nodeCollector struct {
	poolSize      *prometheus.Desc
	queueDepth    *prometheus.Desc
	spawnsTotal   *prometheus.Desc
	slaveLoad     *prometheus.Desc
	channelCloses *prometheus.Desc
}

var nodeMetrics = &nodeCollector{
	poolSize: prometheus.NewDesc(
		"noded_overseer_pool_size",
		"Current number of slaves pooled for an application.",
		[]string{"application"}, nil,
	),
	queueDepth: prometheus.NewDesc(
		"noded_overseer_queue_depth",
		"Current number of pending invocations for an application.",
		[]string{"application"}, nil,
	),
	spawnsTotal: prometheus.NewDesc(
		"noded_overseer_spawns_total",
		"Total number of slaves spawned for an application.",
		[]string{"application"}, nil,
	),
	slaveLoad: prometheus.NewDesc(
		"noded_slave_load",
		"Current number of open channels on a slave.",
		[]string{"application", "slave_id"}, nil,
	),
	channelCloses: prometheus.NewDesc(
		"noded_slave_channel_closes_total",
		"Total number of channels that have fully closed on a slave.",
		[]string{"application", "slave_id"}, nil,
	),
}

func (c *nodeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.poolSize
	ch <- c.queueDepth
	ch <- c.spawnsTotal
	ch <- c.slaveLoad
	ch <- c.channelCloses
}

func (c *nodeCollector) Collect(ch chan<- prometheus.Metric) {
	metricsSvcMu.RLock()
	svc := metricsSvc
	metricsSvcMu.RUnlock()
	if svc == nil {
		return
	}
	for _, a := range svc.Status().Applications {
		ch <- prometheus.MustNewConstMetric(c.poolSize, prometheus.GaugeValue, float64(a.PoolSize), a.Name)
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(a.QueueDepth), a.Name)
		ch <- prometheus.MustNewConstMetric(c.spawnsTotal, prometheus.CounterValue, float64(a.SpawnsTotal), a.Name)
		for _, s := range a.Slaves {
			ch <- prometheus.MustNewConstMetric(c.slaveLoad, prometheus.GaugeValue, float64(s.Load), a.Name, s.ID)
			ch <- prometheus.MustNewConstMetric(c.channelCloses, prometheus.CounterValue, float64(s.ChannelClosesTotal), a.Name, s.ID)
		}
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments requests for Prometheus.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := routePatternOrPath(r)
		method := r.Method
		httpInflight.WithLabelValues(path).Inc()
		defer httpInflight.WithLabelValues(path).Dec()

		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		// The route pattern is only known once chi has routed the request.
		path = routePatternOrPath(r)
		statusLabel := itoa(sr.status)
		dur := time.Since(start).Seconds()
		httpRequestsTotal.WithLabelValues(path, method, statusLabel).Inc()
		httpRequestDuration.WithLabelValues(path, method, statusLabel).Observe(dur)
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to the URL path. This avoids high-cardinality label values from
// path parameters like application or slave ids.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// IncrementAction records the outcome of an admin action.
func IncrementAction(action, result string) {
	if result == "" {
		result = "unspecified"
	}
	actionsTotal.WithLabelValues(action, result).Inc()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
