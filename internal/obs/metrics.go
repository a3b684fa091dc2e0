package obs

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"defitown.org/internal/chain"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "town_ready",
		Help: "1 when the last readiness check passed.",
	})

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Town metrics
var (
	WalletsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "town_wallets_created_total",
		Help: "Execution accounts deployed by the factory.",
	})

	BatchesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "town_batches_executed_total",
			Help: "Call batches run by execution accounts.",
		},
		[]string{"result"},
	)

	PrepareTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "town_prepare_total",
			Help: "Adapter prepare calls by building type, action and result.",
		},
		[]string{"building_type", "action", "result"},
	)

	StreamDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "town_stream_dropped_total",
		Help: "Events dropped because a stream subscriber was full.",
	})

	EventsPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "town_events_persisted_total",
			Help: "Chain events written to the event store.",
		},
		[]string{"store", "result"},
	)
)

var initOnce sync.Once

// Init registers every metric in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			WalletsCreated, BatchesExecuted, PrepareTotal,
			StreamDropped, EventsPersisted, readyGauge,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of a readiness check.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Result labels an outcome for the town counters.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Instrument records in-flight, count and latency per canonical route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// routeShapes maps a route's fixed segments to its label; "*" matches any
// single segment.
var routeShapes = []struct {
	segs  []string
	label string
}{
	{[]string{"v1", "registry", "adapters", "*"}, "/v1/registry/adapters/:type"},
	{[]string{"v1", "wallets", "*"}, "/v1/wallets/:owner"},
	{[]string{"v1", "buildings", "*", "place"}, "/v1/buildings/:type/place"},
	{[]string{"v1", "buildings", "*", "preview"}, "/v1/buildings/:type/preview"},
	{[]string{"v1", "buildings", "*", "harvest"}, "/v1/buildings/:id/harvest"},
	{[]string{"v1", "buildings", "*", "demolish"}, "/v1/buildings/:id/demolish"},
	{[]string{"v1", "buildings", "*", "harvest", "preview"}, "/v1/buildings/:id/harvest/preview"},
	{[]string{"v1", "buildings", "*", "demolish", "preview"}, "/v1/buildings/:id/demolish/preview"},
	{[]string{"v1", "buildings", "*"}, "/v1/buildings/:id"},
	{[]string{"v1", "users", "*", "buildings"}, "/v1/users/:owner/buildings"},
	{[]string{"v1", "roles", "*", "*", "*"}, "/v1/roles/:contract/:role/:member"},
	{[]string{"v1", "tokens", "*", "balances", "*"}, "/v1/tokens/:token/balances/:holder"},
}

// CanonicalPath collapses path parameters so metric cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for _, shape := range routeShapes {
		if len(shape.segs) != len(segs) {
			continue
		}
		match := true
		for i, s := range shape.segs {
			if s != "*" && s != segs[i] {
				match = false
				break
			}
		}
		if match {
			return shape.label
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind Instrument.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsSink counts committed domain events.
type MetricsSink struct{}

func (MetricsSink) Publish(_ context.Context, rec chain.Receipt) error {
	for _, ev := range rec.Events {
		switch ev.Name {
		case "WalletCreated":
			WalletsCreated.Inc()
		case "BatchExecuted":
			BatchesExecuted.WithLabelValues("ok").Inc()
		}
	}
	return nil
}
