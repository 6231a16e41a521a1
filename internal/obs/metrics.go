package obs

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iotaledger/product-core-sub000/internal/rolemap"
)

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

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	accessChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_checks_total",
			Help: "Capability checks by permission and result.",
		},
		[]string{"permission", "result"},
	)

	accessEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_events_total",
			Help: "Committed role map transitions by kind.",
		},
		[]string{"kind"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "1 when the service accepts traffic.",
	})

	initOnce sync.Once
)

// Init registers the metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			accessChecksTotal, accessEventsTotal, ready)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the ready gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// RecordAccessCheck counts one capability check; the result label is rolemap.Reason(err).
func RecordAccessCheck(permission string, err error) {
	accessChecksTotal.WithLabelValues(permission, rolemap.Reason(err)).Inc()
}

// EventObserver counts role map events by kind.
func EventObserver() rolemap.Observer {
	return rolemap.ObserverFunc(func(_ context.Context, evt rolemap.Event) {
		accessEventsTotal.WithLabelValues(string(evt.Kind)).Inc()
	})
}

// Instrument measures rate, latency and in-flight requests. Mounted with chi's Use it labels
// by route pattern; otherwise it falls back to CanonicalPath.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		status := strconv.Itoa(code)
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = CanonicalPath(r.URL.Path)
		}
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath replaces identifiers in API paths with placeholders to keep label
// cardinality bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 3 || segs[0] != "v1" || segs[1] != "counters" {
		return path
	}
	segs[2] = ":id"
	if len(segs) == 5 {
		switch {
		case segs[3] == "roles":
			segs[4] = ":name"
		case segs[3] == "capabilities" && segs[4] != "destroy":
			segs[4] = ":cap_id"
		}
	}
	return "/" + strings.Join(segs, "/")
}
