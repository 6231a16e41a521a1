package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iotaledger/product-core-sub000/internal/auth"
	"github.com/iotaledger/product-core-sub000/internal/capability"
	"github.com/iotaledger/product-core-sub000/internal/counter"
	"github.com/iotaledger/product-core-sub000/internal/obs"
	"github.com/iotaledger/product-core-sub000/internal/rolemap"
	"github.com/iotaledger/product-core-sub000/internal/stream"
)

const serviceName = "product-core-api"

// ReadyProbe reports readiness, e.g. by pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// EventLister serves the persisted event history of a counter.
type EventLister interface {
	ListEvents(ctx context.Context, targetKey string, limit int) ([]rolemap.Event, error)
}

// API is the HTTP layer.
type API struct {
	readyProbe readinessChecker
	version    string
	counters   counter.Service
	signer     *auth.Signer
	stream     *stream.Stream
	events     EventLister
	clock      capability.Clock

	rateBurst   int
	ratePerSec  float64
	maxBody     int64
	corsOrigins []string
}

// Option configures the API.
type Option func(*API)

func WithStream(s *stream.Stream) Option { return func(a *API) { a.stream = s } }

func WithEventLog(l EventLister) Option { return func(a *API) { a.events = l } }

// WithClock sets the clock for capability checks. Defaults to the system clock.
func WithClock(c capability.Clock) Option {
	return func(a *API) {
		if c != nil {
			a.clock = c
		}
	}
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec, a.rateBurst = perSecond, burst
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithCORSOrigins allows the given origins in addition to localhost.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = append([]string(nil), origins...) }
}

func New(rp readinessChecker, version string, counters counter.Service, signer *auth.Signer, opts ...Option) *API {
	a := &API{
		readyProbe: rp,
		version:    version,
		counters:   counters,
		signer:     signer,
		clock:      capability.SystemClock{},
		rateBurst:  40,
		ratePerSec: 20,
		maxBody:    1 << 20,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Handler builds the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, obs.Instrument, SecurityHeaders, CORS(a.corsOrigins))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })
	r.Use(NewRateLimiter(a.ratePerSec, a.rateBurst).Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.withCaller)
		r.Get("/info", a.Info)
		r.Get("/events", a.Stream)
		r.Get("/counters", a.listCounters)
		r.Post("/counters", a.createCounter)
		r.Route("/counters/{id}", func(r chi.Router) {
			r.Get("/", a.getCounter)
			r.Post("/increment", a.increment)
			r.Post("/reset", a.reset)
			r.Get("/events", a.listEvents)

			r.Get("/roles", a.listRoles)
			r.Post("/roles", a.createRole)
			r.Get("/roles/{name}", a.getRole)
			r.Put("/roles/{name}", a.updateRole)
			r.Delete("/roles/{name}", a.deleteRole)

			r.Post("/capabilities", a.issueCapability)
			r.Post("/capabilities/destroy", a.destroyCapability)
			r.Delete("/capabilities/{capID}", a.revokeCapability)
		})
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
