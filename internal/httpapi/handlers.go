// Package httpapi is the JSON surface of a running town: building actions,
// registry and factory administration, event history and the live stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"defitown.org/internal/auth"
	"defitown.org/internal/obs"
	"defitown.org/internal/store"
	"defitown.org/internal/stream"
	"defitown.org/internal/town"
)

const (
	serviceName        = "defitown"
	defaultMaxBody     = 1 << 20
	defaultRateBurst   = 40
	defaultRatePerSec  = 20
	defaultStreamAlive = 15 * time.Second
)

// ReadinessCheck reports whether the town is deployed and the event store, if
// any, answers.
type ReadinessCheck struct {
	Town   *town.Service
	Events store.Reader
}

func (rp ReadinessCheck) Check(ctx context.Context) error {
	if rp.Town == nil {
		return errors.New("town not deployed")
	}
	if rp.Events == nil {
		return nil
	}
	return rp.Events.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options wires an API. Town is required; everything else is optional.
type Options struct {
	Version     string
	Town        *town.Service
	Stream      *stream.Stream
	Events      store.Reader
	Issuer      *auth.Issuer
	Credentials *auth.Credentials
	Ready       readinessChecker

	RateBurst    int
	RatePerSec   float64
	CORSOrigins  []string
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	ready   readinessChecker
	version string

	town   *town.Service
	stream *stream.Stream
	events store.Reader
	issuer *auth.Issuer
	creds  *auth.Credentials

	rateBurst   int
	ratePerSec  float64
	corsOrigins []string
	maxBody     int64
	keepAlive   time.Duration
}

func New(opts Options) *API {
	a := &API{
		mux:         http.NewServeMux(),
		ready:       opts.Ready,
		version:     opts.Version,
		town:        opts.Town,
		stream:      opts.Stream,
		events:      opts.Events,
		issuer:      opts.Issuer,
		creds:       opts.Credentials,
		rateBurst:   opts.RateBurst,
		ratePerSec:  opts.RatePerSec,
		corsOrigins: opts.CORSOrigins,
		maxBody:     opts.MaxBodyBytes,
		keepAlive:   defaultStreamAlive,
	}
	if a.ready == nil {
		a.ready = ReadinessCheck{Town: opts.Town, Events: opts.Events}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = defaultRateBurst
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = defaultRatePerSec
	}
	if a.maxBody <= 0 {
		a.maxBody = defaultMaxBody
	}
	a.routes()
	return a
}

func (a *API) routes() {
	m := a.mux

	m.HandleFunc("GET /healthz", a.Healthz)
	m.HandleFunc("GET /readyz", a.Ready)
	m.HandleFunc("GET /v1/info", a.Info)
	m.Handle("GET /metrics", obs.Handler())

	m.HandleFunc("POST /v1/auth/token", a.issueToken)

	m.HandleFunc("GET /v1/registry", a.registryState)
	m.HandleFunc("POST /v1/registry/adapters", a.registerAdapter)
	m.HandleFunc("GET /v1/registry/adapters/{type}", a.getAdapter)
	m.HandleFunc("PUT /v1/registry/adapters/{type}", a.upgradeAdapter)
	m.HandleFunc("DELETE /v1/registry/adapters/{type}", a.removeAdapter)
	m.HandleFunc("POST /v1/registry/pause", a.pauseRegistry)
	m.HandleFunc("POST /v1/registry/unpause", a.unpauseRegistry)

	m.HandleFunc("POST /v1/roles/grant", a.grantRole)
	m.HandleFunc("POST /v1/roles/revoke", a.revokeRole)
	m.HandleFunc("GET /v1/roles/{contract}/{role}/{member}", a.hasRole)

	m.HandleFunc("GET /v1/factory", a.factoryStats)
	m.HandleFunc("POST /v1/wallets", a.createWallet)
	m.HandleFunc("GET /v1/wallets/{owner}", a.getWallet)

	m.HandleFunc("POST /v1/townhall", a.createTownHall)
	m.HandleFunc("POST /v1/buildings/{type}/place", a.placeBuilding)
	m.HandleFunc("POST /v1/buildings/{type}/preview", a.previewPlace)
	m.HandleFunc("GET /v1/buildings/{id}", a.getBuilding)
	m.HandleFunc("POST /v1/buildings/{id}/harvest", a.lifecycle(town.ActionHarvest, false))
	m.HandleFunc("POST /v1/buildings/{id}/harvest/preview", a.lifecycle(town.ActionHarvest, true))
	m.HandleFunc("POST /v1/buildings/{id}/demolish", a.lifecycle(town.ActionDemolish, false))
	m.HandleFunc("POST /v1/buildings/{id}/demolish/preview", a.lifecycle(town.ActionDemolish, true))
	m.HandleFunc("GET /v1/users/{owner}/buildings", a.userBuildings)

	m.HandleFunc("POST /v1/lending/accrue", a.accrueInterest)
	m.HandleFunc("POST /v1/lottery/draw", a.drawLottery)
	m.HandleFunc("GET /v1/tokens/{token}/balances/{holder}", a.tokenBalance)

	m.HandleFunc("GET /v1/events", a.listEvents)
	m.HandleFunc("GET /v1/events/stream", a.Stream)
}

// Handler wraps the mux in the middleware chain, outermost first: metrics,
// request id, request log, security headers, CORS, body limit, rate limit
// and authentication.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(a.corsOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"auth":    a.issuer != nil,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":      msg,
		"request_id": RequestIDFromContext(r.Context()),
	})
}

// decodeJSON reads exactly one JSON object into v, rejecting unknown fields.
// An empty body leaves v untouched when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// readBody returns the raw body, bounded by MaxBodyBytes upstream.
func readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, err
	}
	return b, nil
}

func parseUint(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return v, nil
}

func logger() *zap.Logger { return obs.Logger().Named("httpapi") }

func errorFields(r *http.Request, err error) []zap.Field {
	return []zap.Field{
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}
}
