package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"accord.org/internal/auth"
	"accord.org/internal/config"
	"accord.org/internal/gateway"
	"accord.org/internal/obs"
	"accord.org/internal/stream"
)

// ReadyProbe reports readiness, pinging the database when one is attached.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the exchange gateway.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	gateway    *gateway.Gateway
	events     *stream.Stream
	members    *auth.MemberStore

	tokenTTL     time.Duration
	maxBodyBytes int64
	rateBurst    int
	ratePerSec   float64
}

func New(rp ReadyProbe, version string, gw *gateway.Gateway, events *stream.Stream, members *auth.MemberStore, cfg *config.Config) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		gateway:      gw,
		events:       events,
		members:      members,
		tokenTTL:     15 * time.Minute,
		maxBodyBytes: 1 << 20,
		rateBurst:    100,
		ratePerSec:   50,
	}
	if cfg != nil {
		a.tokenTTL = cfg.TokenTTL
		a.maxBodyBytes = cfg.MaxBodyBytes
		a.rateBurst = cfg.RateLimitBurst
		a.ratePerSec = cfg.RateLimitRPS
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/auth/members", a.handleRegisterMember)
	a.mux.HandleFunc("/v1/invoke", a.handleInvoke)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "accord-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "accord-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
