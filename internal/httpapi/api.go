// Package httpapi is the HTTP surface of the assessment service.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tenantscope.io/internal/audit"
	"tenantscope.io/internal/config"
	"tenantscope.io/internal/entra"
	"tenantscope.io/internal/graph"
	"tenantscope.io/internal/obs"
	"tenantscope.io/internal/secrets"
	"tenantscope.io/internal/stream"
	"tenantscope.io/internal/tenant"
)

// ReadyProbe checks dependencies for /readyz (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Provisioner creates dedicated app registrations in the partner tenant.
type Provisioner interface {
	Provision(ctx context.Context, req entra.ProvisionRequest) (entra.ProvisionResult, error)
}

// Collector runs the Graph assessment battery against one customer tenant.
type Collector interface {
	Collect(ctx context.Context, creds graph.TenantCredentials, categories []string) (tenant.AssessmentMetrics, error)
}

// Deps carries the wired dependencies for the HTTP layer. Provisioner is nil
// when the partner service principal is not configured.
type Deps struct {
	Store       tenant.Store
	Resolver    *entra.Resolver
	Provisioner Provisioner
	Collector   Collector
	Secrets     *secrets.Manager
	Stream      *stream.Stream
	Signer      *entra.StateSigner
	Ready       ReadyProbe
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	cfg         config.Config
	store       tenant.Store
	resolver    *entra.Resolver
	provisioner Provisioner
	collector   Collector
	secrets     *secrets.Manager
	stream      *stream.Stream
	signer      *entra.StateSigner
	readyProbe  ReadyProbe
	version     string

	rateBurst  int
	ratePerSec int
}

func New(cfg config.Config, deps Deps, version string) *API {
	a := &API{
		mux:         http.NewServeMux(),
		cfg:         cfg,
		store:       deps.Store,
		resolver:    deps.Resolver,
		provisioner: deps.Provisioner,
		collector:   deps.Collector,
		secrets:     deps.Secrets,
		stream:      deps.Stream,
		signer:      deps.Signer,
		readyProbe:  deps.Ready,
		version:     version,
		rateBurst:   20,
		ratePerSec:  10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/api/customers", a.handleCustomersCollection)
	a.mux.HandleFunc("/api/customers/", a.handleCustomerResource)
	a.mux.HandleFunc("/api/consent-callback", a.handleConsentCallback)
	a.mux.HandleFunc("/api/assessments", a.handleAssessmentsCollection)
	a.mux.HandleFunc("/api/assessments/", a.handleAssessmentResource)
	a.mux.HandleFunc("/api/fix-app-registrations", a.handleFixAppRegistrations)
	a.mux.HandleFunc("/api/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.cfg.PortalBaseURL)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tenantscope-api",
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
		"name":    "tenantscope-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorDetail(w, r, code, msg, "")
}

// writeErrorDetail adds a troubleshooting hint for operator-facing failures
// such as missing Graph permissions.
func writeErrorDetail(w http.ResponseWriter, r *http.Request, code int, msg, troubleshooting string) {
	payload := map[string]any{
		"error": msg,
	}
	if troubleshooting != "" {
		payload["troubleshooting"] = troubleshooting
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

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
