package httpapi

import (
	"net/http"
	"strings"
	"time"

	"tenantscope.io/internal/graph"
	"tenantscope.io/internal/obs"
	"tenantscope.io/internal/stream"
	"tenantscope.io/internal/tenant"
)

type runAssessmentRequest struct {
	CustomerID string `json:"customerId"`
	// TenantID overrides the stored tenant when the caller knows better.
	TenantID   string   `json:"tenantId"`
	Categories []string `json:"categories"`
	// IncludedCategories is the documented alias for Categories.
	IncludedCategories []string `json:"includedCategories"`
}

func (r runAssessmentRequest) categories() []string {
	if len(r.Categories) > 0 {
		return r.Categories
	}
	return r.IncludedCategories
}

type listAssessmentsResponse struct {
	Items []tenant.Assessment `json:"items"`
	AsOf  time.Time           `json:"asOf"`
}

func (a *API) handleAssessmentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.runAssessment(w, r)
	case http.MethodGet:
		a.listAssessments(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAssessmentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/assessments/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	assessment, err := a.store.GetAssessment(r.Context(), path)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// runAssessment executes the read-only battery against the customer tenant.
// Setup problems fail fast before any Graph call; partial data from the
// collector still produces a stored assessment.
func (a *API) runAssessment(w http.ResponseWriter, r *http.Request) {
	var req runAssessmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		writeError(w, r, http.StatusBadRequest, "customerId is required")
		return
	}
	override := strings.TrimSpace(req.TenantID)
	if override != "" && !tenant.IsGUID(override) {
		writeError(w, r, http.StatusBadRequest, "tenantId must be a GUID")
		return
	}

	customer, err := a.store.GetCustomer(r.Context(), req.CustomerID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	reg, ok := tenant.ValidateAppRegistration(customer.AppRegistration)
	if !ok || !reg.Usable() {
		writeErrorDetail(w, r, http.StatusConflict, tenant.ErrNeedsSetup.Error(),
			"provision an app registration via POST /api/customers/"+customer.ID+"/app-registration, or run POST /api/fix-app-registrations to repair stored records")
		return
	}
	if reg.ConsentStatus != tenant.ConsentGranted {
		writeErrorDetail(w, r, http.StatusConflict, tenant.ErrConsentRequired.Error(),
			"send the consent URL to the customer administrator and wait for the callback")
		return
	}

	tenantID := override
	if tenantID == "" {
		tenantID = customer.TenantID
	}
	if !tenant.IsGUID(tenantID) {
		tenantID = reg.ConsentTenantID
	}
	if !tenant.IsGUID(tenantID) {
		writeErrorDetail(w, r, http.StatusConflict, "customer tenant id is not resolved",
			"admin consent records the tenant id; re-run the consent flow")
		return
	}

	secret, err := a.clientSecretFor(r, customer, reg)
	if err != nil {
		writeErrorDetail(w, r, http.StatusConflict, "client secret unavailable",
			"re-provision the app registration so a fresh secret can be stored")
		return
	}

	a.publishEvent(stream.AssessmentEvent{
		Phase:        stream.PhaseStarted,
		CustomerID:   customer.ID,
		TenantDomain: customer.TenantDomain,
	})

	metrics, err := a.collector.Collect(r.Context(), graph.TenantCredentials{
		TenantID:     tenantID,
		ClientID:     reg.ClientID,
		ClientSecret: secret,
	}, req.categories())
	if err != nil {
		obs.ObserveAssessment(tenant.AssessmentFailed)
		a.publishEvent(stream.AssessmentEvent{
			Phase:      stream.PhaseFailed,
			CustomerID: customer.ID,
			Status:     tenant.AssessmentFailed,
		})
		writeError(w, r, http.StatusBadGateway, "assessment failed: "+err.Error())
		return
	}

	status := graph.RunStatus(metrics)
	assessment := tenant.Assessment{
		CustomerID:      customer.ID,
		TenantID:        tenantID,
		Status:          status,
		Score:           graph.Score(metrics),
		Metrics:         metrics,
		Recommendations: graph.Recommendations(metrics),
	}
	assessment, err = a.store.CreateAssessment(r.Context(), assessment)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	obs.ObserveAssessment(status)
	a.audit(r.Context(), "assessment.run", map[string]any{
		"customer_id":   customer.ID,
		"assessment_id": assessment.ID,
		"status":        status,
		"score":         assessment.Score,
		"skipped":       metrics.SkippedCount(),
	})
	a.publishEvent(stream.AssessmentEvent{
		Phase:        stream.PhaseCompleted,
		CustomerID:   customer.ID,
		AssessmentID: assessment.ID,
		TenantDomain: customer.TenantDomain,
		Status:       status,
		Score:        assessment.Score,
	})

	w.Header().Set("Location", "/api/assessments/"+assessment.ID)
	writeJSON(w, http.StatusCreated, assessment)
}

func (a *API) listAssessments(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	customerID := strings.TrimSpace(r.URL.Query().Get("customerId"))

	items, err := a.store.ListAssessments(r.Context(), customerID, limit)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listAssessmentsResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

// clientSecretFor resolves the secret the collector should authenticate with.
// Customers on the shared application use the partner's own secret; dedicated
// registrations read from the vault or the stored record.
func (a *API) clientSecretFor(r *http.Request, customer tenant.Customer, reg *tenant.AppRegistration) (string, error) {
	if a.cfg.ValidatePartner() == nil && reg.ClientID == a.cfg.AzureClientID {
		return a.cfg.AzureClientSecret, nil
	}
	return a.secrets.GetClientSecret(r.Context(), customer)
}

func (a *API) publishEvent(evt stream.AssessmentEvent) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(evt)
}
