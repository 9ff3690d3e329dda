package httpapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"tenantscope.io/internal/graph"
	"tenantscope.io/internal/tenant"
)

type fakeCollector struct {
	metrics    tenant.AssessmentMetrics
	err        error
	creds      graph.TenantCredentials
	categories []string
	calls      int
}

func (f *fakeCollector) Collect(ctx context.Context, creds graph.TenantCredentials, categories []string) (tenant.AssessmentMetrics, error) {
	f.calls++
	f.creds = creds
	f.categories = categories
	if f.err != nil {
		return tenant.AssessmentMetrics{}, f.err
	}
	return f.metrics, nil
}

func healthyMetrics() tenant.AssessmentMetrics {
	var m tenant.AssessmentMetrics
	m.License.TotalEnabled = 100
	m.License.TotalConsumed = 80
	m.SecureScore.CurrentScore = 60
	m.SecureScore.MaxScore = 100
	m.SecureScore.Percentage = 60
	m.Identity.UserCount = 80
	m.Identity.EnabledUserCount = 78
	return m
}

// grantConsent marks a customer's registration consented, the way the
// callback does after a successful admin grant.
func grantConsent(t *testing.T, env *testEnv, customerID string) {
	t.Helper()
	ctx := context.Background()
	customer, err := env.store.GetCustomer(ctx, customerID)
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	reg, ok := tenant.ValidateAppRegistration(customer.AppRegistration)
	if !ok {
		t.Fatalf("customer has no registration: %+v", customer)
	}
	now := time.Now().UTC()
	reg.ConsentStatus = tenant.ConsentGranted
	reg.ConsentedAt = &now
	reg.ConsentTenantID = customerTenant
	customer.AppRegistration = reg
	customer.TenantID = customerTenant
	if err := env.store.UpdateCustomer(ctx, customer); err != nil {
		t.Fatalf("UpdateCustomer: %v", err)
	}
}

func TestAssessmentRun(t *testing.T) {
	collector := &fakeCollector{metrics: healthyMetrics()}
	env := newTestAPI(t, nil, collector)
	authHeader := env.obtainToken("operator", []string{"admin"})
	customer := createdCustomer(t, env, authHeader, "contoso.onmicrosoft.com")
	grantConsent(t, env, customer.ID)

	resp := env.post("/api/assessments", map[string]any{"customerId": customer.ID}, authHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("run assessment status: %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") == "" {
		t.Fatalf("missing Location header")
	}
	assessment := decode[tenant.Assessment](t, resp)
	if assessment.Status != tenant.AssessmentCompleted {
		t.Fatalf("expected completed run, got %+v", assessment)
	}
	if assessment.Score != 60 {
		t.Fatalf("score should track secure score percentage: %v", assessment.Score)
	}
	if collector.creds.TenantID != customerTenant || collector.creds.ClientID != partnerClientID {
		t.Fatalf("collector authenticated with wrong identity: %+v", collector.creds)
	}
	// Shared-app customers authenticate with the partner secret.
	if collector.creds.ClientSecret != env.cfg.AzureClientSecret {
		t.Fatalf("shared app must use partner secret")
	}

	updated, _ := env.store.GetCustomer(context.Background(), customer.ID)
	if updated.TotalAssessments != 1 || updated.LastAssessmentDate == nil {
		t.Fatalf("customer counters not bumped: %+v", updated)
	}

	resp = env.get("/api/assessments/"+assessment.ID, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get assessment status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.get("/api/assessments?customerId="+customer.ID, authHeader)
	list := decode[listAssessmentsResponse](t, resp)
	if len(list.Items) != 1 || list.Items[0].ID != assessment.ID {
		t.Fatalf("listing mismatch: %+v", list.Items)
	}
}

func TestAssessmentRequestAliases(t *testing.T) {
	collector := &fakeCollector{metrics: healthyMetrics()}
	env := newTestAPI(t, nil, collector)
	authHeader := env.obtainToken("operator", []string{"admin"})
	customer := createdCustomer(t, env, authHeader, "contoso.onmicrosoft.com")
	grantConsent(t, env, customer.ID)

	overrideTenant := "b9b9b9b9-0000-1111-2222-cccccccccccc"
	resp := env.post("/api/assessments", map[string]any{
		"customerId":         customer.ID,
		"tenantId":           overrideTenant,
		"includedCategories": []string{"license"},
	}, authHeader)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("run assessment status: %d", resp.StatusCode)
	}
	if len(collector.categories) != 1 || collector.categories[0] != "license" {
		t.Fatalf("includedCategories not forwarded: %v", collector.categories)
	}
	if collector.creds.TenantID != overrideTenant {
		t.Fatalf("tenantId override not applied: %+v", collector.creds)
	}

	resp = env.post("/api/assessments", map[string]any{
		"customerId": customer.ID,
		"tenantId":   "not-a-guid",
	}, authHeader)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad tenantId should 400, got %d", resp.StatusCode)
	}
}

func TestAssessmentRequiresUsableRegistration(t *testing.T) {
	env := newTestAPI(t, nil, &fakeCollector{})
	authHeader := env.obtainToken("operator", []string{"admin"})
	customer := createdCustomer(t, env, authHeader, "contoso.onmicrosoft.com")

	// Corrupt the registration down to a placeholder.
	stored, _ := env.store.GetCustomer(context.Background(), customer.ID)
	stored.AppRegistration = placeholderRegistration(customer.ID)
	if err := env.store.UpdateCustomer(context.Background(), stored); err != nil {
		t.Fatalf("UpdateCustomer: %v", err)
	}

	resp := env.post("/api/assessments", map[string]any{"customerId": customer.ID}, authHeader)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if s, _ := body["troubleshooting"].(string); s == "" {
		t.Fatalf("409 must carry remediation guidance: %v", body)
	}
}

func TestAssessmentRequiresConsent(t *testing.T) {
	env := newTestAPI(t, nil, &fakeCollector{})
	authHeader := env.obtainToken("operator", []string{"admin"})
	customer := createdCustomer(t, env, authHeader, "contoso.onmicrosoft.com")

	resp := env.post("/api/assessments", map[string]any{"customerId": customer.ID}, authHeader)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("pending consent should 409, got %d", resp.StatusCode)
	}
}

func TestAssessmentCollectorFailure(t *testing.T) {
	collector := &fakeCollector{err: errors.New("invalid client credentials")}
	env := newTestAPI(t, nil, collector)
	authHeader := env.obtainToken("operator", []string{"admin"})
	customer := createdCustomer(t, env, authHeader, "contoso.onmicrosoft.com")
	grantConsent(t, env, customer.ID)

	resp := env.post("/api/assessments", map[string]any{"customerId": customer.ID}, authHeader)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}

	// No assessment row is written for a failed collection.
	list, _ := env.store.ListAssessments(context.Background(), customer.ID, 10)
	if len(list) != 0 {
		t.Fatalf("failed run must not persist an assessment: %v", list)
	}
}

func TestAssessmentPartialWhenCategorySkipped(t *testing.T) {
	metrics := healthyMetrics()
	metrics.SecureScore = tenant.SecureScoreMetrics{
		MetricStatus: tenant.Skip("permission denied reading secureScores; verify admin consent includes the required scope"),
	}
	collector := &fakeCollector{metrics: metrics}
	env := newTestAPI(t, nil, collector)
	authHeader := env.obtainToken("operator", []string{"admin"})
	customer := createdCustomer(t, env, authHeader, "contoso.onmicrosoft.com")
	grantConsent(t, env, customer.ID)

	resp := env.post("/api/assessments", map[string]any{"customerId": customer.ID}, authHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("partial data should still persist, got %d", resp.StatusCode)
	}
	assessment := decode[tenant.Assessment](t, resp)
	if assessment.Status != tenant.AssessmentPartial {
		t.Fatalf("skipped category should mark the run partial: %+v", assessment)
	}
	if !assessment.Metrics.SecureScore.Skipped {
		t.Fatalf("skip marker lost in persistence: %+v", assessment.Metrics.SecureScore)
	}
}

func TestAssessmentUnknownCustomer(t *testing.T) {
	env := newTestAPI(t, nil, &fakeCollector{})
	authHeader := env.obtainToken("operator", []string{"admin"})

	resp := env.post("/api/assessments", map[string]any{"customerId": "missing"}, authHeader)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
