package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"tenantscope.io/internal/tenant"
)

// createdCustomer registers a customer through the API and returns it.
func createdCustomer(t *testing.T, env *testEnv, authHeader map[string]string, domain string) tenant.Customer {
	t.Helper()
	resp := env.post("/api/customers", map[string]any{
		"tenantName":   "Contoso",
		"tenantDomain": domain,
	}, authHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create customer status: %d", resp.StatusCode)
	}
	return decode[tenant.Customer](t, resp)
}

// consentState extracts the signed state token from a consent URL.
func consentState(t *testing.T, consentURL string) string {
	t.Helper()
	u, err := url.Parse(consentURL)
	if err != nil {
		t.Fatalf("parse consent url: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("consent url carries no state: %s", consentURL)
	}
	return state
}

func redirectQuery(t *testing.T, resp *http.Response) url.Values {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect location: %v", err)
	}
	return loc.Query()
}

func TestConsentCallbackSuccess(t *testing.T) {
	env := newTestAPI(t, nil, nil)
	authHeader := env.obtainToken("operator", []string{"admin"})
	customer := createdCustomer(t, env, authHeader, "contoso.onmicrosoft.com")
	state := consentState(t, customer.AppRegistration.ConsentURL)

	resp := env.get("/api/consent-callback?state="+url.QueryEscape(state)+
		"&admin_consent=True&tenant="+customerTenant, nil)
	q := redirectQuery(t, resp)
	if q.Get("status") != "success" {
		t.Fatalf("expected success redirect, got %v", q)
	}
	if q.Get("customerId") != customer.ID {
		t.Fatalf("redirect missing customer id: %v", q)
	}

	stored, err := env.store.GetCustomer(context.Background(), customer.ID)
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	reg := stored.AppRegistration
	if reg.ConsentStatus != tenant.ConsentGranted || reg.ConsentedAt == nil {
		t.Fatalf("consent not recorded: %+v", reg)
	}
	if reg.ConsentTenantID != customerTenant || stored.TenantID != customerTenant {
		t.Fatalf("consent tenant not recorded: %+v", stored)
	}

	// Replayed callback stays a success and does not flip state.
	resp = env.get("/api/consent-callback?state="+url.QueryEscape(state)+
		"&admin_consent=True&tenant="+customerTenant, nil)
	q = redirectQuery(t, resp)
	if q.Get("status") != "success" {
		t.Fatalf("replay should stay success, got %v", q)
	}
}

func TestConsentCallbackDenied(t *testing.T) {
	env := newTestAPI(t, nil, nil)
	authHeader := env.obtainToken("operator", []string{"admin"})
	customer := createdCustomer(t, env, authHeader, "contoso.onmicrosoft.com")
	state := consentState(t, customer.AppRegistration.ConsentURL)

	resp := env.get("/api/consent-callback?state="+url.QueryEscape(state)+
		"&error=access_denied&error_description=AADSTS65004", nil)
	q := redirectQuery(t, resp)
	if q.Get("status") != "error" {
		t.Fatalf("expected error redirect, got %v", q)
	}
	if q.Get("message") == "" {
		t.Fatalf("denial redirect carries no message: %v", q)
	}

	stored, _ := env.store.GetCustomer(context.Background(), customer.ID)
	if stored.AppRegistration.ConsentStatus != tenant.ConsentDenied {
		t.Fatalf("denial not recorded: %+v", stored.AppRegistration)
	}
}

func TestConsentCallbackRejectsForgedState(t *testing.T) {
	env := newTestAPI(t, nil, nil)

	resp := env.get("/api/consent-callback?state=forged&admin_consent=True", nil)
	q := redirectQuery(t, resp)
	if q.Get("status") != "error" {
		t.Fatalf("forged state must redirect with error, got %v", q)
	}
	if q.Get("customerId") != "" {
		t.Fatalf("forged state must not leak a customer id: %v", q)
	}
}

func TestConsentCallbackIsPublic(t *testing.T) {
	env := newTestAPI(t, nil, nil)

	// No Authorization header: the endpoint must not 401, it serves the
	// customer admin's browser.
	resp := env.get("/api/consent-callback?state=bogus", nil)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatalf("consent callback must be public")
	}
}
