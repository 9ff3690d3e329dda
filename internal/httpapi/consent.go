package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"tenantscope.io/internal/obs"
	"tenantscope.io/internal/tenant"
)

// handleConsentCallback receives the browser redirect from the Microsoft
// admin-consent endpoint. Every outcome ends in a redirect back to the
// portal; this endpoint never renders errors to the admin directly.
func (a *API) handleConsentCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()

	claims, err := a.signer.Decode(q.Get("state"))
	if err != nil {
		obs.ObserveConsentCallback("invalid_state")
		a.redirectConsent(w, r, "error", "", "the consent link is invalid or has expired")
		return
	}

	customer, err := a.store.GetCustomer(r.Context(), claims.CustomerID)
	if err != nil {
		obs.ObserveConsentCallback("unknown_customer")
		a.redirectConsent(w, r, "error", claims.CustomerID, "customer record not found")
		return
	}
	if customer.AppRegistration == nil {
		customer.AppRegistration = &tenant.AppRegistration{ConsentStatus: tenant.ConsentPending}
	}
	reg := customer.AppRegistration

	if errCode := q.Get("error"); errCode != "" {
		if reg.ConsentStatus != tenant.ConsentGranted {
			reg.ConsentStatus = tenant.ConsentDenied
			if err := a.store.UpdateCustomer(r.Context(), customer); err != nil {
				handleStoreError(w, r, err)
				return
			}
		}
		obs.ObserveConsentCallback("denied")
		a.audit(r.Context(), "consent.denied", map[string]any{
			"customer_id": customer.ID,
			"error":       errCode,
		})
		a.redirectConsent(w, r, "error", customer.ID, consentErrorMessage(errCode, q.Get("error_description")))
		return
	}

	if !strings.EqualFold(q.Get("admin_consent"), "true") {
		obs.ObserveConsentCallback("incomplete")
		a.redirectConsent(w, r, "error", customer.ID, "the consent response was incomplete")
		return
	}

	// Replayed success callbacks are a no-op; consent stays granted.
	if reg.ConsentStatus != tenant.ConsentGranted {
		now := time.Now().UTC()
		reg.ConsentStatus = tenant.ConsentGranted
		reg.ConsentedAt = &now
		reg.NeedsSetup = false
		if consentTenant := q.Get("tenant"); tenant.IsGUID(consentTenant) {
			reg.ConsentTenantID = consentTenant
			if customer.TenantID == "" {
				customer.TenantID = consentTenant
			}
		}
		if err := a.store.UpdateCustomer(r.Context(), customer); err != nil {
			handleStoreError(w, r, err)
			return
		}
	}

	obs.ObserveConsentCallback("granted")
	a.audit(r.Context(), "consent.granted", map[string]any{
		"customer_id": customer.ID,
		"tenant_id":   reg.ConsentTenantID,
	})
	a.redirectConsent(w, r, "success", customer.ID, "")
}

func (a *API) redirectConsent(w http.ResponseWriter, r *http.Request, status, customerID, message string) {
	q := url.Values{}
	q.Set("status", status)
	if customerID != "" {
		q.Set("customerId", customerID)
	}
	if message != "" {
		q.Set("message", message)
	}
	target := strings.TrimRight(a.cfg.PortalBaseURL, "/") + "/consent-result?" + q.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// consentErrorMessage maps OAuth error codes to operator-friendly text.
func consentErrorMessage(code, description string) string {
	switch code {
	case "access_denied":
		return "the administrator declined the permission request"
	case "invalid_request":
		return "Microsoft rejected the consent request; verify the redirect URI registration"
	}
	if description != "" {
		return description
	}
	return "consent failed: " + code
}
