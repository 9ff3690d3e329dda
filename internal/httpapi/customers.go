package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"tenantscope.io/internal/config"
	"tenantscope.io/internal/entra"
	"tenantscope.io/internal/tenant"
)

type createCustomerRequest struct {
	TenantName   string `json:"tenantName"`
	TenantDomain string `json:"tenantDomain"`
	// TenantID skips domain resolution when the caller already knows the GUID.
	TenantID     string `json:"tenantId"`
	ContactEmail string `json:"contactEmail"`
	Notes        string `json:"notes"`
	// SkipAutoAppRegistration stores a needs-setup placeholder instead of
	// binding the shared application.
	SkipAutoAppRegistration bool `json:"skipAutoAppRegistration"`
}

type provisionAppRequest struct {
	Permissions []string `json:"permissions"`
}

type provisionAppResponse struct {
	ClientID           string `json:"clientId"`
	ServicePrincipalID string `json:"servicePrincipalId"`
	// ClientSecret is shown exactly once; it is not retrievable later.
	ClientSecret string   `json:"clientSecret"`
	ConsentURL   string   `json:"consentUrl"`
	AuthURL      string   `json:"authUrl"`
	Permissions  []string `json:"permissions"`
	SecretStored bool     `json:"secretStored"`
}

func (a *API) handleCustomersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createCustomer(w, r)
	case http.MethodGet:
		a.listCustomers(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCustomerResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/customers/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/app-registration") {
		id := strings.TrimSuffix(path, "/app-registration")
		id = strings.TrimSuffix(id, "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "customer not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.provisionDedicatedApp(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getCustomer(w, r, path)
	case http.MethodDelete:
		a.deleteCustomer(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// createCustomer registers a customer tenant. When the partner service
// principal is configured the customer is bound to the shared multi-tenant
// application and gets a ready-to-send consent URL; otherwise a placeholder
// registration is stored and a dedicated app must be provisioned later.
func (a *API) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	name := strings.TrimSpace(req.TenantName)
	domain := strings.TrimSpace(strings.ToLower(req.TenantDomain))
	if name == "" || domain == "" {
		writeError(w, r, http.StatusBadRequest, "tenantName and tenantDomain are required")
		return
	}
	explicitTenant := strings.TrimSpace(req.TenantID)
	if explicitTenant != "" && !tenant.IsGUID(explicitTenant) {
		writeError(w, r, http.StatusBadRequest, "tenantId must be a GUID")
		return
	}

	resolution := a.resolver.Resolve(r.Context(), domain)

	customer := tenant.Customer{
		TenantName:   name,
		TenantDomain: domain,
		ContactEmail: strings.TrimSpace(req.ContactEmail),
		Notes:        strings.TrimSpace(req.Notes),
	}
	switch {
	case explicitTenant != "":
		customer.TenantID = explicitTenant
	case resolution.Resolved && tenant.IsGUID(resolution.TenantID):
		customer.TenantID = resolution.TenantID
	}

	customer, err := a.store.CreateCustomer(r.Context(), customer)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	reg := &tenant.AppRegistration{
		ConsentStatus: tenant.ConsentPending,
	}
	if a.cfg.ValidatePartner() == nil && !req.SkipAutoAppRegistration {
		state, err := a.signer.Encode(customer.ID, a.cfg.AzureClientID, customer.TenantID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "consent state generation failed")
			return
		}
		consentTenant := resolution.TenantID
		if customer.TenantID != "" {
			consentTenant = customer.TenantID
		}
		reg.ClientID = a.cfg.AzureClientID
		reg.IsReal = true
		reg.Permissions = append([]string(nil), entra.DefaultPermissions...)
		reg.ConsentURL = entra.GenerateConsentURL(a.cfg.AzureClientID, consentTenant, a.cfg.RedirectURI, state)
	} else {
		reg.ClientID = tenant.PlaceholderPrefix + customer.ID
		reg.NeedsSetup = true
	}
	customer.AppRegistration = reg
	if err := a.store.UpdateCustomer(r.Context(), customer); err != nil {
		handleStoreError(w, r, err)
		return
	}

	a.audit(r.Context(), "customer.create", map[string]any{
		"customer_id":    customer.ID,
		"tenant_domain":  domain,
		"tenant_id":      customer.TenantID,
		"resolve_method": resolution.Method,
		"shared_app":     reg.IsReal,
	})

	w.Header().Set("Location", "/api/customers/"+customer.ID)
	writeJSON(w, http.StatusCreated, sanitizeCustomer(customer))
}

func (a *API) listCustomers(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("includeDeleted") == "true"
	customers, err := a.store.ListCustomers(r.Context(), includeDeleted)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	out := make([]tenant.Customer, 0, len(customers))
	for _, c := range customers {
		out = append(out, sanitizeCustomer(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": out,
		"asOf":  time.Now().UTC(),
	})
}

func (a *API) getCustomer(w http.ResponseWriter, r *http.Request, id string) {
	customer, err := a.store.GetCustomer(r.Context(), id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitizeCustomer(customer))
}

func (a *API) deleteCustomer(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.store.DeleteCustomer(r.Context(), id); err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.audit(r.Context(), "customer.delete", map[string]any{"customer_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

// provisionDedicatedApp creates a customer-specific multi-tenant application
// instead of the shared one. Used when a customer requires its own app object
// for audit or permission isolation.
func (a *API) provisionDedicatedApp(w http.ResponseWriter, r *http.Request, id string) {
	if a.provisioner == nil {
		writeErrorDetail(w, r, http.StatusServiceUnavailable,
			"app registration is not available",
			"set AZURE_CLIENT_ID, AZURE_CLIENT_SECRET and AZURE_TENANT_ID for the partner tenant and restart")
		return
	}

	customer, err := a.store.GetCustomer(r.Context(), id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	var req provisionAppRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	tenantOrDomain := customer.TenantID
	if tenantOrDomain == "" {
		resolution := a.resolver.Resolve(r.Context(), customer.TenantDomain)
		tenantOrDomain = resolution.TenantID
		if resolution.Resolved && tenant.IsGUID(resolution.TenantID) {
			customer.TenantID = resolution.TenantID
		}
	}

	state, err := a.signer.Encode(customer.ID, "", customer.TenantID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "consent state generation failed")
		return
	}

	result, err := a.provisioner.Provision(r.Context(), entra.ProvisionRequest{
		TenantName:     customer.TenantName,
		TenantOrDomain: tenantOrDomain,
		Permissions:    req.Permissions,
		State:          state,
		RedirectURI:    a.cfg.RedirectURI,
	})
	if err != nil {
		if errors.Is(err, config.ErrPartnerCredentials) {
			writeErrorDetail(w, r, http.StatusServiceUnavailable, err.Error(),
				"set AZURE_CLIENT_ID, AZURE_CLIENT_SECRET and AZURE_TENANT_ID for the partner tenant and restart")
			return
		}
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}

	customer.AppRegistration = &tenant.AppRegistration{
		ClientID:           result.ClientID,
		ServicePrincipalID: result.ServicePrincipalID,
		Permissions:        result.Permissions,
		IsReal:             true,
		ConsentURL:         result.ConsentURL,
		ConsentStatus:      tenant.ConsentPending,
	}
	if err := a.store.UpdateCustomer(r.Context(), customer); err != nil {
		handleStoreError(w, r, err)
		return
	}

	vaulted, err := a.secrets.StoreClientSecret(r.Context(), customer.ID, result.ClientSecret)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "client secret could not be stored")
		return
	}

	a.audit(r.Context(), "customer.app_registration.create", map[string]any{
		"customer_id": customer.ID,
		"client_id":   result.ClientID,
		"permissions": result.Permissions,
		"vaulted":     vaulted,
	})

	writeJSON(w, http.StatusCreated, provisionAppResponse{
		ClientID:           result.ClientID,
		ServicePrincipalID: result.ServicePrincipalID,
		ClientSecret:       result.ClientSecret,
		ConsentURL:         result.ConsentURL,
		AuthURL:            result.AuthURL,
		Permissions:        result.Permissions,
		SecretStored:       vaulted,
	})
}

// sanitizeCustomer strips the raw client secret from API responses.
func sanitizeCustomer(c tenant.Customer) tenant.Customer {
	if c.AppRegistration != nil && c.AppRegistration.ClientSecret != "" {
		reg := *c.AppRegistration
		reg.ClientSecret = ""
		c.AppRegistration = &reg
	}
	return c
}
