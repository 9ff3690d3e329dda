package entra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"tenantscope.io/internal/obs"
	"tenantscope.io/internal/tenant"
)

const loginBase = "https://login.microsoftonline.com"

var guidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// Resolution is the outcome of mapping a customer-supplied identifier to a
// tenant. Resolved is false when every lookup failed and TenantID still holds
// the original input; consent URLs must then use the common endpoint.
type Resolution struct {
	TenantID string `json:"tenantId"`
	Resolved bool   `json:"resolved"`
	Method   string `json:"method"`
}

// Resolver maps domains to Azure AD tenant GUIDs via OpenID Connect
// discovery, with a realm-discovery fallback.
type Resolver struct {
	client           *http.Client
	loginBase        string
	realmBase        string
	discoveryTimeout time.Duration
	realmTimeout     time.Duration
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient overrides the HTTP client used for lookups.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.client = c
		}
	}
}

// WithLoginBase overrides the login.microsoftonline.com base URL.
func WithLoginBase(base string) ResolverOption {
	return func(r *Resolver) {
		if base != "" {
			r.loginBase = strings.TrimRight(base, "/")
		}
	}
}

// WithRealmBase overrides the federation-provider fallback base URL.
func WithRealmBase(base string) ResolverOption {
	return func(r *Resolver) {
		if base != "" {
			r.realmBase = strings.TrimRight(base, "/")
		}
	}
}

// NewResolver constructs a Resolver with production defaults.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client:           &http.Client{Timeout: 15 * time.Second},
		loginBase:        loginBase,
		realmBase:        "https://odc.officeapps.live.com/odc/v2.1/federationprovider",
		discoveryTimeout: 10 * time.Second,
		realmTimeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve determines the tenant GUID for a domain or tenant id. It never
// returns an error for an unresolvable domain: the input is handed back
// unresolved so callers can degrade to the common consent endpoint.
func (r *Resolver) Resolve(ctx context.Context, input string) Resolution {
	input = strings.TrimSpace(input)
	if tenant.IsGUID(input) {
		return Resolution{TenantID: input, Resolved: true, Method: "guid"}
	}
	if strings.HasSuffix(strings.ToLower(input), ".onmicrosoft.com") {
		return Resolution{TenantID: input, Resolved: true, Method: "onmicrosoft"}
	}

	if id, err := r.discover(ctx, input); err == nil {
		return Resolution{TenantID: id, Resolved: true, Method: "oidc-discovery"}
	} else {
		obs.LogEvent("warn", "oidc discovery failed", map[string]any{
			"domain": input,
			"error":  err.Error(),
		})
	}

	if id, err := r.realmLookup(ctx, input); err == nil {
		return Resolution{TenantID: id, Resolved: true, Method: "federation-provider"}
	} else {
		obs.LogEvent("warn", "realm lookup failed, falling back to common", map[string]any{
			"domain": input,
			"error":  err.Error(),
		})
	}

	return Resolution{TenantID: input, Resolved: false, Method: "passthrough"}
}

// discover pulls the tenant's OpenID Connect discovery document and extracts
// the GUID from the issuer URL.
func (r *Resolver) discover(ctx context.Context, domain string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.discoveryTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s/v2.0/.well-known/openid-configuration", r.loginBase, url.PathEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery returned %d", resp.StatusCode)
	}

	var doc struct {
		Issuer string `json:"issuer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode discovery document: %w", err)
	}
	id := guidPattern.FindString(doc.Issuer)
	if id == "" {
		return "", fmt.Errorf("no tenant id in issuer %q", doc.Issuer)
	}
	return id, nil
}

// realmLookup asks the Office federation-provider endpoint for the tenant id.
func (r *Resolver) realmLookup(ctx context.Context, domain string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.realmTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s?domain=%s", r.realmBase, url.QueryEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("federation provider returned %d", resp.StatusCode)
	}

	var doc struct {
		TenantID string `json:"tenantId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode federation response: %w", err)
	}
	if !tenant.IsGUID(doc.TenantID) {
		return "", fmt.Errorf("federation provider returned no tenant id")
	}
	return doc.TenantID, nil
}
