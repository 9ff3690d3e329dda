package entra

import (
	"fmt"
	"net/url"
	"strings"

	"tenantscope.io/internal/tenant"
)

// ConsentTenant picks the tenant segment for the admin-consent URL. A GUID or
// an .onmicrosoft.com domain is used verbatim. A bare custom domain is
// replaced with "common" so the consent endpoint accepts the request
// regardless of which tenant the admin signs in from.
func ConsentTenant(tenantOrDomain string) string {
	t := strings.TrimSpace(tenantOrDomain)
	if t == "" {
		return "common"
	}
	if tenant.IsGUID(t) {
		return t
	}
	if strings.HasSuffix(strings.ToLower(t), ".onmicrosoft.com") {
		return t
	}
	if strings.Contains(t, ".") {
		return "common"
	}
	return t
}

// GenerateConsentURL builds the admin-consent URL. Pure string construction;
// the format is an interop contract with Azure AD and must not change.
func GenerateConsentURL(clientID, tenantOrDomain, redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return fmt.Sprintf("%s/%s/adminconsent?%s", loginBase, ConsentTenant(tenantOrDomain), q.Encode())
}

// GenerateAuthURL builds the interactive v2.0 authorize URL for the same
// application, used by UIs that prefer the code flow over /adminconsent.
func GenerateAuthURL(clientID, tenantOrDomain, redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("response_type", "code")
	q.Set("response_mode", "query")
	q.Set("scope", "https://graph.microsoft.com/.default")
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize?%s", loginBase, ConsentTenant(tenantOrDomain), q.Encode())
}
