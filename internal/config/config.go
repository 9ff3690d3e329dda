package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Config carries every process-level setting. It is loaded once in main and
// injected; packages must not read the environment themselves.
type Config struct {
	// Partner (home tenant) service principal. Required for any Graph write
	// and for the shared multi-tenant application pattern.
	AzureClientID     string
	AzureClientSecret string
	AzureTenantID     string

	// RedirectURI is the registered admin-consent redirect target, e.g.
	// https://api.example.com/api/consent-callback.
	RedirectURI string

	// PortalBaseURL is where consent results are surfaced to the browser.
	PortalBaseURL string

	// KeyVaultURL enables the Key Vault secret backend when set.
	KeyVaultURL string

	// PostgresDSN enables the durable store; empty means in-memory.
	PostgresDSN string

	// AuthSecret signs operator bearer tokens.
	AuthSecret string

	// StateSecret signs the OAuth consent state token. Falls back to
	// AuthSecret when unset.
	StateSecret string

	ListenAddr string
}

// FromEnv builds a Config from process environment variables.
func FromEnv() Config {
	cfg := Config{
		AzureClientID:     strings.TrimSpace(os.Getenv("AZURE_CLIENT_ID")),
		AzureClientSecret: strings.TrimSpace(os.Getenv("AZURE_CLIENT_SECRET")),
		AzureTenantID:     strings.TrimSpace(os.Getenv("AZURE_TENANT_ID")),
		RedirectURI:       strings.TrimSpace(os.Getenv("REDIRECT_URI")),
		PortalBaseURL:     strings.TrimSpace(os.Getenv("PORTAL_BASE_URL")),
		KeyVaultURL:       strings.TrimSpace(os.Getenv("KEY_VAULT_URL")),
		PostgresDSN:       strings.TrimSpace(os.Getenv("TENANTSCOPE_PG_DSN")),
		AuthSecret:        strings.TrimSpace(os.Getenv("TENANTSCOPE_AUTH_SECRET")),
		StateSecret:       strings.TrimSpace(os.Getenv("TENANTSCOPE_STATE_SECRET")),
		ListenAddr:        strings.TrimSpace(os.Getenv("TENANTSCOPE_LISTEN_ADDR")),
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.PortalBaseURL == "" {
		cfg.PortalBaseURL = "http://localhost:3000"
	}
	if cfg.StateSecret == "" {
		cfg.StateSecret = cfg.AuthSecret
	}
	return cfg
}

// ErrPartnerCredentials indicates the partner service principal is not
// configured. Graph provisioning fails fast with this error instead of
// attempting a partial call.
var ErrPartnerCredentials = errors.New("partner credentials missing: set AZURE_CLIENT_ID, AZURE_CLIENT_SECRET and AZURE_TENANT_ID")

// ValidatePartner reports whether the partner service principal is usable.
func (c Config) ValidatePartner() error {
	if c.AzureClientID == "" || c.AzureClientSecret == "" || c.AzureTenantID == "" {
		return ErrPartnerCredentials
	}
	return nil
}

// Validate checks settings needed before the server starts.
func (c Config) Validate() error {
	if c.RedirectURI == "" {
		return fmt.Errorf("REDIRECT_URI is required")
	}
	return nil
}
