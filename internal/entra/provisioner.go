package entra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenantscope.io/internal/config"
	"tenantscope.io/internal/obs"
)

const (
	createAppAttempts = 3
	retryBackoff      = 500 * time.Millisecond
)

// CreatedApp identifies a freshly created Azure AD application. ObjectID is
// the directory object id, AppID the client id used for sign-in.
type CreatedApp struct {
	ObjectID string
	AppID    string
}

// AppWriter is the slice of Microsoft Graph needed to provision an
// application in the partner tenant.
type AppWriter interface {
	CreateApplication(ctx context.Context, displayName string, roleIDs []uuid.UUID) (CreatedApp, error)
	CreateServicePrincipal(ctx context.Context, appID string) (string, error)
	AddPassword(ctx context.Context, appObjectID, displayName string) (string, error)
}

// ProvisionRequest describes one dedicated app registration.
type ProvisionRequest struct {
	// TenantName names the application ("TenantScope - <name>").
	TenantName string
	// TenantOrDomain selects the consent endpoint tenant segment.
	TenantOrDomain string
	// Permissions defaults to DefaultPermissions when empty.
	Permissions []string
	// State is the signed consent state token embedded in the URLs.
	State string
	// RedirectURI is the registered consent callback.
	RedirectURI string
}

// ProvisionResult is the outcome of a dedicated app registration. The client
// secret is only visible here; callers must persist it immediately.
type ProvisionResult struct {
	ClientID           string
	ServicePrincipalID string
	ClientSecret       string
	TenantID           string
	ConsentURL         string
	AuthURL            string
	Permissions        []string
	SecretStored       bool
}

// Provisioner creates multi-tenant app registrations in the partner tenant.
type Provisioner struct {
	writer  AppWriter
	partner config.Config
}

// NewProvisioner fails fast when the partner service principal is not
// configured; no partial provisioning is ever attempted.
func NewProvisioner(cfg config.Config, writer AppWriter) (*Provisioner, error) {
	if err := cfg.ValidatePartner(); err != nil {
		return nil, err
	}
	if writer == nil {
		return nil, fmt.Errorf("app writer is required")
	}
	return &Provisioner{writer: writer, partner: cfg}, nil
}

// Provision creates the application, its service principal and a client
// secret. Application creation is retried on throttling and 5xx responses.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	name := strings.TrimSpace(req.TenantName)
	if name == "" {
		return ProvisionResult{}, fmt.Errorf("tenant name is required")
	}
	perms := req.Permissions
	if len(perms) == 0 {
		perms = DefaultPermissions
	}
	roleIDs, err := PermissionIDs(perms)
	if err != nil {
		return ProvisionResult{}, err
	}

	displayName := "TenantScope - " + name

	var app CreatedApp
	for attempt := 1; ; attempt++ {
		app, err = p.writer.CreateApplication(ctx, displayName, roleIDs)
		if err == nil {
			break
		}
		ge, ok := AsGraphError(err)
		if !ok || !ge.IsTransient() || attempt >= createAppAttempts {
			return ProvisionResult{}, p.translate(err, "create application")
		}
		obs.LogEvent("warn", "application create retry", map[string]any{
			"attempt": attempt,
			"status":  ge.StatusCode,
		})
		select {
		case <-ctx.Done():
			return ProvisionResult{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}

	spID, err := p.writer.CreateServicePrincipal(ctx, app.AppID)
	if err != nil {
		return ProvisionResult{}, p.translate(err, "create service principal")
	}

	secret, err := p.writer.AddPassword(ctx, app.ObjectID, displayName)
	if err != nil {
		return ProvisionResult{}, p.translate(err, "add client secret")
	}

	return ProvisionResult{
		ClientID:           app.AppID,
		ServicePrincipalID: spID,
		ClientSecret:       secret,
		TenantID:           p.partner.AzureTenantID,
		ConsentURL:         GenerateConsentURL(app.AppID, req.TenantOrDomain, req.RedirectURI, req.State),
		AuthURL:            GenerateAuthURL(app.AppID, req.TenantOrDomain, req.RedirectURI, req.State),
		Permissions:        perms,
	}, nil
}

func (p *Provisioner) translate(err error, op string) error {
	if msg, ok := PermissionRemediation(err); ok {
		return fmt.Errorf("%s: %s", op, msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}
