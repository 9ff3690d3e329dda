// Package secrets stores per-customer client secrets, preferring Azure Key
// Vault and falling back to the customer record when no vault is configured.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"tenantscope.io/internal/config"
	"tenantscope.io/internal/obs"
	"tenantscope.io/internal/tenant"
)

// ErrNoSecret indicates no client secret is stored for the customer.
var ErrNoSecret = errors.New("no client secret stored for customer")

// vaultAPI is the slice of the Key Vault client used here; tests supply fakes.
type vaultAPI interface {
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// Manager reads and writes client secrets for customers.
type Manager struct {
	vault vaultAPI
	store tenant.Store
}

// NewManager builds a Manager. When KEY_VAULT_URL is unset the vault backend
// is disabled and secrets land in the customer record. That fallback is not
// secure and exists only for deployments without a vault.
func NewManager(cfg config.Config, store tenant.Store) (*Manager, error) {
	m := &Manager{store: store}
	if cfg.KeyVaultURL == "" {
		obs.LogEvent("warn", "key vault not configured, client secrets fall back to the data store", nil)
		return m, nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("vault credential: %w", err)
	}
	// Vault reads sit on the assessment path; bound retries so a throttled
	// vault fails fast instead of stalling the run.
	client, err := azsecrets.NewClient(cfg.KeyVaultURL, cred, &azsecrets.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: 3},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	m.vault = client
	return m, nil
}

// NewManagerWithVault wires an explicit vault backend; used by tests.
func NewManagerWithVault(vault vaultAPI, store tenant.Store) *Manager {
	return &Manager{vault: vault, store: store}
}

// StoreClientSecret persists the one-time-visible secret for a customer.
// Returns true when the secret landed in the vault.
func (m *Manager) StoreClientSecret(ctx context.Context, customerID, secretValue string) (bool, error) {
	if strings.TrimSpace(secretValue) == "" {
		return false, errors.New("secret value is required")
	}
	customer, err := m.store.GetCustomer(ctx, customerID)
	if err != nil {
		return false, err
	}
	if customer.AppRegistration == nil {
		customer.AppRegistration = &tenant.AppRegistration{}
	}

	if m.vault != nil {
		name := secretName(customerID)
		params := azsecrets.SetSecretParameters{Value: &secretValue}
		if _, err := m.vault.SetSecret(ctx, name, params, nil); err == nil {
			customer.AppRegistration.SecretRef = name
			customer.AppRegistration.ClientSecret = ""
			return true, m.store.UpdateCustomer(ctx, customer)
		} else {
			obs.LogEvent("warn", "vault write failed, storing secret in record", map[string]any{
				"customer_id": customerID,
				"error":       err.Error(),
			})
		}
	}

	customer.AppRegistration.ClientSecret = secretValue
	customer.AppRegistration.SecretRef = ""
	return false, m.store.UpdateCustomer(ctx, customer)
}

// GetClientSecret retrieves the stored secret for a customer, resolving a
// vault reference when present.
func (m *Manager) GetClientSecret(ctx context.Context, customer tenant.Customer) (string, error) {
	reg := customer.AppRegistration
	if reg == nil {
		return "", ErrNoSecret
	}
	if reg.SecretRef != "" {
		if m.vault == nil {
			return "", fmt.Errorf("secret %s is vaulted but no vault is configured", reg.SecretRef)
		}
		resp, err := m.vault.GetSecret(ctx, reg.SecretRef, "", nil)
		if err != nil {
			return "", fmt.Errorf("vault read: %w", err)
		}
		if resp.Value == nil || *resp.Value == "" {
			return "", ErrNoSecret
		}
		return *resp.Value, nil
	}
	if reg.ClientSecret != "" {
		return reg.ClientSecret, nil
	}
	return "", ErrNoSecret
}

// secretName derives a deterministic vault secret name per customer.
func secretName(customerID string) string {
	return "customer-" + strings.ToLower(customerID) + "-client-secret"
}
