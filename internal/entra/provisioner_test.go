package entra

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantscope.io/internal/config"
)

type fakeWriter struct {
	createErrs  []error
	createCalls int
	displayName string
	roleIDs     []uuid.UUID
	spErr       error
	secretErr   error
}

func (f *fakeWriter) CreateApplication(ctx context.Context, displayName string, roleIDs []uuid.UUID) (CreatedApp, error) {
	f.createCalls++
	f.displayName = displayName
	f.roleIDs = roleIDs
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return CreatedApp{}, err
		}
	}
	return CreatedApp{ObjectID: "obj-1", AppID: "app-1"}, nil
}

func (f *fakeWriter) CreateServicePrincipal(ctx context.Context, appID string) (string, error) {
	if f.spErr != nil {
		return "", f.spErr
	}
	return "sp-1", nil
}

func (f *fakeWriter) AddPassword(ctx context.Context, appObjectID, displayName string) (string, error) {
	if f.secretErr != nil {
		return "", f.secretErr
	}
	return "s3cr3t", nil
}

func partnerConfig() config.Config {
	return config.Config{
		AzureClientID:     "11111111-1111-1111-1111-111111111111",
		AzureClientSecret: "partner-secret",
		AzureTenantID:     "22222222-2222-2222-2222-222222222222",
		RedirectURI:       "https://api.example.com/api/consent-callback",
	}
}

func TestNewProvisionerRequiresPartnerCredentials(t *testing.T) {
	_, err := NewProvisioner(config.Config{}, &fakeWriter{})
	assert.ErrorIs(t, err, config.ErrPartnerCredentials)
}

func TestProvisionHappyPath(t *testing.T) {
	writer := &fakeWriter{}
	p, err := NewProvisioner(partnerConfig(), writer)
	require.NoError(t, err)

	result, err := p.Provision(context.Background(), ProvisionRequest{
		TenantName:     "Contoso",
		TenantOrDomain: "contoso.com",
		State:          "state-1",
		RedirectURI:    "https://api.example.com/api/consent-callback",
	})
	require.NoError(t, err)

	assert.Equal(t, "TenantScope - Contoso", writer.displayName)
	assert.Len(t, writer.roleIDs, len(DefaultPermissions))
	assert.Equal(t, "app-1", result.ClientID)
	assert.Equal(t, "sp-1", result.ServicePrincipalID)
	assert.Equal(t, "s3cr3t", result.ClientSecret)
	assert.Equal(t, DefaultPermissions, result.Permissions)
	assert.Contains(t, result.ConsentURL, "/common/adminconsent?")
	assert.Contains(t, result.ConsentURL, "client_id=app-1")
	assert.Contains(t, result.ConsentURL, "state=state-1")
}

func TestProvisionRetriesTransientFailures(t *testing.T) {
	writer := &fakeWriter{
		createErrs: []error{
			&GraphError{StatusCode: 503, Code: "ServiceUnavailable"},
			&GraphError{StatusCode: 429, Code: "TooManyRequests"},
			nil,
		},
	}
	p, err := NewProvisioner(partnerConfig(), writer)
	require.NoError(t, err)

	_, err = p.Provision(context.Background(), ProvisionRequest{TenantName: "Contoso"})
	require.NoError(t, err)
	assert.Equal(t, 3, writer.createCalls)
}

func TestProvisionGivesUpAfterThreeAttempts(t *testing.T) {
	writer := &fakeWriter{
		createErrs: []error{
			&GraphError{StatusCode: 500},
			&GraphError{StatusCode: 500},
			&GraphError{StatusCode: 500},
		},
	}
	p, err := NewProvisioner(partnerConfig(), writer)
	require.NoError(t, err)

	_, err = p.Provision(context.Background(), ProvisionRequest{TenantName: "Contoso"})
	require.Error(t, err)
	assert.Equal(t, 3, writer.createCalls)
}

func TestProvisionFailsFastOnClientError(t *testing.T) {
	writer := &fakeWriter{
		createErrs: []error{&GraphError{StatusCode: 400, Code: "Request_BadRequest"}},
	}
	p, err := NewProvisioner(partnerConfig(), writer)
	require.NoError(t, err)

	_, err = p.Provision(context.Background(), ProvisionRequest{TenantName: "Contoso"})
	require.Error(t, err)
	assert.Equal(t, 1, writer.createCalls)
}

func TestProvisionPermissionErrorCarriesRemediation(t *testing.T) {
	writer := &fakeWriter{
		createErrs: []error{&GraphError{StatusCode: 403, Code: "Authorization_RequestDenied"}},
	}
	p, err := NewProvisioner(partnerConfig(), writer)
	require.NoError(t, err)

	_, err = p.Provision(context.Background(), ProvisionRequest{TenantName: "Contoso"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Application.ReadWrite.All"), err.Error())
}

func TestProvisionRejectsUnknownPermission(t *testing.T) {
	p, err := NewProvisioner(partnerConfig(), &fakeWriter{})
	require.NoError(t, err)

	_, err = p.Provision(context.Background(), ProvisionRequest{
		TenantName:  "Contoso",
		Permissions: []string{"Mail.ReadWrite"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown Graph permission")
}
