package entra

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/google/uuid"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/applications"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"

	"tenantscope.io/internal/config"
	"tenantscope.io/internal/obs"
)

// GraphScope is the default scope for app-only Graph tokens.
const GraphScope = "https://graph.microsoft.com/.default"

const multiTenantAudience = "AzureADMultipleOrgs"

// GraphAppWriter implements AppWriter against Microsoft Graph using the
// partner tenant's client-credentials grant.
type GraphAppWriter struct {
	client *msgraphsdk.GraphServiceClient
}

var _ AppWriter = (*GraphAppWriter)(nil)

// NewGraphAppWriter authenticates as the partner service principal.
func NewGraphAppWriter(cfg config.Config) (*GraphAppWriter, error) {
	if err := cfg.ValidatePartner(); err != nil {
		return nil, err
	}
	cred, err := azidentity.NewClientSecretCredential(cfg.AzureTenantID, cfg.AzureClientID, cfg.AzureClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("partner credential: %w", err)
	}
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{GraphScope})
	if err != nil {
		return nil, fmt.Errorf("graph client: %w", err)
	}
	return &GraphAppWriter{client: client}, nil
}

// CreateApplication creates a multi-tenant application object carrying the
// Graph application permissions identified by roleIDs.
func (w *GraphAppWriter) CreateApplication(ctx context.Context, displayName string, roleIDs []uuid.UUID) (CreatedApp, error) {
	app := models.NewApplication()
	app.SetDisplayName(&displayName)
	audience := multiTenantAudience
	app.SetSignInAudience(&audience)

	access := make([]models.ResourceAccessable, 0, len(roleIDs))
	for i := range roleIDs {
		ra := models.NewResourceAccess()
		ra.SetId(&roleIDs[i])
		kind := "Role"
		ra.SetTypeEscaped(&kind)
		access = append(access, ra)
	}
	rra := models.NewRequiredResourceAccess()
	graphAppID := GraphResourceAppID
	rra.SetResourceAppId(&graphAppID)
	rra.SetResourceAccess(access)
	app.SetRequiredResourceAccess([]models.RequiredResourceAccessable{rra})

	created, err := w.client.Applications().Post(ctx, app, nil)
	if err != nil {
		obs.ObserveGraphRequest("applications.create", "error")
		return CreatedApp{}, translateODataError(err)
	}
	obs.ObserveGraphRequest("applications.create", "ok")

	out := CreatedApp{}
	if id := created.GetId(); id != nil {
		out.ObjectID = *id
	}
	if appID := created.GetAppId(); appID != nil {
		out.AppID = *appID
	}
	if out.ObjectID == "" || out.AppID == "" {
		return CreatedApp{}, fmt.Errorf("graph returned application without identifiers")
	}
	return out, nil
}

// CreateServicePrincipal instantiates the application in the partner tenant.
func (w *GraphAppWriter) CreateServicePrincipal(ctx context.Context, appID string) (string, error) {
	sp := models.NewServicePrincipal()
	sp.SetAppId(&appID)
	created, err := w.client.ServicePrincipals().Post(ctx, sp, nil)
	if err != nil {
		obs.ObserveGraphRequest("serviceprincipals.create", "error")
		return "", translateODataError(err)
	}
	obs.ObserveGraphRequest("serviceprincipals.create", "ok")
	if id := created.GetId(); id != nil {
		return *id, nil
	}
	return "", fmt.Errorf("graph returned service principal without id")
}

// AddPassword generates a client secret on the application. The secret text
// is only returned once by Graph and cannot be retrieved again.
func (w *GraphAppWriter) AddPassword(ctx context.Context, appObjectID, displayName string) (string, error) {
	pc := models.NewPasswordCredential()
	pc.SetDisplayName(&displayName)
	body := applications.NewItemAddPasswordPostRequestBody()
	body.SetPasswordCredential(pc)

	cred, err := w.client.Applications().ByApplicationId(appObjectID).AddPassword().Post(ctx, body, nil)
	if err != nil {
		obs.ObserveGraphRequest("applications.addpassword", "error")
		return "", translateODataError(err)
	}
	obs.ObserveGraphRequest("applications.addpassword", "ok")
	if secret := cred.GetSecretText(); secret != nil {
		return *secret, nil
	}
	return "", fmt.Errorf("graph returned password credential without secret text")
}

// translateODataError normalises SDK errors into GraphError so retry and
// permission handling can branch on status and code.
func translateODataError(err error) error {
	oerr, ok := err.(*odataerrors.ODataError)
	if !ok {
		return err
	}
	ge := &GraphError{StatusCode: oerr.ResponseStatusCode}
	if mainErr := oerr.GetErrorEscaped(); mainErr != nil {
		if code := mainErr.GetCode(); code != nil {
			ge.Code = *code
		}
		if msg := mainErr.GetMessage(); msg != nil {
			ge.Message = *msg
		}
	}
	return ge
}
