package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"tenantscope.io/internal/entra"
	"tenantscope.io/internal/obs"
)

// sdkSource implements Source over the Microsoft Graph SDK using a
// client-credentials grant against the customer tenant.
type sdkSource struct {
	client *msgraphsdk.GraphServiceClient
}

var _ Source = (*sdkSource)(nil)

// NewGraphSource authenticates the multi-tenant application against the
// customer tenant identified by the credentials.
func NewGraphSource(creds TenantCredentials) (Source, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	cred, err := azidentity.NewClientSecretCredential(creds.TenantID, creds.ClientID, creds.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("tenant credential: %w", err)
	}
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{entra.GraphScope})
	if err != nil {
		return nil, fmt.Errorf("graph client: %w", err)
	}
	return &sdkSource{client: client}, nil
}

func (s *sdkSource) SubscribedSKUs(ctx context.Context) ([]SKU, error) {
	resp, err := s.client.SubscribedSkus().Get(ctx, nil)
	if err != nil {
		obs.ObserveGraphRequest("subscribedSkus", "error")
		return nil, normalize(err)
	}
	obs.ObserveGraphRequest("subscribedSkus", "ok")

	out := make([]SKU, 0, len(resp.GetValue()))
	for _, sku := range resp.GetValue() {
		item := SKU{}
		if part := sku.GetSkuPartNumber(); part != nil {
			item.PartNumber = *part
		}
		if consumed := sku.GetConsumedUnits(); consumed != nil {
			item.Consumed = *consumed
		}
		if prepaid := sku.GetPrepaidUnits(); prepaid != nil {
			if enabled := prepaid.GetEnabled(); enabled != nil {
				item.Enabled = *enabled
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *sdkSource) LatestSecureScore(ctx context.Context) (ScoreSnapshot, error) {
	resp, err := s.client.Security().SecureScores().Get(ctx, nil)
	if err != nil {
		obs.ObserveGraphRequest("secureScores", "error")
		return ScoreSnapshot{}, normalize(err)
	}
	obs.ObserveGraphRequest("secureScores", "ok")

	values := resp.GetValue()
	if len(values) == 0 {
		return ScoreSnapshot{}, errors.New("tenant has no secure score snapshots")
	}
	// Graph returns snapshots newest first.
	latest := values[0]
	snap := ScoreSnapshot{}
	if v := latest.GetCurrentScore(); v != nil {
		snap.Current = *v
	}
	if v := latest.GetMaxScore(); v != nil {
		snap.Max = *v
	}
	if v := latest.GetCreatedDateTime(); v != nil {
		snap.CreatedAt = *v
	}
	return snap, nil
}

func (s *sdkSource) ControlProfiles(ctx context.Context) ([]ControlProfile, error) {
	resp, err := s.client.Security().SecureScoreControlProfiles().Get(ctx, nil)
	if err != nil {
		obs.ObserveGraphRequest("secureScoreControlProfiles", "error")
		return nil, normalize(err)
	}
	obs.ObserveGraphRequest("secureScoreControlProfiles", "ok")

	out := make([]ControlProfile, 0, len(resp.GetValue()))
	for _, profile := range resp.GetValue() {
		item := ControlProfile{}
		if v := profile.GetTitle(); v != nil {
			item.Title = *v
		}
		if v := profile.GetControlCategory(); v != nil {
			item.Category = *v
		}
		if v := profile.GetMaxScore(); v != nil {
			item.MaxScore = *v
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *sdkSource) UserStats(ctx context.Context) (UserStats, error) {
	// accountEnabled filtering needs an advanced query; Graph requires the
	// eventual-consistency header for those.
	headers := abstractions.NewRequestHeaders()
	headers.Add("ConsistencyLevel", "eventual")
	resp, err := s.client.Users().Get(ctx, &users.UsersRequestBuilderGetRequestConfiguration{
		Headers: headers,
	})
	if err != nil {
		obs.ObserveGraphRequest("users", "error")
		return UserStats{}, normalize(err)
	}
	obs.ObserveGraphRequest("users", "ok")

	stats := UserStats{}
	iterator, err := msgraphcore.NewPageIterator[models.Userable](
		resp,
		s.client.GetAdapter(),
		models.CreateUserCollectionResponseFromDiscriminatorValue)
	if err != nil {
		return UserStats{}, normalize(err)
	}
	err = iterator.Iterate(ctx, func(user models.Userable) bool {
		stats.Total++
		if enabled := user.GetAccountEnabled(); enabled != nil && *enabled {
			stats.Enabled++
		}
		return true
	})
	if err != nil {
		return UserStats{}, normalize(err)
	}
	return stats, nil
}

func (s *sdkSource) MFARegistration(ctx context.Context) (MFAStats, error) {
	resp, err := s.client.Reports().AuthenticationMethods().UserRegistrationDetails().Get(ctx, nil)
	if err != nil {
		obs.ObserveGraphRequest("userRegistrationDetails", "error")
		return MFAStats{}, normalize(err)
	}
	obs.ObserveGraphRequest("userRegistrationDetails", "ok")

	stats := MFAStats{}
	for _, detail := range resp.GetValue() {
		stats.Total++
		if v := detail.GetIsMfaRegistered(); v != nil && *v {
			stats.Registered++
		}
	}
	return stats, nil
}

func (s *sdkSource) ConditionalAccessPolicies(ctx context.Context) ([]Policy, error) {
	resp, err := s.client.Identity().ConditionalAccess().Policies().Get(ctx, nil)
	if err != nil {
		obs.ObserveGraphRequest("conditionalAccessPolicies", "error")
		return nil, normalize(err)
	}
	obs.ObserveGraphRequest("conditionalAccessPolicies", "ok")

	out := make([]Policy, 0, len(resp.GetValue()))
	for _, policy := range resp.GetValue() {
		item := Policy{}
		if v := policy.GetDisplayName(); v != nil {
			item.Name = *v
		}
		if v := policy.GetState(); v != nil {
			item.State = v.String()
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *sdkSource) DirectoryRoles(ctx context.Context) ([]string, error) {
	resp, err := s.client.DirectoryRoles().Get(ctx, nil)
	if err != nil {
		obs.ObserveGraphRequest("directoryRoles", "error")
		return nil, normalize(err)
	}
	obs.ObserveGraphRequest("directoryRoles", "ok")

	out := make([]string, 0, len(resp.GetValue()))
	for _, role := range resp.GetValue() {
		if v := role.GetDisplayName(); v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// normalize converts SDK errors into entra.GraphError so the collector can
// distinguish permission denials from transient failures.
func normalize(err error) error {
	oerr, ok := err.(*odataerrors.ODataError)
	if !ok {
		return err
	}
	ge := &entra.GraphError{StatusCode: oerr.ResponseStatusCode}
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
