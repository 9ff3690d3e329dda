package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantscope.io/internal/entra"
)

// fakeSource returns canned data per endpoint; setting an error simulates a
// denied or failing Graph call.
type fakeSource struct {
	skus     []SKU
	skusErr  error
	score    ScoreSnapshot
	scoreErr error
	profiles []ControlProfile
	profErr  error
	users    UserStats
	usersErr error
	mfa      MFAStats
	mfaErr   error
	policies []Policy
	polErr   error
	roles    []string
	rolesErr error
}

func (f *fakeSource) SubscribedSKUs(ctx context.Context) ([]SKU, error) {
	return f.skus, f.skusErr
}
func (f *fakeSource) LatestSecureScore(ctx context.Context) (ScoreSnapshot, error) {
	return f.score, f.scoreErr
}
func (f *fakeSource) ControlProfiles(ctx context.Context) ([]ControlProfile, error) {
	return f.profiles, f.profErr
}
func (f *fakeSource) UserStats(ctx context.Context) (UserStats, error) {
	return f.users, f.usersErr
}
func (f *fakeSource) MFARegistration(ctx context.Context) (MFAStats, error) {
	return f.mfa, f.mfaErr
}
func (f *fakeSource) ConditionalAccessPolicies(ctx context.Context) ([]Policy, error) {
	return f.policies, f.polErr
}
func (f *fakeSource) DirectoryRoles(ctx context.Context) ([]string, error) {
	return f.roles, f.rolesErr
}

func testCreds() TenantCredentials {
	return TenantCredentials{
		TenantID:     "a1b2c3d4-0000-1111-2222-333344445555",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	}
}

func collectorFor(src Source) *Collector {
	return NewCollector(func(TenantCredentials) (Source, error) { return src, nil })
}

func healthySource() *fakeSource {
	return &fakeSource{
		skus: []SKU{
			{PartNumber: "ENTERPRISEPACK", Enabled: 100, Consumed: 80},
			{PartNumber: "EMS", Enabled: 50, Consumed: 50},
		},
		score: ScoreSnapshot{Current: 60, Max: 80, CreatedAt: time.Now()},
		profiles: []ControlProfile{
			{Title: "Enable MFA for admins", Category: "Identity", MaxScore: 10},
			{Title: "Block legacy auth", Category: "Identity", MaxScore: 8},
		},
		users:    UserStats{Total: 120, Enabled: 100},
		mfa:      MFAStats{Registered: 75, Total: 100},
		policies: []Policy{{Name: "Require MFA", State: "enabled"}},
		roles:    []string{"Global Administrator"},
	}
}

func TestCollectAllCategories(t *testing.T) {
	metrics, err := collectorFor(healthySource()).Collect(context.Background(), testCreds(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, metrics.SkippedCount())
	assert.Equal(t, int32(150), metrics.License.TotalEnabled)
	assert.Equal(t, int32(130), metrics.License.TotalConsumed)
	assert.InDelta(t, 75.0, metrics.SecureScore.Percentage, 0.001)
	require.Len(t, metrics.SecureScore.TopImprovements, 2)
	assert.Equal(t, "Enable MFA for admins", metrics.SecureScore.TopImprovements[0].Title)
	assert.Equal(t, 120, metrics.Identity.UserCount)
	assert.InDelta(t, 75.0, metrics.Identity.MFACoveragePercent, 0.001)
}

func TestCollectValidatesCredentials(t *testing.T) {
	_, err := collectorFor(healthySource()).Collect(context.Background(), TenantCredentials{
		TenantID: "not-a-guid", ClientID: "c", ClientSecret: "s",
	}, nil)
	assert.Error(t, err)
}

// A permission denial on one category degrades that category only.
func TestCollectDegradesPerCategory(t *testing.T) {
	src := healthySource()
	src.scoreErr = &entra.GraphError{StatusCode: 403, Code: "Authorization_RequestDenied"}

	metrics, err := collectorFor(src).Collect(context.Background(), testCreds(), nil)
	require.NoError(t, err)

	assert.True(t, metrics.SecureScore.Skipped)
	assert.Contains(t, metrics.SecureScore.Reason, "permission denied")
	assert.Contains(t, metrics.SecureScore.Reason, "admin consent")
	assert.False(t, metrics.License.Skipped)
	assert.False(t, metrics.Identity.Skipped)
	assert.Equal(t, 1, metrics.SkippedCount())
}

func TestCollectIdentitySoftFailures(t *testing.T) {
	src := healthySource()
	src.mfaErr = errors.New("report not licensed")
	src.polErr = &entra.GraphError{StatusCode: 403}

	metrics, err := collectorFor(src).Collect(context.Background(), testCreds(), nil)
	require.NoError(t, err)

	// The identity category survives; only the denied sub-reads are empty.
	assert.False(t, metrics.Identity.Skipped)
	assert.Equal(t, 120, metrics.Identity.UserCount)
	assert.Zero(t, metrics.Identity.MFARegisteredCount)
	assert.Empty(t, metrics.Identity.ConditionalAccessPolicies)
	assert.Equal(t, []string{"Global Administrator"}, metrics.Identity.DirectoryRoles)
}

func TestCollectRequestedSubset(t *testing.T) {
	src := healthySource()
	metrics, err := collectorFor(src).Collect(context.Background(), testCreds(), []string{CategoryLicense})
	require.NoError(t, err)

	assert.False(t, metrics.License.Skipped)
	assert.True(t, metrics.SecureScore.Skipped)
	assert.Equal(t, notRequestedReason, metrics.SecureScore.Reason)
	assert.True(t, metrics.Identity.Skipped)
	assert.Equal(t, notRequestedReason, metrics.Identity.Reason)
}

func TestCollectProfileFailureKeepsScore(t *testing.T) {
	src := healthySource()
	src.profErr = errors.New("profiles unavailable")

	metrics, err := collectorFor(src).Collect(context.Background(), testCreds(), []string{CategorySecureScore})
	require.NoError(t, err)
	assert.False(t, metrics.SecureScore.Skipped)
	assert.InDelta(t, 75.0, metrics.SecureScore.Percentage, 0.001)
	assert.Empty(t, metrics.SecureScore.TopImprovements)
}

func TestCollectSourceFactoryError(t *testing.T) {
	c := NewCollector(func(TenantCredentials) (Source, error) {
		return nil, errors.New("credential rejected")
	})
	_, err := c.Collect(context.Background(), testCreds(), nil)
	assert.Error(t, err)
}
