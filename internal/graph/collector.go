// Package graph collects security, identity and license data from a customer
// tenant via Microsoft Graph using the consented multi-tenant application.
package graph

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"tenantscope.io/internal/entra"
	"tenantscope.io/internal/obs"
	"tenantscope.io/internal/tenant"
)

// TenantCredentials authenticate the app against one customer tenant.
type TenantCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Validate checks the credentials are complete before any network call.
func (c TenantCredentials) Validate() error {
	if !tenant.IsGUID(c.TenantID) {
		return errors.New("tenant id must be a GUID")
	}
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return errors.New("client id and secret are required")
	}
	return nil
}

// notRequestedReason marks categories the caller excluded, as opposed to
// categories that failed to collect.
const notRequestedReason = "not requested"

// Metric categories accepted by Collect.
const (
	CategoryLicense     = "license"
	CategorySecureScore = "secureScore"
	CategoryIdentity    = "identity"
)

// SKU is one subscribed SKU as reported by Graph.
type SKU struct {
	PartNumber string
	Enabled    int32
	Consumed   int32
}

// ScoreSnapshot is the most recent secure score.
type ScoreSnapshot struct {
	Current   float64
	Max       float64
	CreatedAt time.Time
}

// ControlProfile describes one secure-score control.
type ControlProfile struct {
	Title    string
	Category string
	MaxScore float64
}

// UserStats counts directory users.
type UserStats struct {
	Total   int
	Enabled int
}

// MFAStats counts MFA registration coverage.
type MFAStats struct {
	Registered int
	Total      int
}

// Policy is one conditional access policy.
type Policy struct {
	Name  string
	State string
}

// Source is the slice of Graph reads one assessment needs. Implementations
// authenticate against a single customer tenant.
type Source interface {
	SubscribedSKUs(ctx context.Context) ([]SKU, error)
	LatestSecureScore(ctx context.Context) (ScoreSnapshot, error)
	ControlProfiles(ctx context.Context) ([]ControlProfile, error)
	UserStats(ctx context.Context) (UserStats, error)
	MFARegistration(ctx context.Context) (MFAStats, error)
	ConditionalAccessPolicies(ctx context.Context) ([]Policy, error)
	DirectoryRoles(ctx context.Context) ([]string, error)
}

// SourceFactory builds a Source for the given tenant credentials.
type SourceFactory func(creds TenantCredentials) (Source, error)

// Collector runs the read-only assessment battery. Each category is wrapped
// independently so a missing permission degrades that one metric instead of
// failing the whole assessment.
type Collector struct {
	newSource SourceFactory
}

// NewCollector wires a collector over the given source factory.
func NewCollector(factory SourceFactory) *Collector {
	return &Collector{newSource: factory}
}

// Collect gathers the requested metric categories concurrently. An empty
// category list collects everything. Only credential/source construction
// errors are returned; per-category failures are reported inline.
func (c *Collector) Collect(ctx context.Context, creds TenantCredentials, categories []string) (tenant.AssessmentMetrics, error) {
	if err := creds.Validate(); err != nil {
		return tenant.AssessmentMetrics{}, err
	}
	src, err := c.newSource(creds)
	if err != nil {
		return tenant.AssessmentMetrics{}, err
	}

	want := categorySet(categories)
	var metrics tenant.AssessmentMetrics
	var wg sync.WaitGroup

	if want[CategoryLicense] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.License = collectLicenses(ctx, src)
		}()
	} else {
		metrics.License.MetricStatus = tenant.Skip(notRequestedReason)
	}

	if want[CategorySecureScore] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.SecureScore = collectSecureScore(ctx, src)
		}()
	} else {
		metrics.SecureScore.MetricStatus = tenant.Skip(notRequestedReason)
	}

	if want[CategoryIdentity] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.Identity = collectIdentity(ctx, src)
		}()
	} else {
		metrics.Identity.MetricStatus = tenant.Skip(notRequestedReason)
	}

	wg.Wait()
	return metrics, nil
}

func categorySet(categories []string) map[string]bool {
	if len(categories) == 0 {
		return map[string]bool{CategoryLicense: true, CategorySecureScore: true, CategoryIdentity: true}
	}
	out := map[string]bool{}
	for _, c := range categories {
		out[strings.TrimSpace(c)] = true
	}
	return out
}

func collectLicenses(ctx context.Context, src Source) tenant.LicenseMetrics {
	skus, err := src.SubscribedSKUs(ctx)
	if err != nil {
		return tenant.LicenseMetrics{MetricStatus: skipFor(err, "subscribedSkus")}
	}
	out := tenant.LicenseMetrics{SKUs: make([]tenant.SKULicense, 0, len(skus))}
	for _, s := range skus {
		out.TotalEnabled += s.Enabled
		out.TotalConsumed += s.Consumed
		out.SKUs = append(out.SKUs, tenant.SKULicense{
			SKUPartNumber: s.PartNumber,
			EnabledUnits:  s.Enabled,
			ConsumedUnits: s.Consumed,
		})
	}
	return out
}

func collectSecureScore(ctx context.Context, src Source) tenant.SecureScoreMetrics {
	snap, err := src.LatestSecureScore(ctx)
	if err != nil {
		return tenant.SecureScoreMetrics{MetricStatus: skipFor(err, "secureScores")}
	}
	out := tenant.SecureScoreMetrics{CurrentScore: snap.Current, MaxScore: snap.Max}
	if snap.Max > 0 {
		out.Percentage = 100 * snap.Current / snap.Max
	}

	// Control profiles enrich the score with improvement candidates; their
	// absence does not degrade the category.
	profiles, err := src.ControlProfiles(ctx)
	if err != nil {
		obs.LogEvent("warn", "control profiles unavailable", map[string]any{"error": err.Error()})
		return out
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].MaxScore > profiles[j].MaxScore })
	for i, p := range profiles {
		if i >= 5 {
			break
		}
		out.TopImprovements = append(out.TopImprovements, tenant.ControlGap{
			Title:    p.Title,
			Category: p.Category,
			MaxScore: p.MaxScore,
		})
	}
	return out
}

func collectIdentity(ctx context.Context, src Source) tenant.IdentityMetrics {
	users, err := src.UserStats(ctx)
	if err != nil {
		return tenant.IdentityMetrics{MetricStatus: skipFor(err, "users")}
	}
	out := tenant.IdentityMetrics{
		UserCount:        users.Total,
		EnabledUserCount: users.Enabled,
	}

	// The remaining identity reads each need their own permission; a denial
	// leaves the corresponding field empty rather than dropping the category.
	if mfa, err := src.MFARegistration(ctx); err == nil {
		out.MFARegisteredCount = mfa.Registered
		if mfa.Total > 0 {
			out.MFACoveragePercent = 100 * float64(mfa.Registered) / float64(mfa.Total)
		}
	} else {
		obs.LogEvent("warn", "mfa registration report unavailable", map[string]any{"error": err.Error()})
	}

	if policies, err := src.ConditionalAccessPolicies(ctx); err == nil {
		for _, p := range policies {
			out.ConditionalAccessPolicies = append(out.ConditionalAccessPolicies, tenant.PolicySummary{
				Name:  p.Name,
				State: p.State,
			})
		}
	} else {
		obs.LogEvent("warn", "conditional access policies unavailable", map[string]any{"error": err.Error()})
	}

	if roles, err := src.DirectoryRoles(ctx); err == nil {
		out.DirectoryRoles = roles
	} else {
		obs.LogEvent("warn", "directory roles unavailable", map[string]any{"error": err.Error()})
	}
	return out
}

// skipFor turns a Graph failure into an explicit unavailable marker, keeping
// the permission name visible when consent is the root cause.
func skipFor(err error, endpoint string) tenant.MetricStatus {
	if ge, ok := entra.AsGraphError(err); ok && ge.IsPermissionDenied() {
		return tenant.Skip("permission denied reading " + endpoint + "; verify admin consent includes the required scope")
	}
	return tenant.Skip(endpoint + " unavailable: " + err.Error())
}
