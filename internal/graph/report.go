package graph

import (
	"fmt"
	"math"

	"tenantscope.io/internal/tenant"
)

// Score derives the headline assessment score. The secure-score percentage
// is authoritative when available; otherwise MFA coverage stands in.
func Score(m tenant.AssessmentMetrics) float64 {
	if !m.SecureScore.Skipped && m.SecureScore.MaxScore > 0 {
		return math.Round(m.SecureScore.Percentage*10) / 10
	}
	if !m.Identity.Skipped {
		return math.Round(m.Identity.MFACoveragePercent*10) / 10
	}
	return 0
}

// Recommendations turns collected metrics into short actionable guidance.
func Recommendations(m tenant.AssessmentMetrics) []string {
	var out []string

	for _, gap := range m.SecureScore.TopImprovements {
		if len(out) >= 3 {
			break
		}
		out = append(out, "Address secure score control: "+gap.Title)
	}

	if !m.Identity.Skipped {
		unregistered := m.Identity.EnabledUserCount - m.Identity.MFARegisteredCount
		if unregistered > 0 {
			out = append(out, fmt.Sprintf("Register MFA for %d users without a strong authentication method", unregistered))
		}
		if len(m.Identity.ConditionalAccessPolicies) == 0 {
			out = append(out, "No conditional access policies found; deploy a baseline policy set")
		}
	}

	if !m.License.Skipped && m.License.TotalEnabled > 0 {
		unused := m.License.TotalEnabled - m.License.TotalConsumed
		if unused > 0 {
			out = append(out, fmt.Sprintf("%d purchased license seats are unassigned", unused))
		}
	}

	return out
}

// RunStatus maps the degradation count to an assessment status. Partial data
// is always better than total failure. Categories the caller excluded do not
// count against the run.
func RunStatus(m tenant.AssessmentMetrics) string {
	requested, failed := 0, 0
	for _, st := range []tenant.MetricStatus{m.License.MetricStatus, m.SecureScore.MetricStatus, m.Identity.MetricStatus} {
		if st.Skipped && st.Reason == notRequestedReason {
			continue
		}
		requested++
		if st.Skipped {
			failed++
		}
	}
	switch {
	case requested == 0 || failed == 0:
		return tenant.AssessmentCompleted
	case failed == requested:
		return tenant.AssessmentFailed
	default:
		return tenant.AssessmentPartial
	}
}
