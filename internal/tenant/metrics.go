package tenant

// MetricStatus marks a metric category that could not be collected. A failing
// Graph call degrades its own category to skipped instead of failing the run.
type MetricStatus struct {
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Skip returns a status describing why the category is unavailable.
func Skip(reason string) MetricStatus {
	return MetricStatus{Skipped: true, Reason: reason}
}

// SKULicense is one subscribed SKU with its seat usage.
type SKULicense struct {
	SKUPartNumber string `json:"skuPartNumber"`
	EnabledUnits  int32  `json:"enabledUnits"`
	ConsumedUnits int32  `json:"consumedUnits"`
}

// LicenseMetrics summarises the tenant's subscribed SKUs.
type LicenseMetrics struct {
	MetricStatus
	TotalEnabled  int32        `json:"totalEnabled,omitempty"`
	TotalConsumed int32        `json:"totalConsumed,omitempty"`
	SKUs          []SKULicense `json:"skus,omitempty"`
}

// ControlGap is a secure-score improvement opportunity.
type ControlGap struct {
	Title    string  `json:"title"`
	Category string  `json:"category,omitempty"`
	MaxScore float64 `json:"maxScore,omitempty"`
}

// SecureScoreMetrics summarises the tenant's latest Microsoft Secure Score.
type SecureScoreMetrics struct {
	MetricStatus
	CurrentScore    float64      `json:"currentScore,omitempty"`
	MaxScore        float64      `json:"maxScore,omitempty"`
	Percentage      float64      `json:"percentage,omitempty"`
	TopImprovements []ControlGap `json:"topImprovements,omitempty"`
}

// PolicySummary is one conditional access policy.
type PolicySummary struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// IdentityMetrics summarises users, MFA coverage and identity controls.
type IdentityMetrics struct {
	MetricStatus
	UserCount                 int             `json:"userCount,omitempty"`
	EnabledUserCount          int             `json:"enabledUserCount,omitempty"`
	MFARegisteredCount        int             `json:"mfaRegisteredCount,omitempty"`
	MFACoveragePercent        float64         `json:"mfaCoveragePercent,omitempty"`
	ConditionalAccessPolicies []PolicySummary `json:"conditionalAccessPolicies,omitempty"`
	DirectoryRoles            []string        `json:"directoryRoles,omitempty"`
}

// AssessmentMetrics is the aggregate result blob persisted per assessment.
type AssessmentMetrics struct {
	License     LicenseMetrics     `json:"license"`
	SecureScore SecureScoreMetrics `json:"secureScore"`
	Identity    IdentityMetrics    `json:"identity"`
}

// SkippedCount returns how many categories degraded during collection.
func (m AssessmentMetrics) SkippedCount() int {
	n := 0
	if m.License.Skipped {
		n++
	}
	if m.SecureScore.Skipped {
		n++
	}
	if m.Identity.Skipped {
		n++
	}
	return n
}
