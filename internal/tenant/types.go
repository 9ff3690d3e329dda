package tenant

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Customer lifecycle statuses.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Consent states for an app registration.
const (
	ConsentPending = "pending"
	ConsentGranted = "consented"
	ConsentDenied  = "denied"
)

// Assessment run statuses.
const (
	AssessmentCompleted = "completed"
	AssessmentPartial   = "partial"
	AssessmentFailed    = "failed"
)

// PlaceholderPrefix marks client ids written by early setup paths before a
// real application exists. Registrations carrying it are never usable.
const PlaceholderPrefix = "pending-"

// AppRegistration is the per-customer view of the Azure AD application used
// to access the customer tenant.
type AppRegistration struct {
	ClientID           string `json:"clientId"`
	ServicePrincipalID string `json:"servicePrincipalId,omitempty"`
	// ClientSecret is only populated on the insecure fallback path; the
	// preferred location is Key Vault via SecretRef.
	ClientSecret    string     `json:"clientSecret,omitempty"`
	SecretRef       string     `json:"secretRef,omitempty"`
	Permissions     []string   `json:"permissions,omitempty"`
	IsReal          bool       `json:"isReal"`
	NeedsSetup      bool       `json:"needsSetup"`
	ConsentURL      string     `json:"consentUrl,omitempty"`
	ConsentStatus   string     `json:"consentStatus,omitempty"`
	ConsentTenantID string     `json:"consentTenantId,omitempty"`
	ConsentedAt     *time.Time `json:"consentedAt,omitempty"`
}

// Usable reports whether the registration identifies a real application that
// an assessment can authenticate with.
func (r *AppRegistration) Usable() bool {
	if r == nil {
		return false
	}
	return IsGUID(r.ClientID) && !strings.HasPrefix(r.ClientID, PlaceholderPrefix)
}

// Customer is a registered Microsoft 365 tenant owned by a partner.
type Customer struct {
	ID                 string           `json:"id"`
	TenantName         string           `json:"tenantName"`
	TenantDomain       string           `json:"tenantDomain"`
	TenantID           string           `json:"tenantId,omitempty"`
	ContactEmail       string           `json:"contactEmail,omitempty"`
	Notes              string           `json:"notes,omitempty"`
	Status             string           `json:"status"`
	CreatedDate        time.Time        `json:"createdDate"`
	LastAssessmentDate *time.Time       `json:"lastAssessmentDate,omitempty"`
	TotalAssessments   int              `json:"totalAssessments"`
	AppRegistration    *AppRegistration `json:"appRegistration,omitempty"`
}

// Assessment is one security-assessment run against a customer tenant.
type Assessment struct {
	ID              string            `json:"id"`
	CustomerID      string            `json:"customerId"`
	TenantID        string            `json:"tenantId"`
	Status          string            `json:"status"`
	Score           float64           `json:"score"`
	Metrics         AssessmentMetrics `json:"metrics"`
	Recommendations []string          `json:"recommendations,omitempty"`
	CreatedDate     time.Time         `json:"createdDate"`
}

var (
	ErrNotFound = errors.New("not found")
	// ErrNeedsSetup indicates the stored app registration is a placeholder
	// or corrupted and the customer must re-run provisioning/consent.
	ErrNeedsSetup = errors.New("app registration needs setup")
	// ErrConsentRequired indicates the customer admin has not granted consent.
	ErrConsentRequired = errors.New("admin consent has not been granted")
)

// IsGUID reports whether s parses as a GUID.
func IsGUID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ValidateAppRegistration defends against malformed stored registrations.
// It accepts an AppRegistration value, a generic JSON object or a JSON
// string, and returns the decoded registration only when it carries a
// non-empty clientId (legacy records may use applicationId). Anything else,
// including nil, empty objects and non-JSON strings, reads as absent.
func ValidateAppRegistration(raw any) (*AppRegistration, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case *AppRegistration:
		if v == nil || strings.TrimSpace(v.ClientID) == "" {
			return nil, false
		}
		return v, true
	case AppRegistration:
		if strings.TrimSpace(v.ClientID) == "" {
			return nil, false
		}
		return &v, true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, false
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, false
		}
		return registrationFromMap(obj)
	case []byte:
		var obj map[string]any
		if err := json.Unmarshal(v, &obj); err != nil {
			return nil, false
		}
		return registrationFromMap(obj)
	case map[string]any:
		return registrationFromMap(v)
	default:
		return nil, false
	}
}

func registrationFromMap(obj map[string]any) (*AppRegistration, bool) {
	clientID, _ := obj["clientId"].(string)
	if strings.TrimSpace(clientID) == "" {
		// Legacy records stored the value under applicationId.
		clientID, _ = obj["applicationId"].(string)
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, false
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, false
	}
	var reg AppRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, false
	}
	if reg.ClientID == "" {
		reg.ClientID = clientID
	}
	return &reg, true
}
