package entra

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidState indicates the consent state token failed validation.
var ErrInvalidState = errors.New("invalid consent state")

const stateIssuer = "tenantscope-consent"

// DefaultStateTTL bounds how long a generated consent URL stays valid.
const DefaultStateTTL = time.Hour

// StateClaims is the payload carried through the OAuth redirect chain. The
// token is signed so a forged or replayed callback cannot bind consent to an
// arbitrary customer.
type StateClaims struct {
	CustomerID string `json:"customerId"`
	ClientID   string `json:"clientId"`
	TenantID   string `json:"tenantId,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner encodes and verifies consent state tokens.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewStateSigner creates a signer. A zero ttl uses DefaultStateTTL.
func NewStateSigner(secret string, ttl time.Duration) (*StateSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("state secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl}, nil
}

// Encode signs a state token for one consent round trip.
func (s *StateSigner) Encode(customerID, clientID, tenantID string) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", errors.New("customerID is required")
	}
	now := time.Now().UTC()
	claims := StateClaims{
		CustomerID: customerID,
		ClientID:   clientID,
		TenantID:   tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Decode verifies the signature and expiry and returns the claims.
func (s *StateSigner) Decode(raw string) (*StateClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidState
	}
	parsed, err := jwt.ParseWithClaims(raw, &StateClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidState
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidState
	}
	claims, ok := parsed.Claims.(*StateClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidState
	}
	if claims.Issuer != stateIssuer || strings.TrimSpace(claims.CustomerID) == "" {
		return nil, ErrInvalidState
	}
	return claims, nil
}
