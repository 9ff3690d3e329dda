package entra

import (
	"errors"
	"fmt"
	"strings"
)

// GraphError is a normalised Microsoft Graph API failure.
type GraphError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsTransient reports whether the call may succeed on retry.
func (e *GraphError) IsTransient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsPermissionDenied reports whether the caller lacks a Graph permission.
func (e *GraphError) IsPermissionDenied() bool {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return true
	}
	if e.Code == "Authorization_RequestDenied" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "insufficient privileges")
}

// AsGraphError unwraps err into a GraphError if possible.
func AsGraphError(err error) (*GraphError, bool) {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// PermissionRemediation translates a permission failure into actionable
// guidance instead of a raw API error.
func PermissionRemediation(err error) (string, bool) {
	ge, ok := AsGraphError(err)
	if !ok || !ge.IsPermissionDenied() {
		return "", false
	}
	return "the partner service principal is missing the Application.ReadWrite.All Graph permission; " +
		"grant it (with admin consent) on the partner app registration and retry", true
}
