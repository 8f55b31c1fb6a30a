package auth

import (
	"errors"
	"net/http"
)

// Credential resolution failures. All are terminal for the request.
var (
	ErrAuthenticationRequired     = errors.New("authentication required")
	ErrInvalidCredentialFormat    = errors.New("invalid credential format")
	ErrMalformedCredential        = errors.New("malformed credential")
	ErrInvalidOrExpiredCredential = errors.New("invalid or expired credential")
	ErrMissingOrganizationContext = errors.New("organization context required")
	ErrOrganizationAccessDenied   = errors.New("organization access denied")
)

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{ErrAuthenticationRequired, "authentication_required", http.StatusUnauthorized},
	{ErrInvalidCredentialFormat, "invalid_credential_format", http.StatusUnauthorized},
	{ErrMalformedCredential, "malformed_credential", http.StatusUnauthorized},
	{ErrInvalidOrExpiredCredential, "invalid_credential", http.StatusUnauthorized},
	{ErrMissingOrganizationContext, "organization_required", http.StatusBadRequest},
	{ErrOrganizationAccessDenied, "organization_access_denied", http.StatusForbidden},
}

// ErrorCode returns the API error code and HTTP status for a resolver error.
// Unknown errors map to invalid_credential/401.
func ErrorCode(err error) (string, int) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code, e.status
		}
	}
	return "invalid_credential", http.StatusUnauthorized
}
