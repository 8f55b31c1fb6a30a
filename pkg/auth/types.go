package auth

import "time"

// CredentialKind names the scheme that authenticated a request.
type CredentialKind string

const (
	CredentialAPIKey CredentialKind = "api-key"
	CredentialJWT    CredentialKind = "jwt"
)

// AuthContext is the normalized identity of one request. OrganizationID and
// CredentialKind are always set; actor fields are set only for JWT callers.
type AuthContext struct {
	OrganizationID string         `json:"organizationId"`
	CredentialKind CredentialKind `json:"credentialKind"`
	ActorUserID    string         `json:"actorUserId,omitempty"`
	ActorEmail     string         `json:"actorEmail,omitempty"`
	// Roles are the caller's assigned role names. Empty means no grants.
	Roles    []string `json:"roles,omitempty"`
	APIKeyID string   `json:"apiKeyId,omitempty"`
}

// IsAPIKey reports whether the request authenticated with an API key.
func (a *AuthContext) IsAPIKey() bool {
	return a != nil && a.CredentialKind == CredentialAPIKey
}

// IsJWT reports whether the request authenticated with a bearer token.
func (a *AuthContext) IsJWT() bool {
	return a != nil && a.CredentialKind == CredentialJWT
}

// Identity is the user extracted from a verified token.
type Identity struct {
	UserID string
	Email  string
}

// APIKey is an organization-bound API key record. The plaintext key is
// shown once at creation and never stored.
type APIKey struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	Name           string     `json:"name"`
	KeyPrefix      string     `json:"keyPrefix"`
	KeyHash        string     `json:"-"`
	IsActive       bool       `json:"isActive"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt     *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Usable reports whether the key is active, unrevoked and unexpired at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k == nil || !k.IsActive || k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}
