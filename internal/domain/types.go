package domain

import "time"

// CredentialKind identifies how an identity was resolved.
type CredentialKind string

const (
	// CredentialAPIKey means the request carried a valid X-API-Key.
	CredentialAPIKey CredentialKind = "api_key"

	// CredentialSession means the request carried a valid bearer token.
	CredentialSession CredentialKind = "session"
)

// Identity is the resolved principal a request is attributed to for rate
// limiting and auditing. It is created once per request and never mutated.
type Identity struct {
	// UserID is the durable user the credential belongs to.
	UserID string

	// Kind records which credential method resolved the identity.
	Kind CredentialKind
}

// Key returns the rate-limit key for this identity.
func (id Identity) Key() string {
	return id.UserID
}

// TokenUsage is the normalized token accounting shape returned to clients
// regardless of which backend served the request.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// AuditAction tags the terminal outcome of a request in the audit trail.
type AuditAction string

const (
	ActionAuthFailed  AuditAction = "AUTH_FAILED"
	ActionRateLimited AuditAction = "RATE_LIMITED"
	ActionNotFound    AuditAction = "NOT_FOUND"
	ActionAPICall     AuditAction = "API_CALL"
	ActionKeyCreated  AuditAction = "KEY_CREATED"
)

// AuditEntry is one append-only audit record. UserID is empty when the
// request never resolved an identity.
type AuditEntry struct {
	UserID    string
	Action    AuditAction
	Resource  string
	ClientIP  string
	UserAgent string
	Detail    string
	Timestamp time.Time
}
