package domain

import "time"

// TokenResponse is the provider's answer to an authorization_code or
// refresh_token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // Seconds, as reported by the provider
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
}

// OAuthToken is a decrypted token record for one tenant. It only lives for
// the duration of a single call; the persisted form is StoredToken.
type OAuthToken struct {
	TenantID     string    `json:"tenant_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"` // Provider expiry minus the safety buffer
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Expired reports whether the token should no longer be used at now.
func (t *OAuthToken) Expired(now time.Time) bool {
	return t == nil || !now.Before(t.ExpiresAt)
}

// StoredToken is the at-rest representation of an OAuthToken. Both secrets
// are ciphertext blobs produced by the secret cipher.
type StoredToken struct {
	TenantID              string    `bson:"_id" json:"tenant_id"`
	EncryptedAccessToken  string    `bson:"access_token" json:"access_token"`
	EncryptedRefreshToken string    `bson:"refresh_token" json:"refresh_token"`
	ExpiresAt             time.Time `bson:"expires_at" json:"expires_at"`
	TokenType             string    `bson:"token_type" json:"token_type"`
	Scope                 string    `bson:"scope,omitempty" json:"scope"`
	UpdatedAt             time.Time `bson:"updated_at" json:"updated_at"`
}
