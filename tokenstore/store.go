// Package tokenstore keeps one encrypted OAuth2 token record per tenant.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.pilab.hu/ledger/domain"
	"go.pilab.hu/ledger/log"
)

// DefaultSafetyBuffer is subtracted from the provider-reported lifetime so
// expiry checks never over-report the remaining validity.
const DefaultSafetyBuffer = 5 * time.Minute

var (
	ErrMissingTenant = errors.New("tokenstore: tenant id is required")
	ErrEmptyToken    = errors.New("tokenstore: token response has no access token")
)

// SecretCipher encrypts token strings at rest.
type SecretCipher interface {
	Protect(plaintext string) (string, error)
	Reveal(blob string) (string, error)
}

// Store is the Token Store. It is the only component that sees decrypted
// token values outside the scope of a single call.
type Store struct {
	repo   domain.TokenRepository
	cipher SecretCipher
	buffer time.Duration
	now    func() time.Time
	logger log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSafetyBuffer overrides DefaultSafetyBuffer.
func WithSafetyBuffer(d time.Duration) Option {
	return func(s *Store) { s.buffer = d }
}

// WithLogger sets the logger used for swallowed read failures.
func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over repo.
func New(repo domain.TokenRepository, cipher SecretCipher, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		cipher: cipher,
		buffer: DefaultSafetyBuffer,
		now:    time.Now,
		logger: log.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's notion of the current instant.
func (s *Store) Now() time.Time { return s.now() }

// Save encrypts and upserts the token for tenantID. ExpiresAt is computed as
// now + expires_in - safety buffer.
func (s *Store) Save(ctx context.Context, tenantID string, resp *domain.TokenResponse) (*domain.OAuthToken, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	if resp == nil || resp.AccessToken == "" {
		return nil, ErrEmptyToken
	}

	now := s.now()
	token := &domain.OAuthToken{
		TenantID:     tenantID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn)*time.Second - s.buffer),
		TokenType:    resp.TokenType,
		Scope:        resp.Scope,
		UpdatedAt:    now,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}

	encAccess, err := s.cipher.Protect(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := s.cipher.Protect(token.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	stored := &domain.StoredToken{
		TenantID:              tenantID,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		ExpiresAt:             token.ExpiresAt,
		TokenType:             token.TokenType,
		Scope:                 token.Scope,
		UpdatedAt:             now,
	}
	if err := s.repo.Upsert(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	s.logger.Debug(ctx, "Token saved", log.Fields{
		"tenant_id":  tenantID,
		"expires_at": token.ExpiresAt,
	})
	return token, nil
}

// Get returns the decrypted token for tenantID, or nil when the tenant has
// no usable token. A record that fails to decrypt is logged and reported as
// absent so the tenant re-authenticates instead of failing the caller.
func (s *Store) Get(ctx context.Context, tenantID string) (*domain.OAuthToken, error) {
	stored, err := s.repo.Find(ctx, tenantID)
	if errors.Is(err, domain.ErrTokenNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	access, err := s.cipher.Reveal(stored.EncryptedAccessToken)
	if err != nil {
		s.logger.Error(ctx, "Stored access token is unreadable, treating tenant as disconnected", err,
			log.Fields{"tenant_id": tenantID})
		return nil, nil
	}
	refresh, err := s.cipher.Reveal(stored.EncryptedRefreshToken)
	if err != nil {
		s.logger.Error(ctx, "Stored refresh token is unreadable, treating tenant as disconnected", err,
			log.Fields{"tenant_id": tenantID})
		return nil, nil
	}

	return &domain.OAuthToken{
		TenantID:     stored.TenantID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    stored.ExpiresAt,
		TokenType:    stored.TokenType,
		Scope:        stored.Scope,
		UpdatedAt:    stored.UpdatedAt,
	}, nil
}

// IsExpired reports true when the tenant has no usable token or now is at
// or past its ExpiresAt.
func (s *Store) IsExpired(ctx context.Context, tenantID string) bool {
	token, err := s.Get(ctx, tenantID)
	if err != nil || token == nil {
		return true
	}
	return token.Expired(s.now())
}

// Delete removes the tenant's record. Deleting a missing record is not an
// error.
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	if err := s.repo.Delete(ctx, tenantID); err != nil && !errors.Is(err, domain.ErrTokenNotFound) {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	s.logger.Info(ctx, "Token deleted", log.Fields{"tenant_id": tenantID})
	return nil
}

// Tenants lists the tenants that currently have a stored record.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	return s.repo.List(ctx)
}
