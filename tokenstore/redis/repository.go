// Package redis stores encrypted token records as redis hashes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/ledger/domain"
)

// Repository implements domain.TokenRepository on redis.
type Repository struct {
	client redis.UniversalClient
	prefix string
}

// NewRepository creates a Repository. Keys are "{prefix}:token:{tenant}".
func NewRepository(client redis.UniversalClient, prefix string) *Repository {
	if prefix == "" {
		prefix = "ledger"
	}
	return &Repository{client: client, prefix: prefix}
}

// Key returns the redis key for a tenant's record.
func (r *Repository) Key(tenantID string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, tenantID)
}

// Upsert implements domain.TokenRepository. The whole hash is replaced in
// one transaction so readers never see a mix of old and new fields.
func (r *Repository) Upsert(ctx context.Context, token *domain.StoredToken) error {
	key := r.Key(token.TenantID)
	fields := map[string]interface{}{
		"tenant_id":     token.TenantID,
		"access_token":  token.EncryptedAccessToken,
		"refresh_token": token.EncryptedRefreshToken,
		"token_type":    token.TokenType,
		"scope":         token.Scope,
		"expires_at":    token.ExpiresAt.UnixNano(),
		"updated_at":    token.UpdatedAt.UnixNano(),
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set token in redis: %w", err)
	}
	return nil
}

// Find implements domain.TokenRepository.
func (r *Repository) Find(ctx context.Context, tenantID string) (*domain.StoredToken, error) {
	res, err := r.client.HGetAll(ctx, r.Key(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get token from redis: %w", err)
	}
	if len(res) == 0 {
		return nil, domain.ErrTokenNotFound
	}
	return decodeHash(res)
}

// Delete implements domain.TokenRepository.
func (r *Repository) Delete(ctx context.Context, tenantID string) error {
	if err := r.client.Del(ctx, r.Key(tenantID)).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w", err)
	}
	return nil
}

// List implements domain.TokenRepository.
func (r *Repository) List(ctx context.Context) ([]string, error) {
	var (
		tenants []string
		cursor  uint64
	)
	pattern := r.Key("*")
	keyPrefix := r.Key("")

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan tokens: %w", err)
		}
		for _, key := range keys {
			tenants = append(tenants, strings.TrimPrefix(key, keyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return tenants, nil
}

func decodeHash(res map[string]string) (*domain.StoredToken, error) {
	expiresAt, err := parseUnixNano(res["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid expires_at: %w", err)
	}
	updatedAt, err := parseUnixNano(res["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	if res["tenant_id"] == "" {
		return nil, errors.New("token hash has no tenant_id")
	}

	return &domain.StoredToken{
		TenantID:              res["tenant_id"],
		EncryptedAccessToken:  res["access_token"],
		EncryptedRefreshToken: res["refresh_token"],
		TokenType:             res["token_type"],
		Scope:                 res["scope"],
		ExpiresAt:             expiresAt,
		UpdatedAt:             updatedAt,
	}, nil
}

func parseUnixNano(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
