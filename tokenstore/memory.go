package tokenstore

import (
	"context"
	"sort"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/ledger/domain"
)

// MemoryRepository keeps token records in process memory. Records never
// expire on their own; the refresh token outlives the access token.
type MemoryRepository struct {
	cache *ttlcache.Cache[string, domain.StoredToken]
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, domain.StoredToken](ttlcache.NoTTL),
			ttlcache.WithDisableTouchOnHit[string, domain.StoredToken](),
		),
	}
}

// Upsert implements domain.TokenRepository.
func (r *MemoryRepository) Upsert(_ context.Context, token *domain.StoredToken) error {
	r.cache.Set(token.TenantID, *token, ttlcache.NoTTL)
	return nil
}

// Find implements domain.TokenRepository.
func (r *MemoryRepository) Find(_ context.Context, tenantID string) (*domain.StoredToken, error) {
	item := r.cache.Get(tenantID)
	if item == nil {
		return nil, domain.ErrTokenNotFound
	}
	token := item.Value()
	return &token, nil
}

// Delete implements domain.TokenRepository.
func (r *MemoryRepository) Delete(_ context.Context, tenantID string) error {
	r.cache.Delete(tenantID)
	return nil
}

// List implements domain.TokenRepository.
func (r *MemoryRepository) List(_ context.Context) ([]string, error) {
	keys := r.cache.Keys()
	sort.Strings(keys)
	return keys, nil
}

// Count returns the number of stored records.
func (r *MemoryRepository) Count() int {
	return r.cache.Len()
}
