package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/ledger/domain"
)

// TokenRepository implements domain.TokenRepository on a MongoDB collection
// keyed by tenant id.
type TokenRepository struct {
	coll *mongo.Collection
}

// NewTokenRepository creates a TokenRepository in db.
func NewTokenRepository(db *mongo.Database) *TokenRepository {
	return &TokenRepository{coll: db.Collection(TokensCollection)}
}

// Upsert implements domain.TokenRepository.
func (r *TokenRepository) Upsert(ctx context.Context, token *domain.StoredToken) error {
	_, err := r.coll.ReplaceOne(ctx,
		bson.M{"_id": token.TenantID},
		token,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", token.TenantID).Msg("Error upserting token")
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

// Find implements domain.TokenRepository.
func (r *TokenRepository) Find(ctx context.Context, tenantID string) (*domain.StoredToken, error) {
	var token domain.StoredToken
	err := r.coll.FindOne(ctx, bson.M{"_id": tenantID}).Decode(&token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}
	return &token, nil
}

// Delete implements domain.TokenRepository.
func (r *TokenRepository) Delete(ctx context.Context, tenantID string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": tenantID})
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if result.DeletedCount == 0 {
		log.Debug().Str("tenant_id", tenantID).Msg("No token to delete")
	}
	return nil
}

// List implements domain.TokenRepository.
func (r *TokenRepository) List(ctx context.Context) ([]string, error) {
	values, err := r.coll.Distinct(ctx, "_id", bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	tenants := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			tenants = append(tenants, s)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}
