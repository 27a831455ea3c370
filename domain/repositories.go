package domain

import (
	"context"
	"errors"
)

// ErrTokenNotFound is returned by a TokenRepository when no record exists
// for the requested tenant.
var ErrTokenNotFound = errors.New("token not found")

// TokenRepository persists encrypted token records, one per tenant.
//
// Upsert must replace any existing record for the same tenant.
type TokenRepository interface {
	Upsert(ctx context.Context, token *StoredToken) error
	Find(ctx context.Context, tenantID string) (*StoredToken, error)
	Delete(ctx context.Context, tenantID string) error
	List(ctx context.Context) ([]string, error)
}
