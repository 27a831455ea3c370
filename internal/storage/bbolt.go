// Package storage keeps encrypted token records in a local bbolt file.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"go.pilab.hu/ledger/domain"
)

// TokensBucket is the bucket holding one JSON record per tenant.
const TokensBucket = "tokens"

// BBoltStore implements domain.TokenRepository on a bbolt database.
type BBoltStore struct {
	db *bbolt.DB
}

// NewBBoltStore opens (or creates) the database at dbPath.
func NewBBoltStore(dbPath string) (*BBoltStore, error) {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Info().Str("dir", dir).Msg("Token database directory does not exist, creating it")
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to check database directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(TokensBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", TokensBucket, err)
	}

	log.Debug().Str("path", dbPath).Msg("Token database opened")
	return &BBoltStore{db: db}, nil
}

// Upsert implements domain.TokenRepository.
func (s *BBoltStore) Upsert(_ context.Context, token *domain.StoredToken) error {
	value, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(TokensBucket)).Put([]byte(token.TenantID), value)
	})
}

// Find implements domain.TokenRepository.
func (s *BBoltStore) Find(_ context.Context, tenantID string) (*domain.StoredToken, error) {
	var token *domain.StoredToken
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(TokensBucket)).Get([]byte(tenantID))
		if raw == nil {
			return domain.ErrTokenNotFound
		}
		// raw is only valid inside the transaction; Unmarshal copies it.
		token = &domain.StoredToken{}
		return json.Unmarshal(raw, token)
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Delete implements domain.TokenRepository.
func (s *BBoltStore) Delete(_ context.Context, tenantID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(TokensBucket)).Delete([]byte(tenantID))
	})
}

// List implements domain.TokenRepository. Tenants come back in key order.
func (s *BBoltStore) List(_ context.Context) ([]string, error) {
	var tenants []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(TokensBucket)).ForEach(func(k, _ []byte) error {
			tenants = append(tenants, string(k))
			return nil
		})
	})
	return tenants, err
}

// Close closes the underlying database.
func (s *BBoltStore) Close() error {
	return s.db.Close()
}
