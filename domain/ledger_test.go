package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"go.pilab.hu/ledger/domain"
)

func TestPage_HasMore(t *testing.T) {
	tests := []struct {
		name string
		meta domain.PageMeta
		want bool
	}{
		{"first of three", domain.PageMeta{TotalCount: 250, Limit: 100, Offset: 0}, true},
		{"last partial", domain.PageMeta{TotalCount: 250, Limit: 100, Offset: 200}, false},
		{"exact boundary", domain.PageMeta{TotalCount: 200, Limit: 100, Offset: 100}, false},
		{"empty", domain.PageMeta{TotalCount: 0, Limit: 100, Offset: 0}, false},
		{"zero limit", domain.PageMeta{TotalCount: 10, Limit: 0, Offset: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &domain.Page[domain.Journal]{Meta: tt.meta}
			assert.Equal(t, tt.want, p.HasMore())
		})
	}
}

func TestOAuthToken_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := &domain.OAuthToken{ExpiresAt: now}

	assert.True(t, tok.Expired(now))
	assert.False(t, tok.Expired(now.Add(-time.Nanosecond)))

	var missing *domain.OAuthToken
	assert.True(t, missing.Expired(now))
}
