package echo

import (
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultStateTTL bounds the time between /oauth/connect and the callback.
const DefaultStateTTL = 10 * time.Minute

// StateStore binds OAuth2 state values to the tenant that started the flow.
// A state can be consumed once.
type StateStore struct {
	cache *ttlcache.Cache[string, string]
}

// NewStateStore starts a store whose states expire after ttl.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	go cache.Start()

	return &StateStore{cache: cache}
}

// Issue returns a fresh state for tenantID.
func (s *StateStore) Issue(tenantID string) string {
	state := uuid.NewString()
	s.cache.Set(state, tenantID, ttlcache.DefaultTTL)
	return state
}

// Consume returns the tenant bound to state and forgets the state.
func (s *StateStore) Consume(state string) (string, bool) {
	if state == "" {
		return "", false
	}
	item, ok := s.cache.GetAndDelete(state)
	if !ok || item == nil || item.IsExpired() {
		return "", false
	}
	return item.Value(), true
}

// Len is the number of outstanding states.
func (s *StateStore) Len() int { return s.cache.Len() }

// Close stops the expiry loop.
func (s *StateStore) Close() { s.cache.Stop() }
