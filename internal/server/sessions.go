package server

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// refreshSession records the account a refresh token belongs to. Sessions
// are keyed by the token's hash; the token itself is only ever held by the
// client.
type refreshSession struct {
	UserID   string
	IssuedAt time.Time
}

// SessionStore tracks live refresh tokens. Entries expire with the refresh
// token TTL; consuming or revoking a token removes it immediately, so every
// refresh rotates the token.
type SessionStore struct {
	cache *ttlcache.Cache[string, refreshSession]
	ttl   time.Duration
}

// NewSessionStore creates a session store whose entries live for ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, refreshSession](ttl),
		ttlcache.WithDisableTouchOnHit[string, refreshSession](),
	)
	go cache.Start()
	return &SessionStore{cache: cache, ttl: ttl}
}

// Close stops the expiration loop.
func (s *SessionStore) Close() {
	s.cache.Stop()
}

// Put registers a freshly issued refresh token for the user.
func (s *SessionStore) Put(token, userID string) {
	s.cache.Set(hashToken(token), refreshSession{
		UserID:   userID,
		IssuedAt: time.Now(),
	}, ttlcache.DefaultTTL)
}

// Consume redeems a refresh token exactly once, returning the owning user
// id. A second redemption of the same token fails.
func (s *SessionStore) Consume(token string) (string, bool) {
	key := hashToken(token)
	item := s.cache.Get(key)
	if item == nil {
		return "", false
	}
	s.cache.Delete(key)
	return item.Value().UserID, true
}

// Revoke drops a refresh token, if it is still live.
func (s *SessionStore) Revoke(token string) {
	s.cache.Delete(hashToken(token))
}
