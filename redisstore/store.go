// Package redisstore provides a Redis-backed token store for sharing
// cached Firebolt tokens between processes.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	firebolt "github.com/firebolt-db/firebolt-go-sdk"
)

const defaultKeyPrefix = "firebolt:token:"

// Store keeps tokens in Redis, keyed by the credential identity and
// expiring together with the token. It satisfies firebolt.TokenStore and
// plugs into Config.TokenStore.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ firebolt.TokenStore = (*Store)(nil)

// New creates a Store on top of an existing Redis client. An empty
// keyPrefix selects "firebolt:token:".
func New(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) key(identity firebolt.TokenIdentity) string {
	return s.keyPrefix + identity.CacheKey()
}

// Get returns the token stored for the identity, or nil if there is none.
func (s *Store) Get(ctx context.Context, identity firebolt.TokenIdentity) (*firebolt.StoredToken, error) {
	data, err := s.client.Get(ctx, s.key(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var token firebolt.StoredToken
	if err := json.Unmarshal(data, &token); err != nil {
		// An unreadable entry is dropped and treated as a miss.
		s.client.Del(ctx, s.key(identity))
		return nil, nil
	}
	return &token, nil
}

// Put stores the token for the identity. Tokens with a known expiration are
// written with a matching TTL; already expired ones are not written at all.
func (s *Store) Put(ctx context.Context, identity firebolt.TokenIdentity, token *firebolt.StoredToken) error {
	var ttl time.Duration
	if token.Expiration > 0 {
		ttl = time.Until(time.Unix(token.Expiration, 0))
		if ttl <= 0 {
			return nil
		}
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(identity), data, ttl).Err()
}

// Delete removes the token stored for the identity, if any.
func (s *Store) Delete(ctx context.Context, identity firebolt.TokenIdentity) error {
	return s.client.Del(ctx, s.key(identity)).Err()
}
