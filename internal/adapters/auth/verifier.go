// Package auth resolves join tokens to users, optionally through a redis
// read-through cache.
package auth

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

const (
	tokenKeyPrefix  = "chat:token:"
	DefaultTokenTTL = 10 * time.Minute
)

// TokenVerifier implements core.Authenticator on top of the user store.
// Cache may be nil.
type TokenVerifier struct {
	Users core.UserLookup
	Cache redis.Cmdable
	TTL   time.Duration
}

var _ core.Authenticator = (*TokenVerifier)(nil)

func NewTokenVerifier(users core.UserLookup, cache redis.Cmdable, ttl time.Duration) *TokenVerifier {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenVerifier{Users: users, Cache: cache, TTL: ttl}
}

func (v *TokenVerifier) VerifyToken(ctx context.Context, token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, core.ErrUnauthorized
	}
	if u, ok := v.cached(ctx, token); ok {
		return u, nil
	}

	u, err := v.Users.UserByToken(ctx, token)
	if errors.Is(err, core.ErrUserNotFound) {
		return domain.User{}, core.ErrUnauthorized
	}
	if err != nil {
		return domain.User{}, err
	}
	v.remember(ctx, token, u)
	return u, nil
}

// Forget drops a cached token, e.g. after the account's token rotates.
func (v *TokenVerifier) Forget(ctx context.Context, token string) error {
	if v.Cache == nil {
		return nil
	}
	return errors.Wrap(v.Cache.Del(ctx, tokenKeyPrefix+token).Err(), "forget token")
}

// Cache failures are logged and fall through to the store.
func (v *TokenVerifier) cached(ctx context.Context, token string) (domain.User, bool) {
	if v.Cache == nil {
		return domain.User{}, false
	}
	raw, err := v.Cache.Get(ctx, tokenKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.User{}, false
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.auth").Msg("token cache read")
		return domain.User{}, false
	}
	var u domain.User
	if err := json.Unmarshal(raw, &u); err != nil {
		log.Warn().Err(err).Str("module", "adapters.auth").Msg("token cache entry corrupt")
		return domain.User{}, false
	}
	return u, true
}

func (v *TokenVerifier) remember(ctx context.Context, token string, u domain.User) {
	if v.Cache == nil {
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := v.Cache.Set(ctx, tokenKeyPrefix+token, raw, v.TTL).Err(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.auth").Msg("token cache write")
	}
}
