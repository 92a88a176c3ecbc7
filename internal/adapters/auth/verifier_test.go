package auth

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

type countingLookup struct {
	users map[string]domain.User
	err   error
	calls int
}

var _ core.UserLookup = (*countingLookup)(nil)

func (l *countingLookup) UserByToken(_ context.Context, token string) (domain.User, error) {
	l.calls++
	if l.err != nil {
		return domain.User{}, l.err
	}
	u, ok := l.users[token]
	if !ok {
		return domain.User{}, core.ErrUserNotFound
	}
	return u, nil
}

var alice = domain.User{ID: "cc36a1f5-eb49-4552-b159-ce3040c519e0", Username: "Test1"}

func TestTokenVerifier_WithoutCache(t *testing.T) {
	lookup := &countingLookup{users: map[string]domain.User{"tok": alice}}
	v := NewTokenVerifier(lookup, nil, 0)
	ctx := context.Background()

	u, err := v.VerifyToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, alice, u)

	_, err = v.VerifyToken(ctx, "other")
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	_, err = v.VerifyToken(ctx, "")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	assert.Equal(t, 2, lookup.calls, "empty token never reaches the store")

	assert.NoError(t, v.Forget(ctx, "tok"))
}

func TestTokenVerifier_StoreFailureIsNotUnauthorized(t *testing.T) {
	lookup := &countingLookup{err: errors.New("pool exhausted")}
	v := NewTokenVerifier(lookup, nil, time.Minute)

	_, err := v.VerifyToken(context.Background(), "tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrUnauthorized)
}

func TestTokenVerifier_RedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisOptions{Addr: addr})
	if err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	token := "test-" + string(domain.NewUserID())
	lookup := &countingLookup{users: map[string]domain.User{token: alice}}
	v := NewTokenVerifier(lookup, client, time.Minute)
	t.Cleanup(func() { _ = v.Forget(ctx, token) })

	for range 3 {
		u, err := v.VerifyToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, alice, u)
	}
	assert.Equal(t, 1, lookup.calls)

	ttl, err := client.TTL(ctx, tokenKeyPrefix+token).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, v.Forget(ctx, token))
	_, err = client.Get(ctx, tokenKeyPrefix+token).Result()
	assert.ErrorIs(t, err, redis.Nil)

	_, err = v.VerifyToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 2, lookup.calls)
}
