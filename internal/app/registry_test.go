package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Bind("s1", "10.0.0.1", cancel)
	assert.Equal(t, 1, r.Count())

	st, ok := r.State("s1")
	require.True(t, ok)
	assert.Equal(t, core.StateAwaitingJoin, st)

	alice := domain.User{ID: "alice-id", Username: "alice"}
	assert.True(t, r.Promote("s1", alice))
	assert.False(t, r.Promote("missing", alice))
	r.SetState("s1", core.StateActive)

	online := r.Online()
	require.Len(t, online, 1)
	assert.Equal(t, core.SessionID("s1"), online[0].SID)
	assert.Equal(t, "active", online[0].State)
	assert.Equal(t, &alice, online[0].User)
	assert.Equal(t, "10.0.0.1", online[0].RemoteAddr)

	assert.True(t, r.Cancel("s1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	r.Unbind("s1")
	assert.Equal(t, 0, r.Count())
	_, ok = r.State("s1")
	assert.False(t, ok)
	assert.False(t, r.Cancel("s1"))
}

func TestRegistry_CancelAll(t *testing.T) {
	r := NewRegistry()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel1()
	defer cancel2()

	r.Bind("s1", "a", cancel1)
	r.Bind("s2", "b", cancel2)

	assert.Equal(t, 2, r.CancelAll())
	assert.Error(t, ctx1.Err())
	assert.Error(t, ctx2.Err())
}

func TestParseLagPolicy(t *testing.T) {
	user := domain.User{ID: "u", Username: "u"}

	p, err := ParseLagPolicy("")
	require.NoError(t, err)
	assert.Equal(t, LagDisconnect, p.OnLag(user, 3))

	p, err = ParseLagPolicy("resync")
	require.NoError(t, err)
	assert.Equal(t, LagResync, p.OnLag(user, 3))
	assert.Equal(t, "resync", LagResync.String())

	_, err = ParseLagPolicy("ignore")
	assert.Error(t, err)
}

func TestRegistry_WaitReturnsWhenLastSessionUnbinds(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Wait(context.Background()))

	r.Bind("s1", "a", func() {})
	r.Bind("s2", "b", func() {})

	done := make(chan error, 1)
	go func() { done <- r.Wait(context.Background()) }()

	r.Unbind("s1")
	select {
	case <-done:
		t.Fatal("Wait returned with a session still bound")
	case <-time.After(30 * time.Millisecond):
	}

	r.Unbind("s2")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the last unbind")
	}
}

func TestRegistry_WaitHonoursContext(t *testing.T) {
	r := NewRegistry()
	r.Bind("s1", "a", func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	// A later waiter still sees the unbind.
	r.Unbind("s1")
	assert.NoError(t, r.Wait(context.Background()))
}
