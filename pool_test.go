package hdbconnect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hdberr "github.com/hdbconnect/hdbconnect-go/errors"
)

func newTestPool(t *testing.T, cfg PoolConfig) *ConnectionPool {
	t.Helper()
	pool, err := NewPool(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Close(ctx)
	})
	return pool
}

func TestPoolValidatesConfig(t *testing.T) {
	_, err := NewPool(PoolConfig{})
	require.Error(t, err)
	assert.True(t, hdberr.Is(err, hdberr.Interface))

	_, err = NewPool(PoolConfig{Config: &Config{Host: "h", User: "u"}, MaxSize: -1})
	require.Error(t, err)
}

func TestPoolAcquireAndReuse(t *testing.T) {
	srv := startServer(t)
	pool := newTestPool(t, PoolConfig{Config: serverConfig(srv), MaxSize: 2})
	ctx := context.Background()

	ps, err := pool.Acquire(ctx)
	require.NoError(t, err)
	s1, err := ps.Session()
	require.NoError(t, err)
	id1 := s1.ConnectionID()

	assert.Equal(t, PoolStatus{Size: 1, Available: 0, MaxSize: 2}, pool.Status())

	require.NoError(t, ps.Close(ctx))
	assert.Equal(t, PoolStatus{Size: 1, Available: 1, MaxSize: 2}, pool.Status())

	// the released session is handed out again
	ps, err = pool.Acquire(ctx)
	require.NoError(t, err)
	s2, err := ps.Session()
	require.NoError(t, err)
	assert.Equal(t, id1, s2.ConnectionID())
	require.NoError(t, ps.Close(ctx))
}

func TestPoolStatusHasNoSideEffect(t *testing.T) {
	srv := startServer(t)
	pool := newTestPool(t, PoolConfig{Config: serverConfig(srv), MaxSize: 3})

	before := pool.Status()
	for i := 0; i < 10; i++ {
		assert.Equal(t, before, pool.Status())
	}
	assert.Equal(t, PoolStatus{Size: 0, Available: 0, MaxSize: 3}, before)
}

func TestPoolBlocksAtCapacity(t *testing.T) {
	srv := startServer(t)
	pool := newTestPool(t, PoolConfig{Config: serverConfig(srv), MaxSize: 2})
	ctx := context.Background()

	ps1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	ps2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Status().Size)

	acquired := make(chan *PooledSession)
	go func() {
		ps, err := pool.Acquire(ctx)
		if err == nil {
			acquired <- ps
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block at capacity")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, ps1.Close(ctx))

	select {
	case ps3 := <-acquired:
		require.NoError(t, ps3.Close(ctx))
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not served after release")
	}

	require.NoError(t, ps2.Close(ctx))
}

func TestPoolAcquireTimeout(t *testing.T) {
	srv := startServer(t)
	pool := newTestPool(t, PoolConfig{
		Config:         serverConfig(srv),
		MaxSize:        1,
		AcquireTimeout: 50 * time.Millisecond,
	})
	ctx := context.Background()

	ps, err := pool.Acquire(ctx)
	require.NoError(t, err)

	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, hdberr.Is(err, hdberr.Operational))
	assert.Contains(t, err.Error(), "pool acquire timed out")

	require.NoError(t, ps.Close(ctx))
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	srv := startServer(t)
	pool := newTestPool(t, PoolConfig{Config: serverConfig(srv), MaxSize: 1})

	ps, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.Error(t, err)

	require.NoError(t, ps.Close(context.Background()))

	// the cancelled waiter did not leak a slot
	ps, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, ps.Close(context.Background()))
}

func TestPooledSessionAfterRelease(t *testing.T) {
	srv := startServer(t)
	pool := newTestPool(t, PoolConfig{Config: serverConfig(srv), MaxSize: 1})
	ctx := context.Background()

	ps, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, ps.Close(ctx))
	require.NoError(t, ps.Close(ctx)) // idempotent

	_, err = ps.Session()
	require.Error(t, err)
	assert.True(t, hdberr.Is(err, hdberr.Operational))
	assert.Contains(t, err.Error(), "connection returned to pool")
}

func TestPoolDiscardsBrokenSessions(t *testing.T) {
	srv := startServer(t)
	pool := newTestPool(t, PoolConfig{Config: serverConfig(srv), MaxSize: 2})
	ctx := context.Background()

	ps, err := pool.Acquire(ctx)
	require.NoError(t, err)
	s, err := ps.Session()
	require.NoError(t, err)

	// break the session behind the pool's back
	require.NoError(t, s.Close())
	require.NoError(t, ps.Close(ctx))

	// the dead session was dropped, not re-offered
	assert.Equal(t, PoolStatus{Size: 0, Available: 0, MaxSize: 2}, pool.Status())
}

func TestPoolClose(t *testing.T) {
	srv := startServer(t)
	pool, err := NewPool(PoolConfig{Config: serverConfig(srv), MaxSize: 2})
	require.NoError(t, err)
	ctx := context.Background()

	// one idle, one checked out
	psIdle, err := pool.Acquire(ctx)
	require.NoError(t, err)
	psOut, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, psIdle.Close(ctx))

	closed := make(chan error, 1)
	go func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		closed <- pool.Close(closeCtx)
	}()

	// Close waits for the checked out session
	select {
	case <-closed:
		t.Fatal("close returned while a session was checked out")
	case <-time.After(100 * time.Millisecond):
	}

	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool is closed")

	require.NoError(t, psOut.Close(ctx))
	require.NoError(t, <-closed)
	assert.Equal(t, 0, pool.Status().Size)

	// closing again is a no-op
	require.NoError(t, pool.Close(ctx))
}
