package hdbconnect

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	dbsqlerr "github.com/hdbconnect/hdbconnect-go/internal/errors"
	"github.com/hdbconnect/hdbconnect-go/internal/sentinel"
	dbsqllog "github.com/hdbconnect/hdbconnect-go/logger"
)

const (
	// DefaultPoolMaxSize bounds the pool when PoolConfig.MaxSize is zero.
	DefaultPoolMaxSize = 10
)

// PoolConfig configures a ConnectionPool.
type PoolConfig struct {
	// Config is the connection configuration used for every session the
	// pool creates.
	Config *Config

	// MaxSize bounds live sessions, idle and checked out combined.
	// Defaults to DefaultPoolMaxSize.
	MaxSize int

	// AcquireTimeout caps how long Acquire waits for a free slot. Zero
	// means wait until the context is done.
	AcquireTimeout time.Duration
}

// PoolStatus is a point-in-time snapshot of pool occupancy.
type PoolStatus struct {
	// Size is the number of live sessions, idle and checked out.
	Size int
	// Available is the number of idle sessions ready to hand out.
	Available int
	// MaxSize is the configured bound.
	MaxSize int
}

// ConnectionPool hands out sessions up to a fixed bound. Waiters are
// served in arrival order; a cancelled waiter never leaks a slot.
// Sessions are created lazily on demand and probed for liveness when
// they come back.
type ConnectionPool struct {
	cfg     *Config
	maxSize int
	timeout time.Duration

	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []*Session // LIFO, most recently released first
	size   int
	closed bool

	log *dbsqllog.Logger
}

// NewPool validates the configuration and creates an empty pool. No
// connection is opened until the first Acquire.
func NewPool(cfg PoolConfig) (*ConnectionPool, error) {
	if cfg.Config == nil {
		return nil, dbsqlerr.NewInterfaceError(nil, "pool requires a connection configuration", nil)
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSize < 0 {
		return nil, dbsqlerr.NewInterfaceError(nil, "pool max size cannot be negative", nil)
	}
	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = DefaultPoolMaxSize
	}

	return &ConnectionPool{
		cfg:     cfg.Config,
		maxSize: maxSize,
		timeout: cfg.AcquireTimeout,
		sem:     semaphore.NewWeighted(int64(maxSize)),
		log:     dbsqllog.Log,
	}, nil
}

// Acquire returns a session, reusing an idle one when possible and
// dialing a new one while the pool is below its bound. When the pool is
// exhausted it waits for a release, up to AcquireTimeout.
func (p *ConnectionPool) Acquire(ctx context.Context) (*PooledSession, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, dbsqlerr.NewOperationalError(ctx, dbsqlerr.ErrPoolClosed, nil)
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		if acquireCtx.Err() != nil && ctx.Err() == nil {
			return nil, dbsqlerr.NewOperationalError(ctx, dbsqlerr.ErrPoolTimeout, err)
		}
		return nil, dbsqlerr.NewOperationalError(ctx, "pool acquire cancelled", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, dbsqlerr.NewOperationalError(ctx, dbsqlerr.ErrPoolClosed, nil)
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return &PooledSession{pool: p, session: s}, nil
	}
	p.size++
	p.mu.Unlock()

	s, err := Connect(ctx, p.cfg)
	if err != nil {
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, err
	}
	return &PooledSession{pool: p, session: s}, nil
}

// Status returns a snapshot of the pool's occupancy. Reading it has no
// side effect.
func (p *ConnectionPool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStatus{
		Size:      p.size,
		Available: len(p.idle),
		MaxSize:   p.maxSize,
	}
}

// Close shuts the pool down: idle sessions close immediately, further
// Acquire calls fail, and checked-out sessions close as they are
// released. Close returns when every session is gone or ctx expires.
func (p *ConnectionPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.size -= len(idle)
	p.mu.Unlock()

	for _, s := range idle {
		if err := s.Close(); err != nil {
			p.log.Warn().Err(err).Msg("hdb: closing pooled session failed")
		}
	}

	drained := sentinel.Sentinel{
		StatusFn: func() (bool, error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.size == 0, nil
		},
	}
	status, err := drained.Watch(ctx, 10*time.Millisecond, 0)
	if status == sentinel.WatchCanceled {
		return dbsqlerr.NewOperationalError(ctx, "pool shutdown interrupted", err)
	}
	return nil
}

// release takes a session back. Live sessions return to the idle stack;
// broken ones, and every session after Close, are discarded.
func (p *ConnectionPool) release(ctx context.Context, s *Session) {
	defer p.sem.Release(1)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if !closed && s.IsValid(ctx, true) {
		p.mu.Lock()
		if !p.closed {
			p.idle = append(p.idle, s)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}

	// not returning to the stack: drop it
	p.mu.Lock()
	p.size--
	p.mu.Unlock()
	if err := s.Close(); err != nil {
		p.log.Warn().Err(err).Msg("hdb: closing pooled session failed")
	}
}

// PooledSession is a session checked out of a pool. Close returns it;
// afterwards the handle is dead and Session fails.
type PooledSession struct {
	pool *ConnectionPool

	mu       sync.Mutex
	session  *Session
	released bool
}

// Session returns the underlying session.
func (ps *PooledSession) Session() (*Session, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.released {
		return nil, dbsqlerr.NewOperationalError(nil, dbsqlerr.ErrReturnedToPool, nil)
	}
	return ps.session, nil
}

// Close returns the session to the pool after a liveness probe. Sessions
// that fail the probe are discarded, never re-offered. Closing twice is a
// no-op.
func (ps *PooledSession) Close(ctx context.Context) error {
	ps.mu.Lock()
	if ps.released {
		ps.mu.Unlock()
		return nil
	}
	ps.released = true
	s := ps.session
	ps.session = nil
	ps.mu.Unlock()

	ps.pool.release(ctx, s)
	return nil
}
