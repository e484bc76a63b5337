package hdbconnect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hdbconnect/hdbconnect-go/driverctx"
	"github.com/hdbconnect/hdbconnect-go/internal/client"
	"github.com/hdbconnect/hdbconnect-go/internal/config"
	dbsqlerr "github.com/hdbconnect/hdbconnect-go/internal/errors"
	"github.com/hdbconnect/hdbconnect-go/internal/wire"
	dbsqllog "github.com/hdbconnect/hdbconnect-go/logger"
)

// Holdability controls which transaction boundaries an open cursor
// survives. It is a per-session policy, applied to every cursor open at
// the moment Commit or Rollback runs.
type Holdability int

const (
	// HoldNone invalidates open cursors at both commit and rollback.
	HoldNone Holdability = iota
	// HoldCommit keeps cursors open across commit only.
	HoldCommit
	// HoldRollback keeps cursors open across rollback only.
	HoldRollback
	// HoldCommitAndRollback keeps cursors open across both boundaries.
	HoldCommitAndRollback
)

func (h Holdability) String() string {
	switch h {
	case HoldNone:
		return "NONE"
	case HoldCommit:
		return "COMMIT"
	case HoldRollback:
		return "ROLLBACK"
	case HoldCommitAndRollback:
		return "COMMIT_AND_ROLLBACK"
	}
	return fmt.Sprintf("HOLDABILITY(%d)", int(h))
}

func (h Holdability) overCommit() bool {
	return h == HoldCommit || h == HoldCommitAndRollback
}

func (h Holdability) overRollback() bool {
	return h == HoldRollback || h == HoldCommitAndRollback
}

// Statistics is a point-in-time snapshot of server side connection
// counters, fetched on demand.
type Statistics struct {
	// ServerMemoryUsage is the memory attributed to this connection on
	// the server, in bytes.
	ServerMemoryUsage int64
	// ServerProcessingTime is the cumulative server side processing
	// time of this connection's statements.
	ServerProcessingTime time.Duration
}

// Session is one authenticated connection. A Session may be shared
// between goroutines; statements are serialized on the wire.
type Session struct {
	cfg  *config.Config
	conn *client.Conn

	mu            sync.Mutex
	autocommit    bool
	holdability   Holdability
	inTransaction bool
	cursors       map[*Cursor]struct{}
	closed        bool

	log *dbsqllog.Logger
}

// Connect validates cfg, opens the transport and authenticates. If the
// context carries no correlation id one is minted, so every log line and
// error of this session is traceable.
func Connect(ctx context.Context, cfg *Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if driverctx.CorrelationIdFromContext(ctx) == "" {
		ctx = driverctx.NewContextWithCorrelationId(ctx, uuid.NewString())
	}

	icfg := cfg.toInternal()
	conn, err := client.Dial(ctx, icfg)
	if err != nil {
		return nil, err
	}

	connId := fmt.Sprintf("%d", conn.ConnectionID())
	log := dbsqllog.WithContext(connId, driverctx.CorrelationIdFromContext(ctx))

	return &Session{
		cfg:         icfg,
		conn:        conn,
		autocommit:  cfg.Autocommit,
		holdability: cfg.Holdability,
		cursors:     map[*Cursor]struct{}{},
		log:         log,
	}, nil
}

// ConnectionID returns the server assigned connection id, positive while
// connected.
func (s *Session) ConnectionID() int64 {
	return s.conn.ConnectionID()
}

// Autocommit reports the session's autocommit setting.
func (s *Session) Autocommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autocommit
}

// SetAutocommit switches implicit commits on or off. Turning autocommit
// off defers the commit of subsequent statements until Commit is called.
func (s *Session) SetAutocommit(autocommit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autocommit = autocommit
}

// Holdability returns the session's cursor holdability policy.
func (s *Session) Holdability() Holdability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdability
}

// SetHoldability changes the cursor holdability policy. It affects the
// next commit or rollback; cursors already invalidated stay invalid.
func (s *Session) SetHoldability(h Holdability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdability = h
}

// InTransaction reports whether an explicit transaction is open.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTransaction
}

// Cursor creates a new cursor bound to this session.
func (s *Session) Cursor() (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, dbsqlerr.NewOperationalError(nil, dbsqlerr.ErrConnectionClosed, nil)
	}

	c := &Cursor{
		session:   s,
		arraySize: 1,
		rowCount:  -1,
	}
	s.cursors[c] = struct{}{}
	return c, nil
}

// Commit commits the current transaction and applies the holdability
// policy to every open cursor.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if err := s.conn.Commit(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.inTransaction = false
	hold := s.holdability.overCommit()
	cursors := s.openCursorsLocked()
	s.mu.Unlock()

	if !hold {
		for _, c := range cursors {
			c.invalidateAfterBoundary()
		}
	}
	return nil
}

// Rollback rolls back the current transaction and applies the
// holdability policy to every open cursor.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if err := s.conn.Rollback(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.inTransaction = false
	hold := s.holdability.overRollback()
	cursors := s.openCursorsLocked()
	s.mu.Unlock()

	if !hold {
		for _, c := range cursors {
			c.invalidateAfterBoundary()
		}
	}
	return nil
}

// SetApplication sets the application name reported to the server.
func (s *Session) SetApplication(ctx context.Context, name string) error {
	return s.sendClientInfo(ctx, wire.CiApplication, name)
}

// SetApplicationVersion sets the application version reported to the server.
func (s *Session) SetApplicationVersion(ctx context.Context, version string) error {
	return s.sendClientInfo(ctx, wire.CiApplicationVersion, version)
}

// SetApplicationUser sets the end user name reported to the server.
func (s *Session) SetApplicationUser(ctx context.Context, user string) error {
	return s.sendClientInfo(ctx, wire.CiApplicationUser, user)
}

// SetApplicationSource sets the application source reported to the server.
func (s *Session) SetApplicationSource(ctx context.Context, source string) error {
	return s.sendClientInfo(ctx, wire.CiApplicationSource, source)
}

func (s *Session) sendClientInfo(ctx context.Context, key, value string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.conn.SendClientInfo(ctx, map[string]string{key: value})
}

// Statistics fetches the server side counters of this connection.
func (s *Session) Statistics(ctx context.Context) (*Statistics, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	opts, err := s.conn.DBConnectInfo(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{}
	if v, ok := opts[wire.CoKServerMemoryUsage]; ok {
		stats.ServerMemoryUsage = v.Int
	}
	if v, ok := opts[wire.CoKServerProcessingTime]; ok {
		stats.ServerProcessingTime = time.Duration(v.Int) * time.Microsecond
	}
	return stats, nil
}

// IsValid reports whether the session is usable. With checkConnection it
// runs the validation query against the server; otherwise it only checks
// local state.
func (s *Session) IsValid(ctx context.Context, checkConnection bool) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.conn.Closed() {
		return false
	}
	if !checkConnection {
		return true
	}
	return s.conn.Ping(ctx) == nil
}

// Close closes every cursor and the underlying connection. Closing twice
// is a no-op; any other operation on a closed session fails.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cursors := make([]*Cursor, 0, len(s.cursors))
	for c := range s.cursors {
		cursors = append(cursors, c)
	}
	s.cursors = nil
	s.mu.Unlock()

	for _, c := range cursors {
		c.invalidate()
	}
	return s.conn.Close()
}

func (s *Session) checkOpen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dbsqlerr.NewOperationalError(ctx, dbsqlerr.ErrConnectionClosed, nil)
	}
	return nil
}

// commitFlag returns whether the next statement carries the implicit
// commit flag, and records the transaction state transition.
func (s *Session) commitFlag() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autocommit {
		return true
	}
	s.inTransaction = true
	return false
}

func (s *Session) holdOverCommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdability.overCommit()
}

func (s *Session) openCursorsLocked() []*Cursor {
	cursors := make([]*Cursor, 0, len(s.cursors))
	for c := range s.cursors {
		cursors = append(cursors, c)
	}
	return cursors
}

func (s *Session) removeCursor(c *Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursors != nil {
		delete(s.cursors, c)
	}
}
