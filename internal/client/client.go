// Package client implements the low level wire protocol client: one Conn
// per physical connection, owning the socket, the packet sequence and the
// authenticated session id. All round trips are serialized by a mutex;
// callers may share a Conn across goroutines but requests never interleave
// on the wire.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hdbconnect/hdbconnect-go/internal/auth"
	"github.com/hdbconnect/hdbconnect-go/internal/config"
	dbsqlerr "github.com/hdbconnect/hdbconnect-go/internal/errors"
	"github.com/hdbconnect/hdbconnect-go/internal/wire"
	dbsqllog "github.com/hdbconnect/hdbconnect-go/logger"
)

// ValidationQuery is the cheap liveness probe. The DUMMY table is the
// server's single-row diagnostic table, equivalent to Oracle's DUAL.
const ValidationQuery = "SELECT 1 FROM DUMMY"

// ExecResult is the decoded reply of a statement execution or fetch.
type ExecResult struct {
	FunctionCode wire.FunctionCode

	// row producing statements
	Columns     []wire.Column
	ResultSetID int64
	Rows        [][]wire.Value
	Last        bool // no more rows on the server

	// DML statements
	RowsAffected int64
}

// IsRowProducing reports whether the statement opened a result set.
func (r *ExecResult) IsRowProducing() bool {
	return r.FunctionCode.IsRowProducing()
}

// Conn is one authenticated physical connection.
type Conn struct {
	cfg *config.Config

	mu        sync.Mutex
	netConn   net.Conn
	sessionID int64
	packetSeq int32
	connID    int64
	closed    bool

	log *dbsqllog.Logger
}

// Dial opens a TCP (optionally TLS) connection, performs the protocol
// handshake and authenticates. Suspension happens only at I/O boundaries;
// ctx deadlines are mapped onto socket deadlines.
func Dial(ctx context.Context, cfg *config.Config) (*Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dbsqlerr.NewOperationalError(ctx, "connection failed", err)
	}

	if cfg.TLSConfig != nil {
		tlsConn := tls.Client(netConn, cfg.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			netConn.Close()
			return nil, dbsqlerr.NewOperationalError(ctx, "TLS handshake failed", err)
		}
		netConn = tlsConn
	}

	c := &Conn{
		cfg:     cfg,
		netConn: netConn,
		log:     dbsqllog.FromContext(ctx),
	}

	if err := c.handshake(ctx); err != nil {
		netConn.Close()
		return nil, err
	}
	if err := c.authenticate(ctx); err != nil {
		netConn.Close()
		return nil, err
	}

	c.log.Debug().Int64("connId", c.connID).Msg("hdb: connection established")
	return c, nil
}

// ConnectionID returns the server assigned connection id. Positive while
// connected.
func (c *Conn) ConnectionID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Closed reports whether the connection has been closed.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) handshake(ctx context.Context) error {
	c.applyDeadline(ctx)
	defer c.clearDeadline()

	if _, err := c.netConn.Write(wire.HandshakeRequest[:]); err != nil {
		return dbsqlerr.NewOperationalError(ctx, "handshake write failed", err)
	}

	reply := make([]byte, wire.HandshakeReplySize)
	if _, err := io.ReadFull(c.netConn, reply); err != nil {
		return dbsqlerr.NewOperationalError(ctx, "handshake read failed", err)
	}
	return nil
}

// authenticate runs the two round SCRAM exchange followed by the connect
// request carrying client info and connect options.
func (c *Conn) authenticate(ctx context.Context) error {
	clientChallenge, err := auth.NewClientChallenge()
	if err != nil {
		return dbsqlerr.NewInternalError(ctx, "challenge generation failed", err)
	}

	method := wire.AmScramPBKDF2SHA256

	// round one: offer the method and client nonce
	seg, err := c.roundTrip(ctx, wire.MtAuthenticate, false, 0,
		wire.AuthPart([]byte(c.cfg.User), []byte(method), clientChallenge))
	if err != nil {
		return dbsqlerr.NewOperationalError(ctx, dbsqlerr.ErrAuthFailed, err)
	}

	authReply := seg.Part(wire.PkAuthentication)
	if authReply == nil {
		return dbsqlerr.NewOperationalError(ctx, dbsqlerr.ErrAuthFailed, nil)
	}
	fields, err := wire.ParseAuthPart(authReply)
	if err != nil || len(fields) < 3 {
		return dbsqlerr.NewOperationalError(ctx, dbsqlerr.ErrAuthFailed, err)
	}
	salt, serverChallenge := fields[1], fields[2]

	salted, err := auth.SaltedPassword(method, c.cfg.Password, salt)
	if err != nil {
		return dbsqlerr.NewInternalError(ctx, "proof derivation failed", err)
	}
	proof := auth.ClientProof(salted, salt, serverChallenge, clientChallenge)

	// round two: connect with the proof, client info and routing options
	connectOpts := []wire.OptionValue{}
	if c.cfg.Database != "" {
		connectOpts = append(connectOpts, wire.StringOption(wire.CoKDatabaseName, c.cfg.Database))
	}
	if c.cfg.NetworkGroup != "" {
		connectOpts = append(connectOpts, wire.StringOption(wire.CoKNetworkGroup, c.cfg.NetworkGroup))
	}

	parts := []wire.Part{
		wire.AuthPart([]byte(c.cfg.User), []byte(method), proof),
		wire.ClientInfoPart(c.clientInfo()),
	}
	if len(connectOpts) > 0 {
		parts = append(parts, wire.OptionsPart(wire.PkConnectOptions, connectOpts...))
	}

	reply, err := c.roundTripMsg(ctx, wire.MtConnect, false, 0, parts...)
	if err != nil {
		return dbsqlerr.NewOperationalError(ctx, dbsqlerr.ErrAuthFailed, err)
	}

	c.mu.Lock()
	c.sessionID = reply.SessionID
	if opts := reply.Segment.Part(wire.PkConnectOptions); opts != nil {
		if parsed, perr := wire.ParseOptionsPart(opts); perr == nil {
			if id, ok := parsed[wire.CoKConnectionID]; ok {
				c.connID = id.Int
			}
		}
	}
	if c.connID == 0 {
		c.connID = reply.SessionID
	}
	c.mu.Unlock()

	return nil
}

func (c *Conn) clientInfo() map[string]string {
	info := map[string]string{}
	if c.cfg.ApplicationName != "" {
		info[wire.CiApplication] = c.cfg.ApplicationName
	} else {
		info[wire.CiApplication] = c.cfg.DriverName + "/" + c.cfg.DriverVersion
	}
	if c.cfg.ApplicationVersion != "" {
		info[wire.CiApplicationVersion] = c.cfg.ApplicationVersion
	}
	if c.cfg.ApplicationUser != "" {
		info[wire.CiApplicationUser] = c.cfg.ApplicationUser
	}
	if c.cfg.ApplicationSource != "" {
		info[wire.CiApplicationSource] = c.cfg.ApplicationSource
	}
	return info
}

// ExecuteDirect sends a statement with optional parameter rows. commit
// sets the segment's commit flag (autocommit); holdOverCommit requests
// server side cursor holdability across the transaction boundary.
func (c *Conn) ExecuteDirect(ctx context.Context, sql string, params [][]wire.Value, commit, holdOverCommit bool) (*ExecResult, error) {
	parts := []wire.Part{wire.CommandPart(sql)}
	if len(params) > 0 {
		parts = append(parts, wire.ParametersPart(params))
	}

	var cmdOptions uint8
	if holdOverCommit {
		cmdOptions |= wire.CoHoldCursorOverCommit
	}

	seg, err := c.roundTrip(ctx, wire.MtExecuteDirect, commit, cmdOptions, parts...)
	if err != nil {
		return nil, err
	}

	return c.decodeExecReply(ctx, seg)
}

func (c *Conn) decodeExecReply(ctx context.Context, seg *wire.Segment) (*ExecResult, error) {
	res := &ExecResult{FunctionCode: seg.FunctionCode}

	if p := seg.Part(wire.PkResultSetMetadata); p != nil {
		cols, err := wire.ParseResultSetMetadataPart(p)
		if err != nil {
			return nil, dbsqlerr.NewInternalError(ctx, "invalid result set metadata", err)
		}
		res.Columns = cols
	}
	if p := seg.Part(wire.PkResultSetID); p != nil {
		id, err := wire.ParseResultSetIDPart(p)
		if err != nil {
			return nil, dbsqlerr.NewInternalError(ctx, "invalid result set id", err)
		}
		res.ResultSetID = id
	}
	if p := seg.Part(wire.PkResultSet); p != nil {
		rows, err := wire.ParseResultSetPart(p, len(res.Columns))
		if err != nil {
			return nil, dbsqlerr.NewInternalError(ctx, "invalid result set data", err)
		}
		res.Rows = rows
		res.Last = p.IsLastPacket()
	} else if res.IsRowProducing() {
		res.Last = false
	}
	if p := seg.Part(wire.PkRowsAffected); p != nil {
		n, err := wire.ParseRowsAffectedPart(p)
		if err != nil {
			return nil, dbsqlerr.NewInternalError(ctx, "invalid rows affected", err)
		}
		res.RowsAffected = n
	}

	return res, nil
}

// FetchNext pulls the next page of an open result set.
func (c *Conn) FetchNext(ctx context.Context, resultSetID int64, fetchSize int32, numColumns int) (rows [][]wire.Value, last bool, err error) {
	seg, err := c.roundTrip(ctx, wire.MtFetchNext, false, 0,
		wire.ResultSetIDPart(resultSetID),
		wire.FetchSizePart(fetchSize))
	if err != nil {
		return nil, false, err
	}

	p := seg.Part(wire.PkResultSet)
	if p == nil {
		// server reports exhaustion with an empty last packet
		return nil, true, nil
	}
	rows, err = wire.ParseResultSetPart(p, numColumns)
	if err != nil {
		return nil, false, dbsqlerr.NewInternalError(ctx, "invalid result set data", err)
	}
	return rows, p.IsLastPacket(), nil
}

// CloseResultSet releases a server side result set.
func (c *Conn) CloseResultSet(ctx context.Context, resultSetID int64) error {
	_, err := c.roundTrip(ctx, wire.MtCloseResultSet, false, 0, wire.ResultSetIDPart(resultSetID))
	return err
}

// Commit commits the current transaction.
func (c *Conn) Commit(ctx context.Context) error {
	_, err := c.roundTrip(ctx, wire.MtCommit, true, 0)
	return err
}

// Rollback rolls back the current transaction.
func (c *Conn) Rollback(ctx context.Context) error {
	_, err := c.roundTrip(ctx, wire.MtRollback, false, 0)
	return err
}

// SendClientInfo forwards diagnostic key/value pairs to the server.
func (c *Conn) SendClientInfo(ctx context.Context, kv map[string]string) error {
	_, err := c.roundTrip(ctx, wire.MtDBConnectInfo, false, 0, wire.ClientInfoPart(kv))
	return err
}

// DBConnectInfo fetches connection level counters from the server.
func (c *Conn) DBConnectInfo(ctx context.Context) (map[uint8]wire.OptionValue, error) {
	seg, err := c.roundTrip(ctx, wire.MtDBConnectInfo, false, 0,
		wire.OptionsPart(wire.PkDBConnectInfo))
	if err != nil {
		return nil, err
	}
	p := seg.Part(wire.PkDBConnectInfo)
	if p == nil {
		return nil, dbsqlerr.NewInternalError(ctx, "missing connect info in reply", nil)
	}
	opts, err := wire.ParseOptionsPart(p)
	if err != nil {
		return nil, dbsqlerr.NewInternalError(ctx, "invalid connect info", err)
	}
	return opts, nil
}

// Ping runs the validation query.
func (c *Conn) Ping(ctx context.Context) error {
	res, err := c.ExecuteDirect(ctx, ValidationQuery, nil, false, false)
	if err != nil {
		return err
	}
	if res.ResultSetID != 0 && !res.Last {
		_ = c.CloseResultSet(ctx, res.ResultSetID)
	}
	return nil
}

// Close sends a disconnect request (best effort) and closes the socket.
// Further operations fail with a connection closed error.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	netConn := c.netConn
	sessionID := c.sessionID
	seq := c.packetSeq
	c.packetSeq++
	c.mu.Unlock()

	// best effort disconnect; the socket close is what matters
	_ = netConn.SetDeadline(time.Now().Add(time.Second))
	_ = wire.WriteMessage(netConn, wire.NewRequest(sessionID, seq, wire.MtDisconnect, false))

	err := netConn.Close()
	c.log.Debug().Msg("hdb: connection closed")
	return err
}

// roundTrip performs one serialized request/reply exchange and returns the
// reply segment, translating error segments into driver errors.
func (c *Conn) roundTrip(ctx context.Context, mt wire.MessageType, commit bool, cmdOptions uint8, parts ...wire.Part) (*wire.Segment, error) {
	m, err := c.roundTripMsg(ctx, mt, commit, cmdOptions, parts...)
	if err != nil {
		return nil, err
	}
	return &m.Segment, nil
}

func (c *Conn) roundTripMsg(ctx context.Context, mt wire.MessageType, commit bool, cmdOptions uint8, parts ...wire.Part) (*wire.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, dbsqlerr.NewOperationalError(ctx, dbsqlerr.ErrConnectionClosed, nil)
	}

	req := wire.NewRequest(c.sessionID, c.packetSeq, mt, commit, parts...)
	req.Segment.CommandOptions = cmdOptions
	c.packetSeq++

	c.applyDeadline(ctx)
	defer c.clearDeadline()

	if err := wire.WriteMessage(c.netConn, req); err != nil {
		c.closeLocked()
		return nil, dbsqlerr.NewOperationalError(ctx, "connection lost", err)
	}

	reply, err := wire.ReadMessage(c.netConn)
	if err != nil {
		c.closeLocked()
		return nil, dbsqlerr.NewOperationalError(ctx, "connection lost", err)
	}

	if reply.Segment.Kind == wire.SkError {
		if p := reply.Segment.Part(wire.PkError); p != nil {
			if se, perr := wire.ParseErrorPart(p); perr == nil {
				return nil, dbsqlerr.NewServerError(ctx, se.Code, se.SQLState, se.Text)
			}
		}
		return nil, dbsqlerr.NewInternalError(ctx, "malformed error reply", nil)
	}

	return reply, nil
}

// closeLocked tears down a connection after an I/O failure. Caller holds mu.
func (c *Conn) closeLocked() {
	if !c.closed {
		c.closed = true
		_ = c.netConn.Close()
	}
}

func (c *Conn) applyDeadline(ctx context.Context) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetDeadline(deadline)
	}
}

func (c *Conn) clearDeadline() {
	_ = c.netConn.SetDeadline(time.Time{})
}

