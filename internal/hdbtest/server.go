// Package hdbtest provides an in-process database server speaking the
// real wire protocol over a loopback socket. Tests register canned
// statements and assert against what the server observed; nothing is
// mocked below the protocol layer, so framing, authentication and fetch
// paging are exercised end to end.
package hdbtest

import (
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/hdbconnect/hdbconnect-go/internal/auth"
	"github.com/hdbconnect/hdbconnect-go/internal/wire"
)

// ValidationQuery is pre-registered on every server with a single row.
const ValidationQuery = "SELECT 1 FROM DUMMY"

// QueryResult is a canned result set returned for a registered query.
type QueryResult struct {
	Columns []wire.Column
	Rows    [][]wire.Value
}

type openResultSet struct {
	columns []wire.Column
	rows    [][]wire.Value
	pos     int
}

// Server is a scriptable protocol endpoint. All methods are safe for
// concurrent use.
type Server struct {
	ln net.Listener
	wg sync.WaitGroup

	mu          sync.Mutex
	users       map[string]string
	queries     map[string]QueryResult
	execs       map[string]int64
	failures    map[string]wire.ServerError
	lastParams  map[string][][]wire.Value
	clientInfo  map[string]string
	openSets    map[int64]*openResultSet
	commits     int
	rollbacks   int
	lastOptions uint8
	pageSize    int
	memUsage    int64
	procMicros  int64
	nextSession int64
	nextSet     int64
	closed      bool
}

// New starts a server on a loopback port.
func New() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		ln:         ln,
		users:      map[string]string{},
		queries:    map[string]QueryResult{},
		execs:      map[string]int64{},
		failures:   map[string]wire.ServerError{},
		lastParams: map[string][][]wire.Value{},
		clientInfo: map[string]string{},
		openSets:   map[int64]*openResultSet{},
		pageSize:   1000,
	}
	s.RegisterQuery(ValidationQuery,
		[]wire.Column{{Name: "1", TypeCode: wire.TcInt}},
		[][]wire.Value{{wire.IntValue(wire.TcInt, 1)}})

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Host and Port address the server.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

// AddUser registers credentials accepted by the authentication exchange.
func (s *Server) AddUser(user, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user] = password
}

// RegisterQuery makes sql return the given result set.
func (s *Server) RegisterQuery(sql string, columns []wire.Column, rows [][]wire.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[sql] = QueryResult{Columns: columns, Rows: rows}
}

// RegisterExec makes sql succeed as DML with the given affected count.
func (s *Server) RegisterExec(sql string, affected int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[sql] = affected
}

// RegisterFailure makes sql fail with a server error.
func (s *Server) RegisterFailure(sql string, code int32, sqlState, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[sql] = wire.ServerError{Code: code, SQLState: sqlState, Text: text}
}

// SetPageSize caps the rows returned per execute/fetch round trip,
// forcing multi-page result sets in tests.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.pageSize = n
	}
}

// SetStatistics sets the counters reported via the connect info request.
func (s *Server) SetStatistics(memoryBytes, processingMicros int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memUsage = memoryBytes
	s.procMicros = processingMicros
}

// Commits returns the number of commit requests, implicit commit flags
// included.
func (s *Server) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Rollbacks returns the number of rollback requests.
func (s *Server) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

// LastCommandOptions returns the command options of the most recent
// execute request.
func (s *Server) LastCommandOptions() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOptions
}

// LastParams returns the parameter rows received with the most recent
// execution of sql.
func (s *Server) LastParams(sql string) [][]wire.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastParams[sql]
}

// ClientInfo returns a copy of the diagnostic key/value pairs received.
func (s *Server) ClientInfo() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv := make(map[string]string, len(s.clientInfo))
	for k, v := range s.clientInfo {
		kv[k] = v
	}
	return kv
}

// OpenResultSets returns how many server side result sets are open.
func (s *Server) OpenResultSets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.openSets)
}

// Close stops accepting and tears down the listener.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// connState is the per-connection authentication state.
type connState struct {
	user            string
	method          string
	clientChallenge []byte
	salt            []byte
	serverChallenge []byte
	authenticated   bool
	sessionID       int64
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	var hs [8]byte
	if _, err := io.ReadFull(conn, hs[:]); err != nil || hs != wire.HandshakeRequest {
		return
	}
	// product version 1.0, protocol version 4.1
	if _, err := conn.Write([]byte{1, 0, 0, 4, 1, 0, 0, 0}); err != nil {
		return
	}

	st := &connState{}
	for {
		req, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}

		reply := s.handle(st, req)
		if reply == nil {
			return // disconnect
		}
		if err := wire.WriteMessage(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) handle(st *connState, req *wire.Message) *wire.Message {
	seg := &req.Segment

	switch seg.MessageType {
	case wire.MtAuthenticate:
		return s.handleAuthenticate(st, req)
	case wire.MtConnect:
		return s.handleConnect(st, req)
	case wire.MtDisconnect:
		return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcDisconnect)
	}

	if !st.authenticated {
		return errorReply(req, 10, "28000", "not authenticated")
	}

	switch seg.MessageType {
	case wire.MtExecuteDirect:
		return s.handleExecute(st, req)
	case wire.MtFetchNext:
		return s.handleFetch(st, req)
	case wire.MtCloseResultSet:
		return s.handleCloseResultSet(st, req)
	case wire.MtCommit:
		s.mu.Lock()
		s.commits++
		s.mu.Unlock()
		return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcCommit)
	case wire.MtRollback:
		s.mu.Lock()
		s.rollbacks++
		s.mu.Unlock()
		return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcRollback)
	case wire.MtDBConnectInfo:
		return s.handleConnectInfo(st, req)
	}

	return errorReply(req, 1, "HY000", "unsupported request")
}

func (s *Server) handleAuthenticate(st *connState, req *wire.Message) *wire.Message {
	p := req.Segment.Part(wire.PkAuthentication)
	if p == nil {
		return errorReply(req, 10, "28000", "malformed authentication request")
	}
	fields, err := wire.ParseAuthPart(p)
	if err != nil || len(fields) < 3 {
		return errorReply(req, 10, "28000", "malformed authentication request")
	}

	st.user = string(fields[0])
	st.method = string(fields[1])
	st.clientChallenge = fields[2]

	if st.method != wire.AmScramSHA256 && st.method != wire.AmScramPBKDF2SHA256 {
		return errorReply(req, 10, "28000", "unknown authentication method")
	}

	salt, nonce, err := auth.NewServerChallenge()
	if err != nil {
		return errorReply(req, 1, "HY000", "challenge generation failed")
	}
	st.salt = salt
	st.serverChallenge = nonce

	return wire.NewReply(0, req.PacketSeq, wire.FcNil,
		wire.AuthPart([]byte(st.method), salt, nonce))
}

func (s *Server) handleConnect(st *connState, req *wire.Message) *wire.Message {
	p := req.Segment.Part(wire.PkAuthentication)
	if p == nil || st.salt == nil {
		return errorReply(req, 10, "28000", "authentication failed")
	}
	fields, err := wire.ParseAuthPart(p)
	if err != nil || len(fields) < 3 {
		return errorReply(req, 10, "28000", "authentication failed")
	}
	proof := fields[2]

	s.mu.Lock()
	password, known := s.users[st.user]
	s.mu.Unlock()
	if !known {
		return errorReply(req, 10, "28000", "authentication failed")
	}

	salted, err := auth.SaltedPassword(st.method, password, st.salt)
	if err != nil || !auth.Verify(proof, salted, st.salt, st.serverChallenge, st.clientChallenge) {
		return errorReply(req, 10, "28000", "authentication failed")
	}

	if ci := req.Segment.Part(wire.PkClientInfo); ci != nil {
		if kv, err := wire.ParseClientInfoPart(ci); err == nil {
			s.mu.Lock()
			for k, v := range kv {
				s.clientInfo[k] = v
			}
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.nextSession++
	st.sessionID = s.nextSession
	s.mu.Unlock()
	st.authenticated = true

	return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcConnect,
		wire.OptionsPart(wire.PkConnectOptions,
			wire.IntOption(wire.CoKConnectionID, st.sessionID)))
}

func (s *Server) handleExecute(st *connState, req *wire.Message) *wire.Message {
	cmd := req.Segment.Part(wire.PkCommand)
	if cmd == nil {
		return errorReply(req, 257, "42000", "missing command")
	}
	sql := wire.ParseCommandPart(cmd)

	s.mu.Lock()
	s.lastOptions = req.Segment.CommandOptions
	if req.Segment.Commit {
		s.commits++
	}
	failure, failed := s.failures[sql]
	affected, isExec := s.execs[sql]
	query, isQuery := s.queries[sql]
	pageSize := s.pageSize
	s.mu.Unlock()

	if p := req.Segment.Part(wire.PkParameters); p != nil {
		if params, err := wire.CountParameterValues(p); err == nil {
			s.mu.Lock()
			s.lastParams[sql] = params
			s.mu.Unlock()
		}
	}

	if failed {
		return errorReply(req, failure.Code, failure.SQLState, failure.Text)
	}
	if isExec {
		return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcUpdate,
			wire.RowsAffectedPart(int32(affected)))
	}
	if !isQuery {
		return errorReply(req, 257, "42000", "sql syntax error: "+sql)
	}

	s.mu.Lock()
	s.nextSet++
	setID := s.nextSet
	s.mu.Unlock()

	rs := &openResultSet{columns: query.Columns, rows: query.Rows}
	firstPage, last := rs.page(pageSize)

	var attrs uint8
	if last {
		attrs = wire.PaLastPacket
	} else {
		s.mu.Lock()
		s.openSets[setID] = rs
		s.mu.Unlock()
	}

	return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcSelect,
		wire.ResultSetMetadataPart(query.Columns),
		wire.ResultSetIDPart(setID),
		wire.ResultSetPart(firstPage, attrs))
}

func (s *Server) handleFetch(st *connState, req *wire.Message) *wire.Message {
	idPart := req.Segment.Part(wire.PkResultSetID)
	sizePart := req.Segment.Part(wire.PkFetchSize)
	if idPart == nil || sizePart == nil {
		return errorReply(req, 1, "HY000", "malformed fetch request")
	}
	setID, err := wire.ParseResultSetIDPart(idPart)
	if err != nil {
		return errorReply(req, 1, "HY000", "malformed fetch request")
	}
	fetchSize, err := wire.ParseFetchSizePart(sizePart)
	if err != nil || fetchSize < 1 {
		return errorReply(req, 1, "HY000", "malformed fetch request")
	}

	s.mu.Lock()
	rs, ok := s.openSets[setID]
	pageSize := s.pageSize
	s.mu.Unlock()
	if !ok {
		// unknown or already drained: empty last reply
		return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcFetch)
	}

	if int(fetchSize) < pageSize {
		pageSize = int(fetchSize)
	}
	rows, last := rs.page(pageSize)

	var attrs uint8
	if last {
		attrs = wire.PaLastPacket
		s.mu.Lock()
		delete(s.openSets, setID)
		s.mu.Unlock()
	}
	return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcFetch,
		wire.ResultSetPart(rows, attrs))
}

func (s *Server) handleCloseResultSet(st *connState, req *wire.Message) *wire.Message {
	if idPart := req.Segment.Part(wire.PkResultSetID); idPart != nil {
		if setID, err := wire.ParseResultSetIDPart(idPart); err == nil {
			s.mu.Lock()
			delete(s.openSets, setID)
			s.mu.Unlock()
		}
	}
	return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcNil)
}

func (s *Server) handleConnectInfo(st *connState, req *wire.Message) *wire.Message {
	if ci := req.Segment.Part(wire.PkClientInfo); ci != nil {
		if kv, err := wire.ParseClientInfoPart(ci); err == nil {
			s.mu.Lock()
			for k, v := range kv {
				s.clientInfo[k] = v
			}
			s.mu.Unlock()
		}
		return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcNil)
	}

	s.mu.Lock()
	mem, proc := s.memUsage, s.procMicros
	s.mu.Unlock()
	return wire.NewReply(st.sessionID, req.PacketSeq, wire.FcNil,
		wire.OptionsPart(wire.PkDBConnectInfo,
			wire.IntOption(wire.CoKServerMemoryUsage, mem),
			wire.IntOption(wire.CoKServerProcessingTime, proc)))
}

func errorReply(req *wire.Message, code int32, sqlState, text string) *wire.Message {
	return wire.NewErrorReply(req.SessionID, req.PacketSeq,
		wire.ErrorPart(wire.ServerError{Code: code, Level: 2, SQLState: sqlState, Text: text}))
}

func (rs *openResultSet) page(n int) (rows [][]wire.Value, last bool) {
	end := rs.pos + n
	if end >= len(rs.rows) {
		end = len(rs.rows)
	}
	rows = rs.rows[rs.pos:end]
	rs.pos = end
	return rows, rs.pos >= len(rs.rows)
}
