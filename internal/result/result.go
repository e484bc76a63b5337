// Package result implements the client side of an open server cursor: a
// lazily paged stream of rows. The first page arrives with the execute
// reply; further pages are pulled on demand until the server marks the
// last packet.
package result

import (
	"context"
	"io"

	dbsqlerr "github.com/hdbconnect/hdbconnect-go/internal/errors"
	"github.com/hdbconnect/hdbconnect-go/internal/wire"
	dbsqllog "github.com/hdbconnect/hdbconnect-go/logger"
)

// Fetcher pulls additional pages for an open result set and releases it.
// *client.Conn is the production implementation.
type Fetcher interface {
	FetchNext(ctx context.Context, resultSetID int64, fetchSize int32, numColumns int) (rows [][]wire.Value, last bool, err error)
	CloseResultSet(ctx context.Context, resultSetID int64) error
}

// Stream is one open result set. It is not safe for concurrent use; the
// owning cursor serializes access.
type Stream struct {
	fetcher     Fetcher
	resultSetID int64
	columns     []wire.Column
	fetchSize   int32

	buffer [][]wire.Value
	pos    int
	last   bool // server has no more rows

	closed     bool
	invalidMsg string // non-empty once invalidated by a transaction boundary

	log *dbsqllog.Logger
}

// NewStream wraps the first page of a row producing statement.
func NewStream(fetcher Fetcher, resultSetID int64, columns []wire.Column, firstPage [][]wire.Value, last bool, fetchSize int32, log *dbsqllog.Logger) *Stream {
	return &Stream{
		fetcher:     fetcher,
		resultSetID: resultSetID,
		columns:     columns,
		fetchSize:   fetchSize,
		buffer:      firstPage,
		last:        last,
		log:         log,
	}
}

// Columns returns the result set metadata.
func (s *Stream) Columns() []wire.Column {
	return s.columns
}

// SetFetchSize changes the page size of subsequent fetches.
func (s *Stream) SetFetchSize(n int32) {
	if n > 0 {
		s.fetchSize = n
	}
}

// Invalidate marks the stream unusable. Subsequent reads fail with an
// operational error carrying msg. Used when a transaction boundary closes
// non-held cursors.
func (s *Stream) Invalidate(msg string) {
	if !s.closed {
		s.closed = true
		s.invalidMsg = msg
	}
}

// Next returns the next row, pulling a page from the server when the
// buffer is drained. Returns io.EOF after the final row.
func (s *Stream) Next(ctx context.Context) ([]wire.Value, error) {
	if s.invalidMsg != "" {
		return nil, dbsqlerr.NewOperationalError(ctx, s.invalidMsg, nil)
	}
	if s.closed {
		return nil, io.EOF
	}

	for s.pos >= len(s.buffer) {
		if s.last {
			return nil, io.EOF
		}
		rows, last, err := s.fetcher.FetchNext(ctx, s.resultSetID, s.fetchSize, len(s.columns))
		if err != nil {
			return nil, err
		}
		s.buffer = rows
		s.pos = 0
		s.last = last
	}

	row := s.buffer[s.pos]
	s.pos++
	return row, nil
}

// NextMany returns up to n rows, fewer only at the end of the set. n <= 0
// returns an empty slice.
func (s *Stream) NextMany(ctx context.Context, n int) ([][]wire.Value, error) {
	rows := make([][]wire.Value, 0, maxInitial(n))
	for len(rows) < n {
		row, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// All drains the stream.
func (s *Stream) All(ctx context.Context) ([][]wire.Value, error) {
	var rows [][]wire.Value
	for {
		row, err := s.Next(ctx)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// Exhausted reports whether all rows were delivered.
func (s *Stream) Exhausted() bool {
	return !s.closed && s.last && s.pos >= len(s.buffer)
}

// Close releases the server side result set if it is still open. Closing
// an exhausted or invalidated stream is a no-op.
func (s *Stream) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	needServerClose := !s.last
	s.closed = true
	s.buffer = nil

	if needServerClose {
		if err := s.fetcher.CloseResultSet(ctx, s.resultSetID); err != nil {
			s.log.Warn().Err(err).Int64("resultSetId", s.resultSetID).Msg("hdb: closing result set failed")
			return err
		}
	}
	return nil
}

func maxInitial(n int) int {
	if n < 0 {
		return 0
	}
	if n > 1024 {
		return 1024
	}
	return n
}
