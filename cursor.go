package hdbconnect

import (
	"context"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/hdbconnect/hdbconnect-go/internal/arrowbatch"
	"github.com/hdbconnect/hdbconnect-go/internal/client"
	dbsqlerr "github.com/hdbconnect/hdbconnect-go/internal/errors"
	"github.com/hdbconnect/hdbconnect-go/internal/result"
	"github.com/hdbconnect/hdbconnect-go/internal/wire"
	"github.com/hdbconnect/hdbconnect-go/rows"
)

// ColumnDescription describes one column of the active result set.
type ColumnDescription struct {
	Name      string
	TypeName  string
	Precision int
	Scale     int
	Nullable  bool
}

// Cursor executes statements and iterates result sets. It moves through
// idle, open, exhausted and closed; closed is terminal. A cursor is not
// safe for concurrent use.
type Cursor struct {
	session *Session

	mu        sync.Mutex
	stream    *result.Stream
	columns   []wire.Column
	rowCount  int64
	arraySize int

	// arrowStream is the stream handed over to an Arrow iterator. The
	// iterator owns it, but transaction boundaries still invalidate it.
	arrowStream *result.Stream

	arrowHandedOut bool
	invalid        bool
	closed         bool
}

// Execute runs one statement with positional parameters. A row producing
// statement opens a result set (RowCount reports -1 until it is drained);
// DML sets RowCount to the server reported affected rows. Unread rows of
// a previous execution are discarded first.
func (c *Cursor) Execute(ctx context.Context, sql string, params ...any) error {
	var paramRows [][]wire.Value
	if len(params) > 0 {
		row, err := client.ConvertParams(ctx, params)
		if err != nil {
			return err
		}
		paramRows = [][]wire.Value{row}
	}
	return c.execute(ctx, sql, paramRows)
}

// ExecuteMany runs one DML statement once per parameter row. RowCount is
// the summed affected count.
func (c *Cursor) ExecuteMany(ctx context.Context, sql string, paramSets [][]any) error {
	paramRows := make([][]wire.Value, 0, len(paramSets))
	for _, set := range paramSets {
		row, err := client.ConvertParams(ctx, set)
		if err != nil {
			return err
		}
		paramRows = append(paramRows, row)
	}
	return c.execute(ctx, sql, paramRows)
}

func (c *Cursor) execute(ctx context.Context, sql string, paramRows [][]wire.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(ctx); err != nil {
		return err
	}
	c.discardStreamLocked(ctx)

	res, err := c.session.conn.ExecuteDirect(ctx, sql, paramRows,
		c.session.commitFlag(), c.session.holdOverCommit())
	if err != nil {
		return err
	}

	if res.IsRowProducing() {
		c.columns = res.Columns
		c.rowCount = -1
		c.arrowHandedOut = false
		c.stream = result.NewStream(c.session.conn, res.ResultSetID, res.Columns,
			res.Rows, res.Last, c.session.cfg.FetchSize, c.session.log)
	} else {
		c.columns = nil
		c.stream = nil
		c.rowCount = res.RowsAffected
	}
	return nil
}

// FetchOne returns the next row, or nil once the result set is
// exhausted. Fetching past the end is not an error.
func (c *Cursor) FetchOne(ctx context.Context) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchOneLocked(ctx)
}

// FetchMany returns up to n rows; n <= 0 uses the array size. A short or
// empty slice signals the end of the result set.
func (c *Cursor) FetchMany(ctx context.Context, n int) ([][]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 {
		n = c.arraySize
	}
	out := make([][]any, 0, n)
	for len(out) < n {
		row, err := c.fetchOneLocked(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		out = append(out, row)
	}
	return out, nil
}

// FetchAll drains the result set.
func (c *Cursor) FetchAll(ctx context.Context) ([][]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [][]any
	for {
		row, err := c.fetchOneLocked(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return out, nil
		}
		out = append(out, row)
	}
}

func (c *Cursor) fetchOneLocked(ctx context.Context) ([]any, error) {
	if err := c.usableLocked(ctx); err != nil {
		return nil, err
	}
	if c.stream == nil {
		return nil, dbsqlerr.NewProgrammingError(ctx, dbsqlerr.ErrNoActiveResultSet, nil)
	}

	row, err := c.stream.Next(ctx)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.convertRow(row), nil
}

// CallProc invokes a stored procedure by name. Parameterized calls are
// not supported; the input parameters are returned unchanged on success,
// mirroring the usual call interface.
func (c *Cursor) CallProc(ctx context.Context, name string, params ...any) ([]any, error) {
	if err := validateProcedureName(ctx, name); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		return nil, dbsqlerr.NewNotSupportedError(ctx, dbsqlerr.ErrProcParams)
	}
	if err := c.execute(ctx, "CALL "+name+"()", nil); err != nil {
		return nil, err
	}
	return params, nil
}

// NextSet reports whether another result set is available. Multiple
// result sets are not supported, so it always returns false.
func (c *Cursor) NextSet() bool {
	return false
}

// ExecuteArrow runs a query and streams its result as Arrow record
// batches. The iterator is single pass and owns the result set.
func (c *Cursor) ExecuteArrow(ctx context.Context, sql string, params ...any) (rows.ArrowBatchIterator, error) {
	if err := c.Execute(ctx, sql, params...); err != nil {
		return nil, err
	}
	return c.FetchArrow(ctx)
}

// FetchArrow hands the active result set over to an Arrow batch
// iterator. The result set can be consumed exactly once: a second call,
// or a FetchArrow after row fetching handed the set out already, fails.
func (c *Cursor) FetchArrow(ctx context.Context) (rows.ArrowBatchIterator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(ctx); err != nil {
		return nil, err
	}
	if c.arrowHandedOut {
		return nil, dbsqlerr.NewProgrammingError(ctx, dbsqlerr.ErrAlreadyConsumed, nil)
	}
	if c.stream == nil {
		return nil, dbsqlerr.NewProgrammingError(ctx, dbsqlerr.ErrNoActiveResultSet, nil)
	}

	it, err := arrowbatch.NewRecordIterator(ctx, c.stream, c.session.cfg.ArrowBatchSize)
	if err != nil {
		return nil, err
	}

	// ownership moves to the iterator; row fetches need a new execute
	c.arrowHandedOut = true
	c.arrowStream = c.stream
	c.stream = nil
	return it, nil
}

// Description returns the column metadata of the last row producing
// statement, nil before any query.
func (c *Cursor) Description() []ColumnDescription {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.columns == nil {
		return nil
	}
	desc := make([]ColumnDescription, len(c.columns))
	for i, col := range c.columns {
		desc[i] = ColumnDescription{
			Name:      col.Name,
			TypeName:  col.TypeCode.String(),
			Precision: int(col.Precision),
			Scale:     int(col.Scale),
			Nullable:  col.Nullable,
		}
	}
	return desc
}

// RowCount returns the affected row count of the last DML statement, or
// -1 for row producing statements.
func (c *Cursor) RowCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowCount
}

// ArraySize returns the default row count of FetchMany.
func (c *Cursor) ArraySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arraySize
}

// SetArraySize sets the default row count of FetchMany. Values below 1
// are ignored.
func (c *Cursor) SetArraySize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= 1 {
		c.arraySize = n
	}
}

// Close releases the server side result set, if any, and detaches the
// cursor from its session. Closing twice is a no-op.
func (c *Cursor) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	c.session.removeCursor(c)
	if stream != nil {
		return stream.Close(ctx)
	}
	return nil
}

// invalidate marks the cursor unusable after the session closed. The
// failure surfaces on the next use.
func (c *Cursor) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

// invalidateAfterBoundary applies a transaction boundary the cursor's
// holdability does not survive. Cursors without result state stay
// usable; only open or exhausted result sets are torn down.
func (c *Cursor) invalidateAfterBoundary() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil && c.arrowStream == nil {
		return
	}
	c.invalidateLocked()
}

func (c *Cursor) invalidateLocked() {
	if c.closed || c.invalid {
		return
	}
	c.invalid = true
	if c.stream != nil {
		c.stream.Invalidate(dbsqlerr.ErrCursorClosed)
		c.stream = nil
	}
	if c.arrowStream != nil {
		c.arrowStream.Invalidate(dbsqlerr.ErrCursorClosed)
		c.arrowStream = nil
	}
}

func (c *Cursor) usableLocked(ctx context.Context) error {
	if c.closed {
		return dbsqlerr.NewProgrammingError(ctx, dbsqlerr.ErrCursorClosed, nil)
	}
	if c.invalid {
		return dbsqlerr.NewOperationalError(ctx, dbsqlerr.ErrCursorClosed, nil)
	}
	return nil
}

// discardStreamLocked drops unread rows of a previous execution, closing
// the server side result set when it is still open.
func (c *Cursor) discardStreamLocked(ctx context.Context) {
	if c.stream != nil {
		_ = c.stream.Close(ctx)
		c.stream = nil
	}
}

func (c *Cursor) convertRow(row []wire.Value) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = c.convertValue(i, v)
	}
	return out
}

func (c *Cursor) convertValue(col int, v wire.Value) any {
	if v.Null {
		return nil
	}
	switch v.Type {
	case wire.TcBoolean:
		return v.Bool
	case wire.TcTinyInt, wire.TcSmallInt, wire.TcInt, wire.TcBigInt:
		return v.Int
	case wire.TcReal, wire.TcDouble:
		return v.Double
	case wire.TcChar, wire.TcVarchar, wire.TcNChar, wire.TcNVarchar:
		return v.Text()
	case wire.TcBinary, wire.TcVarBinary:
		return v.Bytes
	case wire.TcDate, wire.TcTime, wire.TcTimestamp, wire.TcLongdate:
		return v.Time()
	case wire.TcDecimal:
		scale := 0
		if col < len(c.columns) {
			scale = int(c.columns[col].Scale)
		}
		return formatDecimal(v.Decimal, scale)
	}
	return nil
}

// formatDecimal renders a scaled 128-bit integer as an exact decimal
// string, e.g. {123456, scale 3} -> "123.456". No float is involved.
func formatDecimal(d wire.Decimal, scale int) string {
	n := new(big.Int).SetInt64(d.Hi)
	n.Lsh(n, 64)
	n.Or(n, new(big.Int).SetUint64(d.Lo))

	neg := n.Sign() < 0
	digits := new(big.Int).Abs(n).String()

	if scale > 0 {
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if neg {
		digits = "-" + digits
	}
	return digits
}
