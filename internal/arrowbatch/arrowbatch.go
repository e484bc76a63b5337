// Package arrowbatch converts wire rows into Arrow record batches. The
// conversion is columnar and type driven: a builder per column, appended
// row by row, flushed every batchSize rows. Decimal columns become
// decimal128 with the precision and scale reported by the server, so no
// value ever passes through a float.
package arrowbatch

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/decimal128"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/pkg/errors"

	dbsqlerr "github.com/hdbconnect/hdbconnect-go/internal/errors"
	"github.com/hdbconnect/hdbconnect-go/internal/result"
	"github.com/hdbconnect/hdbconnect-go/internal/wire"
)

// DefaultBatchSize is the row count per record batch unless configured
// otherwise.
const DefaultBatchSize = 65536

const defaultDecimalPrecision = 38

// NewSchema maps result set metadata to an Arrow schema. Column names and
// nullability are preserved as reported.
func NewSchema(columns []wire.Column) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		dt, err := arrowType(c)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: c.Name, Type: dt, Nullable: c.Nullable}
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowType(c wire.Column) (arrow.DataType, error) {
	switch c.TypeCode {
	case wire.TcTinyInt:
		return arrow.PrimitiveTypes.Int8, nil
	case wire.TcSmallInt:
		return arrow.PrimitiveTypes.Int16, nil
	case wire.TcInt:
		return arrow.PrimitiveTypes.Int32, nil
	case wire.TcBigInt:
		return arrow.PrimitiveTypes.Int64, nil
	case wire.TcReal:
		return arrow.PrimitiveTypes.Float32, nil
	case wire.TcDouble:
		return arrow.PrimitiveTypes.Float64, nil
	case wire.TcBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case wire.TcDecimal:
		precision := int32(c.Precision)
		if precision <= 0 {
			precision = defaultDecimalPrecision
		}
		return &arrow.Decimal128Type{Precision: precision, Scale: int32(c.Scale)}, nil
	case wire.TcChar, wire.TcVarchar, wire.TcNChar, wire.TcNVarchar:
		return arrow.BinaryTypes.String, nil
	case wire.TcBinary, wire.TcVarBinary:
		return arrow.BinaryTypes.Binary, nil
	case wire.TcDate:
		return arrow.FixedWidthTypes.Date32, nil
	case wire.TcTime:
		return arrow.FixedWidthTypes.Time64us, nil
	case wire.TcTimestamp, wire.TcLongdate:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	}
	return nil, errors.Errorf("no arrow mapping for column type %s", c.TypeCode)
}

// Processor accumulates rows into the current record batch.
type Processor struct {
	schema    *arrow.Schema
	columns   []wire.Column
	builder   *array.RecordBuilder
	numRows   int
	totalRows int64
}

// NewProcessor builds the per-column builders for the given metadata.
func NewProcessor(columns []wire.Column) (*Processor, error) {
	schema, err := NewSchema(columns)
	if err != nil {
		return nil, err
	}
	return &Processor{
		schema:  schema,
		columns: columns,
		builder: array.NewRecordBuilder(memory.DefaultAllocator, schema),
	}, nil
}

// Schema returns the Arrow schema of the result set.
func (p *Processor) Schema() *arrow.Schema {
	return p.schema
}

// NumRows returns the row count of the batch under construction.
func (p *Processor) NumRows() int {
	return p.numRows
}

// TotalRows returns the row count across all flushed batches plus the
// current one.
func (p *Processor) TotalRows() int64 {
	return p.totalRows
}

// AppendRow appends one wire row to the current batch.
func (p *Processor) AppendRow(row []wire.Value) error {
	if len(row) != len(p.columns) {
		return errors.Errorf("row has %d values, expected %d", len(row), len(p.columns))
	}
	for i, v := range row {
		if err := p.appendValue(p.builder.Field(i), p.columns[i], v); err != nil {
			return err
		}
	}
	p.numRows++
	p.totalRows++
	return nil
}

func (p *Processor) appendValue(fb array.Builder, col wire.Column, v wire.Value) error {
	if v.Null {
		fb.AppendNull()
		return nil
	}

	switch b := fb.(type) {
	case *array.Int8Builder:
		b.Append(int8(v.Int))
	case *array.Int16Builder:
		b.Append(int16(v.Int))
	case *array.Int32Builder:
		b.Append(int32(v.Int))
	case *array.Int64Builder:
		b.Append(v.Int)
	case *array.Float32Builder:
		b.Append(float32(v.Double))
	case *array.Float64Builder:
		b.Append(v.Double)
	case *array.BooleanBuilder:
		b.Append(v.Bool)
	case *array.Decimal128Builder:
		b.Append(decimal128.New(v.Decimal.Hi, v.Decimal.Lo))
	case *array.StringBuilder:
		b.Append(v.Text())
	case *array.BinaryBuilder:
		b.Append(v.Bytes)
	case *array.Date32Builder:
		b.Append(arrow.Date32(v.Int))
	case *array.Time64Builder:
		b.Append(arrow.Time64(v.Int))
	case *array.TimestampBuilder:
		b.Append(arrow.Timestamp(v.Int))
	default:
		return errors.Errorf("no builder for column %q (%s)", col.Name, col.TypeCode)
	}
	return nil
}

// Flush finalizes the current batch as an arrow.Record and resets the
// builders. The caller owns the record and must Release it.
func (p *Processor) Flush() arrow.Record {
	rec := p.builder.NewRecord()
	p.numRows = 0
	return rec
}

// Release frees the builder memory.
func (p *Processor) Release() {
	p.builder.Release()
}

// RecordIterator streams record batches out of an open result stream. It
// pulls rows lazily, so server fetches interleave with batch construction
// instead of materializing the full set first.
type RecordIterator struct {
	ctx       context.Context
	stream    *result.Stream
	proc      *Processor
	batchSize int

	peeked []wire.Value
	done   bool
	closed bool
}

// NewRecordIterator builds the iterator over stream. batchSize <= 0 falls
// back to DefaultBatchSize.
func NewRecordIterator(ctx context.Context, stream *result.Stream, batchSize int) (*RecordIterator, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	proc, err := NewProcessor(stream.Columns())
	if err != nil {
		return nil, dbsqlerr.NewInternalError(ctx, "building arrow schema failed", err)
	}
	return &RecordIterator{
		ctx:       ctx,
		stream:    stream,
		proc:      proc,
		batchSize: batchSize,
	}, nil
}

// Schema returns the Arrow schema of the batches.
func (it *RecordIterator) Schema() *arrow.Schema {
	return it.proc.Schema()
}

// Next builds and returns the next record batch. Every batch except the
// last holds exactly batchSize rows. Returns io.EOF once the result set is
// drained. The caller owns the returned record and must Release it.
func (it *RecordIterator) Next() (arrow.Record, error) {
	if it.closed || it.done {
		return nil, io.EOF
	}

	for it.proc.NumRows() < it.batchSize {
		row, err := it.nextRow()
		if err == io.EOF {
			it.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		if err := it.proc.AppendRow(row); err != nil {
			return nil, dbsqlerr.NewInternalError(it.ctx, "building arrow batch failed", err)
		}
	}

	if it.proc.NumRows() == 0 {
		return nil, io.EOF
	}
	return it.proc.Flush(), nil
}

// HasNext reports whether another batch can be produced.
func (it *RecordIterator) HasNext() bool {
	if it.closed {
		return false
	}
	if it.proc.NumRows() > 0 || it.peeked != nil {
		return true
	}
	if it.done {
		return false
	}
	row, err := it.stream.Next(it.ctx)
	if err != nil {
		it.done = true
		return false
	}
	it.peeked = row
	return true
}

// Close releases the builders and the server side result set.
func (it *RecordIterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.peeked = nil
	it.proc.Release()
	_ = it.stream.Close(it.ctx)
}

func (it *RecordIterator) nextRow() ([]wire.Value, error) {
	if it.peeked != nil {
		row := it.peeked
		it.peeked = nil
		return row, nil
	}
	return it.stream.Next(it.ctx)
}
