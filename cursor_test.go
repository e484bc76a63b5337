package hdbconnect

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hdberr "github.com/hdbconnect/hdbconnect-go/errors"
	"github.com/hdbconnect/hdbconnect-go/internal/wire"
)

func TestCursorQueryAndFetchLaws(t *testing.T) {
	srv := startServer(t)
	srv.SetPageSize(2)
	registerCountQuery(srv, "SELECT N FROM T", 5)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cursor.Execute(ctx, "SELECT N FROM T"))
	assert.Equal(t, int64(-1), cursor.RowCount())

	desc := cursor.Description()
	require.Len(t, desc, 1)
	assert.Equal(t, "N", desc[0].Name)
	assert.Equal(t, "BIGINT", desc[0].TypeName)

	// FetchMany may return short
	rows, err := cursor.FetchMany(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// FetchAll drains the rest
	rows, err = cursor.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// fetching past exhaustion is not an error
	row, err := cursor.FetchOne(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)

	rows, err = cursor.FetchMany(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = cursor.FetchAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCursorFetchManyUsesArraySize(t *testing.T) {
	srv := startServer(t)
	registerCountQuery(srv, "SELECT N FROM T", 5)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	assert.Equal(t, 1, cursor.ArraySize())
	cursor.SetArraySize(3)
	cursor.SetArraySize(0) // ignored
	assert.Equal(t, 3, cursor.ArraySize())

	ctx := context.Background()
	require.NoError(t, cursor.Execute(ctx, "SELECT N FROM T"))
	rows, err := cursor.FetchMany(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestCursorDML(t *testing.T) {
	srv := startServer(t)
	srv.RegisterExec("DELETE FROM T", 9)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cursor.Execute(ctx, "DELETE FROM T"))
	assert.Equal(t, int64(9), cursor.RowCount())
	assert.Nil(t, cursor.Description())

	_, err = cursor.FetchOne(ctx)
	require.Error(t, err)
	assert.True(t, hdberr.Is(err, hdberr.Programming))
	assert.Contains(t, err.Error(), "no active result set")
}

func TestCursorFetchBeforeExecute(t *testing.T) {
	srv := startServer(t)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	_, err = cursor.FetchOne(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active result set")
}

func TestCursorParameterBinding(t *testing.T) {
	srv := startServer(t)
	srv.RegisterExec("INSERT INTO T VALUES (?, ?, ?)", 1)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	ts := time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC)
	require.NoError(t, cursor.Execute(context.Background(),
		"INSERT INTO T VALUES (?, ?, ?)", int64(7), "text", ts))

	params := srv.LastParams("INSERT INTO T VALUES (?, ?, ?)")
	require.Len(t, params, 1)
	require.Len(t, params[0], 3)
	assert.Equal(t, int64(7), params[0][0].Int)
	assert.Equal(t, "text", params[0][1].Text())
	assert.Equal(t, ts, params[0][2].Time())
}

func TestCursorExecuteMany(t *testing.T) {
	srv := startServer(t)
	srv.RegisterExec("INSERT INTO T VALUES (?)", 3)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	sets := [][]any{{int64(1)}, {int64(2)}, {int64(3)}}
	require.NoError(t, cursor.ExecuteMany(context.Background(), "INSERT INTO T VALUES (?)", sets))
	assert.Equal(t, int64(3), cursor.RowCount())

	params := srv.LastParams("INSERT INTO T VALUES (?)")
	require.Len(t, params, 3)
	assert.Equal(t, int64(2), params[1][0].Int)
}

func TestDecimalRoundTrip(t *testing.T) {
	srv := startServer(t)
	srv.RegisterQuery("SELECT PRICE FROM P",
		[]wire.Column{{Name: "PRICE", TypeCode: wire.TcDecimal, Precision: 10, Scale: 3}},
		[][]wire.Value{
			{wire.DecimalValue(wire.DecimalFromInt64(123456))},
			{wire.DecimalValue(wire.DecimalFromInt64(-5))},
			{wire.DecimalValue(wire.DecimalFromInt64(0))},
		})
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cursor.Execute(ctx, "SELECT PRICE FROM P"))
	rows, err := cursor.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// exact decimal strings, no float anywhere
	assert.Equal(t, "123.456", rows[0][0])
	assert.Equal(t, "-0.005", rows[1][0])
	assert.Equal(t, "0.000", rows[2][0])
}

func TestCallProc(t *testing.T) {
	srv := startServer(t)
	srv.RegisterExec("CALL CLEANUP()", 0)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	ctx := context.Background()
	out, err := cursor.CallProc(ctx, "CLEANUP")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = cursor.CallProc(ctx, "")
	require.Error(t, err)
	assert.True(t, hdberr.Is(err, hdberr.Programming))
	assert.Contains(t, err.Error(), "procedure name cannot be empty")

	_, err = cursor.CallProc(ctx, "PROC; DROP TABLE X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid procedure name")

	_, err = cursor.CallProc(ctx, "CLEANUP", 1)
	require.Error(t, err)
	assert.True(t, hdberr.Is(err, hdberr.NotSupported))
}

func TestNextSetAlwaysFalse(t *testing.T) {
	srv := startServer(t)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	assert.False(t, cursor.NextSet())
}

func TestReExecuteDiscardsUnreadRows(t *testing.T) {
	srv := startServer(t)
	srv.SetPageSize(2)
	registerCountQuery(srv, "SELECT N FROM T", 6)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cursor.Execute(ctx, "SELECT N FROM T"))
	assert.Equal(t, 1, srv.OpenResultSets())

	require.NoError(t, cursor.Execute(ctx, "SELECT N FROM T"))
	assert.Equal(t, 1, srv.OpenResultSets())

	row, err := cursor.FetchOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), row[0].(int64))
}

func TestCursorClosedIsTerminal(t *testing.T) {
	srv := startServer(t)
	registerCountQuery(srv, "SELECT N FROM T", 2)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cursor.Execute(ctx, "SELECT N FROM T"))
	require.NoError(t, cursor.Close(ctx))
	require.NoError(t, cursor.Close(ctx)) // idempotent

	err = cursor.Execute(ctx, "SELECT N FROM T")
	require.Error(t, err)
	assert.True(t, hdberr.Is(err, hdberr.Programming))
	assert.Contains(t, err.Error(), "cursor is closed")
}

func TestExecuteArrowStreamsBatches(t *testing.T) {
	srv := startServer(t)
	srv.SetPageSize(3)
	registerCountQuery(srv, "SELECT N FROM T", 10)

	cfg := serverConfig(srv)
	cfg.ArrowBatchSize = 4
	session := connect(t, srv, cfg)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	it, err := cursor.ExecuteArrow(context.Background(), "SELECT N FROM T")
	require.NoError(t, err)
	defer it.Close()

	assert.Equal(t, "N", it.Schema().Field(0).Name)
	assert.Equal(t, arrow.PrimitiveTypes.Int64, it.Schema().Field(0).Type)

	var sizes []int64
	var next int64
	for it.HasNext() {
		rec, err := it.Next()
		require.NoError(t, err)
		sizes = append(sizes, rec.NumRows())
		col := rec.Column(0).(*array.Int64)
		for i := 0; i < col.Len(); i++ {
			assert.Equal(t, next, col.Value(i))
			next++
		}
		rec.Release()
	}
	assert.Equal(t, []int64{4, 4, 2}, sizes)

	_, err = it.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFetchArrowConsumedOnce(t *testing.T) {
	srv := startServer(t)
	registerCountQuery(srv, "SELECT N FROM T", 3)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	ctx := context.Background()
	it, err := cursor.ExecuteArrow(ctx, "SELECT N FROM T")
	require.NoError(t, err)
	defer it.Close()

	_, err = cursor.FetchArrow(ctx)
	require.Error(t, err)
	assert.True(t, hdberr.Is(err, hdberr.Programming))
	assert.Contains(t, err.Error(), "already consumed")

	// row fetching lost the result set too
	_, err = cursor.FetchOne(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active result set")
}

func TestFetchArrowWithoutQuery(t *testing.T) {
	srv := startServer(t)
	session := connect(t, srv, nil)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	_, err = cursor.FetchArrow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active result set")
}

func TestArrowIteratorInvalidatedAtCommit(t *testing.T) {
	srv := startServer(t)
	srv.SetPageSize(2)
	registerCountQuery(srv, "SELECT N FROM T", 6)

	cfg := serverConfig(srv)
	cfg.Autocommit = false
	cfg.ArrowBatchSize = 2
	session := connect(t, srv, cfg)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	ctx := context.Background()
	it, err := cursor.ExecuteArrow(ctx, "SELECT N FROM T")
	require.NoError(t, err)
	defer it.Close()

	rec, err := it.Next()
	require.NoError(t, err)
	rec.Release()

	// HoldNone does not keep the handed out stream across the boundary
	require.NoError(t, session.Commit(ctx))

	_, err = it.Next()
	require.Error(t, err)
	assert.True(t, hdberr.Is(err, hdberr.Operational))
	assert.Contains(t, err.Error(), "cursor is closed")
	assert.False(t, it.HasNext())
}

func TestArrowIteratorHeldOverCommit(t *testing.T) {
	srv := startServer(t)
	srv.SetPageSize(2)
	registerCountQuery(srv, "SELECT N FROM T", 6)

	cfg := serverConfig(srv)
	cfg.Autocommit = false
	cfg.ArrowBatchSize = 2
	cfg.Holdability = HoldCommit
	session := connect(t, srv, cfg)
	cursor, err := session.Cursor()
	require.NoError(t, err)

	ctx := context.Background()
	it, err := cursor.ExecuteArrow(ctx, "SELECT N FROM T")
	require.NoError(t, err)
	defer it.Close()

	rec, err := it.Next()
	require.NoError(t, err)
	rec.Release()

	require.NoError(t, session.Commit(ctx))

	var rows int64
	for it.HasNext() {
		rec, err := it.Next()
		require.NoError(t, err)
		rows += rec.NumRows()
		rec.Release()
	}
	assert.Equal(t, int64(4), rows)
}
