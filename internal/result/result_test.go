package result

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdbconnect/hdbconnect-go/internal/wire"
	dbsqllog "github.com/hdbconnect/hdbconnect-go/logger"
)

// fakeFetcher serves pages out of a fixed row list.
type fakeFetcher struct {
	rows       [][]wire.Value
	pos        int
	fetchCalls int
	closeCalls int
}

func (f *fakeFetcher) FetchNext(_ context.Context, _ int64, fetchSize int32, _ int) ([][]wire.Value, bool, error) {
	f.fetchCalls++
	end := f.pos + int(fetchSize)
	if end > len(f.rows) {
		end = len(f.rows)
	}
	page := f.rows[f.pos:end]
	f.pos = end
	return page, f.pos >= len(f.rows), nil
}

func (f *fakeFetcher) CloseResultSet(context.Context, int64) error {
	f.closeCalls++
	return nil
}

func intRows(n int) [][]wire.Value {
	rows := make([][]wire.Value, n)
	for i := range rows {
		rows[i] = []wire.Value{wire.IntValue(wire.TcBigInt, int64(i))}
	}
	return rows
}

var testColumns = []wire.Column{{Name: "N", TypeCode: wire.TcBigInt}}

func TestStreamDrainsAcrossPages(t *testing.T) {
	all := intRows(10)
	f := &fakeFetcher{rows: all[3:]}
	s := NewStream(f, 1, testColumns, all[:3], false, 4, dbsqllog.Log)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		row, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(i), row[0].Int)
	}

	_, err := s.Next(ctx)
	assert.Equal(t, io.EOF, err)
	// 7 remaining rows in pages of 4
	assert.Equal(t, 2, f.fetchCalls)
	assert.True(t, s.Exhausted())
}

func TestStreamSinglePage(t *testing.T) {
	f := &fakeFetcher{}
	s := NewStream(f, 1, testColumns, intRows(2), true, 4, dbsqllog.Log)

	ctx := context.Background()
	rows, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 0, f.fetchCalls)

	_, err = s.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestNextManyReturnsShortAtEnd(t *testing.T) {
	f := &fakeFetcher{}
	s := NewStream(f, 1, testColumns, intRows(3), true, 4, dbsqllog.Log)

	ctx := context.Background()
	rows, err := s.NextMany(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.NextMany(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = s.NextMany(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCloseReleasesOpenResultSet(t *testing.T) {
	f := &fakeFetcher{rows: intRows(8)}
	s := NewStream(f, 1, testColumns, nil, false, 4, dbsqllog.Log)

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, f.closeCalls)

	// closing again is a no-op
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, f.closeCalls)
}

func TestCloseSkipsServerForDrainedStream(t *testing.T) {
	f := &fakeFetcher{}
	s := NewStream(f, 1, testColumns, intRows(1), true, 4, dbsqllog.Log)

	_, err := s.Next(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 0, f.closeCalls)
}

func TestInvalidateFailsReads(t *testing.T) {
	f := &fakeFetcher{}
	s := NewStream(f, 1, testColumns, intRows(3), true, 4, dbsqllog.Log)

	s.Invalidate("cursor is closed")
	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cursor is closed")
}
