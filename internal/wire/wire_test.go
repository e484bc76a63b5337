package wire

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTripRequest(t *testing.T) {
	req := NewRequest(42, 7, MtExecuteDirect, true,
		CommandPart("SELECT 1 FROM DUMMY"),
		FetchSizePart(100))
	req.Segment.CommandOptions = CoHoldCursorOverCommit

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, req))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)

	assert.Equal(t, int64(42), got.SessionID)
	assert.Equal(t, int32(7), got.PacketSeq)
	assert.Equal(t, SkRequest, got.Segment.Kind)
	assert.Equal(t, MtExecuteDirect, got.Segment.MessageType)
	assert.True(t, got.Segment.Commit)
	assert.Equal(t, CoHoldCursorOverCommit, got.Segment.CommandOptions)
	require.Len(t, got.Segment.Parts, 2)

	cmd := got.Segment.Part(PkCommand)
	require.NotNil(t, cmd)
	assert.Equal(t, "SELECT 1 FROM DUMMY", ParseCommandPart(cmd))

	fs := got.Segment.Part(PkFetchSize)
	require.NotNil(t, fs)
	n, err := ParseFetchSizePart(fs)
	require.NoError(t, err)
	assert.Equal(t, int32(100), n)
}

func TestMessageRoundTripReply(t *testing.T) {
	cols := []Column{
		{Name: "Id", TypeCode: TcBigInt},
		{Name: "amount", TypeCode: TcDecimal, Precision: 10, Scale: 3, Nullable: true},
	}
	rows := [][]Value{
		{IntValue(TcBigInt, 1), DecimalValue(DecimalFromInt64(123456))},
		{IntValue(TcBigInt, 2), NullValue(TcDecimal)},
	}

	reply := NewReply(42, 8, FcSelect,
		ResultSetMetadataPart(cols),
		ResultSetIDPart(99),
		ResultSetPart(rows, PaLastPacket))

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, reply))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, SkReply, got.Segment.Kind)
	assert.Equal(t, FcSelect, got.Segment.FunctionCode)

	gotCols, err := ParseResultSetMetadataPart(got.Segment.Part(PkResultSetMetadata))
	require.NoError(t, err)
	assert.Equal(t, cols, gotCols)

	id, err := ParseResultSetIDPart(got.Segment.Part(PkResultSetID))
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)

	rsPart := got.Segment.Part(PkResultSet)
	require.NotNil(t, rsPart)
	assert.True(t, rsPart.IsLastPacket())
	gotRows, err := ParseResultSetPart(rsPart, len(cols))
	require.NoError(t, err)
	require.Len(t, gotRows, 2)
	assert.Equal(t, int64(1), gotRows[0][0].Int)
	assert.Equal(t, DecimalFromInt64(123456), gotRows[0][1].Decimal)
	assert.True(t, gotRows[1][1].Null)
}

func TestMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	req := NewRequest(1, 1, MtCommit, true)
	require.NoError(t, WriteMessage(&buf, req))

	raw := buf.Bytes()
	// corrupt varPartLength
	raw[12], raw[13], raw[14], raw[15] = 0xFF, 0xFF, 0xFF, 0x7F

	_, err := ReadMessage(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestValueRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)

	values := []Value{
		BoolValue(true),
		BoolValue(false),
		IntValue(TcTinyInt, 255),
		IntValue(TcSmallInt, -12345),
		IntValue(TcInt, 1 << 30),
		IntValue(TcBigInt, -1 << 60),
		DoubleValue(3.14159),
		{Type: TcReal, Double: 2.5},
		StringValue("hello wörld"),
		BytesValue([]byte{0x00, 0x01, 0xFE}),
		DecimalValue(DecimalFromInt64(-123456)),
		TimestampValue(ts),
		DateValue(ts),
		NullValue(TcNVarchar),
		NullValue(TcBigInt),
	}

	enc := NewEncoder()
	for _, v := range values {
		v.encode(enc)
	}
	require.NoError(t, enc.Err())

	dec := NewDecoder(enc.Bytes())
	for i, want := range values {
		got, err := decodeValue(dec)
		require.NoError(t, err, "value %d", i)
		assert.Equal(t, want, got, "value %d", i)
	}
	assert.Equal(t, 0, dec.Remaining())
}

func TestValueTimestampConversion(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)
	assert.Equal(t, ts, TimestampValue(ts).Time())

	d := DateValue(ts)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d.Time())
}

func TestLengthPrefixBoundaries(t *testing.T) {
	for _, n := range []int{0, 1, 245, 246, 32767, 70000} {
		payload := []byte(strings.Repeat("x", n))

		enc := NewEncoder()
		enc.WriteLengthPrefixed(payload)
		require.NoError(t, enc.Err())

		dec := NewDecoder(enc.Bytes())
		got := dec.ReadLengthPrefixed()
		require.NoError(t, dec.Err(), "length %d", n)
		assert.Equal(t, payload, got, "length %d", n)
		assert.Equal(t, 0, dec.Remaining())
	}
}

func TestErrorPartRoundTrip(t *testing.T) {
	want := ServerError{Code: 301, Position: 17, Level: 2, SQLState: "23000", Text: "unique constraint violated"}

	p := ErrorPart(want)
	got, err := ParseErrorPart(&p)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestAuthPartRoundTrip(t *testing.T) {
	p := AuthPart([]byte("ALICE"), []byte(AmScramSHA256), []byte{1, 2, 3})
	fields, err := ParseAuthPart(&p)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, "ALICE", string(fields[0]))
	assert.Equal(t, AmScramSHA256, string(fields[1]))
	assert.Equal(t, []byte{1, 2, 3}, fields[2])
}

func TestOptionsPartRoundTrip(t *testing.T) {
	p := OptionsPart(PkConnectOptions,
		IntOption(CoKConnectionID, 4711),
		StringOption(CoKDatabaseName, "TENANT1"),
		BoolOption(CoKCompleteArrayExecution, true))

	opts, err := ParseOptionsPart(&p)
	require.NoError(t, err)
	require.Len(t, opts, 3)
	assert.Equal(t, int64(4711), opts[CoKConnectionID].Int)
	assert.Equal(t, "TENANT1", opts[CoKDatabaseName].Str)
	assert.True(t, opts[CoKCompleteArrayExecution].Bool)
}

func TestClientInfoPartRoundTrip(t *testing.T) {
	kv := map[string]string{
		CiApplication:     "myapp",
		CiApplicationUser: "alice",
	}
	p := ClientInfoPart(kv)
	got, err := ParseClientInfoPart(&p)
	require.NoError(t, err)
	assert.Equal(t, kv, got)
}

func TestRowsAffectedSums(t *testing.T) {
	p := RowsAffectedPart(3, 4, 5)
	n, err := ParseRowsAffectedPart(&p)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

func TestParametersPartRoundTrip(t *testing.T) {
	rows := [][]Value{
		{StringValue("a"), IntValue(TcBigInt, 1)},
		{StringValue("b"), NullValue(TcBigInt)},
	}
	p := ParametersPart(rows)

	got, err := ParseParametersPart(&p, 2)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	counted, err := CountParameterValues(&p)
	require.NoError(t, err)
	assert.Equal(t, rows, counted)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	enc := NewEncoder()
	enc.WriteInt64(1)
	raw := enc.Bytes()[:4]

	dec := NewDecoder(raw)
	dec.ReadInt64()
	require.Error(t, dec.Err())
}

func TestDecodeRejectsNegativeLengths(t *testing.T) {
	// int16 length prefix of -1
	dec := NewDecoder([]byte{0xF6, 0xFF, 0xFF})
	assert.Nil(t, dec.ReadLengthPrefixed())
	require.Error(t, dec.Err())

	// int32 length prefix of -2
	dec = NewDecoder([]byte{0xF7, 0xFE, 0xFF, 0xFF, 0xFF})
	assert.Nil(t, dec.ReadLengthPrefixed())
	require.Error(t, dec.Err())

	// error part announcing a negative text length
	enc := NewEncoder()
	enc.WriteInt32(301)
	enc.WriteInt32(0)
	enc.WriteInt32(-1)
	enc.WriteInt8(2)
	enc.WriteBytes([]byte("23000"))
	p := Part{Kind: PkError, ArgCount: 1, Payload: enc.Bytes()}

	_, err := ParseErrorPart(&p)
	require.Error(t, err)
}
