package wire

import (
	"fmt"
	"math"
	"time"
)

// TypeCode identifies the logical type of a column or parameter value.
type TypeCode int8

const (
	TcNull      TypeCode = 0
	TcTinyInt   TypeCode = 1
	TcSmallInt  TypeCode = 2
	TcInt       TypeCode = 3
	TcBigInt    TypeCode = 4
	TcDecimal   TypeCode = 5
	TcReal      TypeCode = 6
	TcDouble    TypeCode = 7
	TcChar      TypeCode = 8
	TcVarchar   TypeCode = 9
	TcNChar     TypeCode = 10
	TcNVarchar  TypeCode = 11
	TcBinary    TypeCode = 12
	TcVarBinary TypeCode = 13
	TcDate      TypeCode = 14
	TcTime      TypeCode = 15
	TcTimestamp TypeCode = 16
	TcBoolean   TypeCode = 28
	TcLongdate  TypeCode = 61
)

// nullFlag marks a NULL value in the serialized type byte.
const nullFlag = 0x80

func (tc TypeCode) String() string {
	switch tc {
	case TcTinyInt:
		return "TINYINT"
	case TcSmallInt:
		return "SMALLINT"
	case TcInt:
		return "INTEGER"
	case TcBigInt:
		return "BIGINT"
	case TcDecimal:
		return "DECIMAL"
	case TcReal:
		return "REAL"
	case TcDouble:
		return "DOUBLE"
	case TcChar, TcVarchar:
		return "VARCHAR"
	case TcNChar, TcNVarchar:
		return "NVARCHAR"
	case TcBinary, TcVarBinary:
		return "VARBINARY"
	case TcDate:
		return "DATE"
	case TcTime:
		return "TIME"
	case TcTimestamp, TcLongdate:
		return "TIMESTAMP"
	case TcBoolean:
		return "BOOLEAN"
	}
	return fmt.Sprintf("TYPE(%d)", int8(tc))
}

// Decimal is a fixed-precision value carried as a 128-bit scaled integer in
// two's complement, little-endian halves. Scale and precision travel in the
// column metadata, never with the value, so no floating point conversion
// happens anywhere on the wire path.
type Decimal struct {
	Lo uint64
	Hi int64
}

// DecimalFromInt64 builds a 128-bit decimal from an already-scaled integer.
func DecimalFromInt64(v int64) Decimal {
	var hi int64
	if v < 0 {
		hi = -1
	}
	return Decimal{Lo: uint64(v), Hi: hi}
}

// Int64 returns the value as int64, with ok=false if it does not fit.
func (d Decimal) Int64() (int64, bool) {
	if d.Hi == 0 && d.Lo <= math.MaxInt64 {
		return int64(d.Lo), true
	}
	if d.Hi == -1 && int64(d.Lo) < 0 {
		return int64(d.Lo), true
	}
	return 0, false
}

// Value is a single typed wire value, the tagged union the codec reads and
// writes. The active payload field depends on Type.
type Value struct {
	Type TypeCode
	Null bool

	Int     int64   // TcTinyInt..TcBigInt, TcDate (days), TcTime (micros), TcTimestamp/TcLongdate (micros since epoch)
	Double  float64 // TcReal, TcDouble
	Bool    bool    // TcBoolean
	Bytes   []byte  // TcChar..TcVarBinary
	Decimal Decimal // TcDecimal
}

func NullValue(tc TypeCode) Value     { return Value{Type: tc, Null: true} }
func BoolValue(b bool) Value          { return Value{Type: TcBoolean, Bool: b} }
func IntValue(tc TypeCode, v int64) Value { return Value{Type: tc, Int: v} }
func DoubleValue(v float64) Value     { return Value{Type: TcDouble, Double: v} }
func StringValue(s string) Value      { return Value{Type: TcNVarchar, Bytes: []byte(s)} }
func BytesValue(b []byte) Value       { return Value{Type: TcVarBinary, Bytes: b} }
func DecimalValue(d Decimal) Value    { return Value{Type: TcDecimal, Decimal: d} }

// TimestampValue converts t to longdate microseconds since the Unix epoch.
func TimestampValue(t time.Time) Value {
	return Value{Type: TcLongdate, Int: t.UnixMicro()}
}

// DateValue converts t to days since the Unix epoch.
func DateValue(t time.Time) Value {
	return Value{Type: TcDate, Int: t.Unix() / 86400}
}

// Time returns a timestamp/date value as time.Time in UTC.
func (v Value) Time() time.Time {
	switch v.Type {
	case TcDate:
		return time.Unix(v.Int*86400, 0).UTC()
	default:
		return time.UnixMicro(v.Int).UTC()
	}
}

// Text returns the string payload of a character value.
func (v Value) Text() string {
	return string(v.Bytes)
}

func (v Value) encode(enc *Encoder) {
	tb := uint8(v.Type)
	if v.Null {
		enc.WriteUint8(tb | nullFlag)
		return
	}
	enc.WriteUint8(tb)

	switch v.Type {
	case TcBoolean:
		if v.Bool {
			enc.WriteUint8(1)
		} else {
			enc.WriteUint8(0)
		}
	case TcTinyInt:
		enc.WriteUint8(uint8(v.Int))
	case TcSmallInt:
		enc.WriteInt16(int16(v.Int))
	case TcInt:
		enc.WriteInt32(int32(v.Int))
	case TcBigInt, TcTimestamp, TcLongdate, TcTime:
		enc.WriteInt64(v.Int)
	case TcDate:
		enc.WriteInt32(int32(v.Int))
	case TcReal:
		enc.WriteFloat32(float32(v.Double))
	case TcDouble:
		enc.WriteFloat64(v.Double)
	case TcDecimal:
		enc.WriteUint64(v.Decimal.Lo)
		enc.WriteInt64(v.Decimal.Hi)
	case TcChar, TcVarchar, TcNChar, TcNVarchar, TcBinary, TcVarBinary:
		enc.WriteLengthPrefixed(v.Bytes)
	default:
		enc.setErr(fmt.Errorf("cannot encode type code %s", v.Type))
	}
}

func decodeValue(dec *Decoder) (Value, error) {
	tb := dec.ReadUint8()
	if tb&nullFlag != 0 {
		return NullValue(TypeCode(tb &^ nullFlag)), dec.Err()
	}

	tc := TypeCode(tb)
	v := Value{Type: tc}

	switch tc {
	case TcBoolean:
		v.Bool = dec.ReadUint8() != 0
	case TcTinyInt:
		v.Int = int64(dec.ReadUint8())
	case TcSmallInt:
		v.Int = int64(dec.ReadInt16())
	case TcInt:
		v.Int = int64(dec.ReadInt32())
	case TcBigInt, TcTimestamp, TcLongdate, TcTime:
		v.Int = dec.ReadInt64()
	case TcDate:
		v.Int = int64(dec.ReadInt32())
	case TcReal:
		v.Double = float64(dec.ReadFloat32())
	case TcDouble:
		v.Double = dec.ReadFloat64()
	case TcDecimal:
		v.Decimal.Lo = dec.ReadUint64()
		v.Decimal.Hi = dec.ReadInt64()
	case TcChar, TcVarchar, TcNChar, TcNVarchar, TcBinary, TcVarBinary:
		v.Bytes = dec.ReadLengthPrefixed()
	default:
		return v, fmt.Errorf("cannot decode type code %d", int8(tc))
	}

	return v, dec.Err()
}
