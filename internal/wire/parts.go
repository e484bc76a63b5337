package wire

import (
	"github.com/pkg/errors"
)

// column option flags in result set metadata
const (
	comNullable uint8 = 0x02
)

// Column describes one result set column as reported by the server. The
// name keeps the server's case.
type Column struct {
	Name      string
	TypeCode  TypeCode
	Precision int16
	Scale     int16
	Nullable  bool
}

// ServerError is the decoded form of an error part.
type ServerError struct {
	Code     int32
	Position int32
	Level    int8
	SQLState string
	Text     string
}

func (e *ServerError) Error() string {
	return e.Text
}

// option value type tags used in option-style parts (connect options,
// transaction flags, db connect info)
const (
	otBool   uint8 = 1
	otInt    uint8 = 3
	otBigInt uint8 = 4
	otDouble uint8 = 7
	otString uint8 = 29
)

// OptionValue holds one option in an option-style part.
type OptionValue struct {
	Key    uint8
	Bool   bool
	Int    int64
	Double float64
	Str    string
	Type   uint8
}

func BoolOption(key uint8, v bool) OptionValue   { return OptionValue{Key: key, Bool: v, Type: otBool} }
func IntOption(key uint8, v int64) OptionValue   { return OptionValue{Key: key, Int: v, Type: otBigInt} }
func StringOption(key uint8, v string) OptionValue {
	return OptionValue{Key: key, Str: v, Type: otString}
}

// CommandPart carries SQL text.
func CommandPart(sql string) Part {
	return Part{Kind: PkCommand, ArgCount: 1, Payload: []byte(sql)}
}

func ParseCommandPart(p *Part) string {
	return string(p.Payload)
}

// ErrorPart encodes a server error.
func ErrorPart(e ServerError) Part {
	enc := NewEncoder()
	enc.WriteInt32(e.Code)
	enc.WriteInt32(e.Position)
	enc.WriteInt32(int32(len(e.Text)))
	enc.WriteInt8(e.Level)
	state := e.SQLState
	for len(state) < 5 {
		state += " "
	}
	enc.WriteBytes([]byte(state[:5]))
	enc.WriteBytes([]byte(e.Text))
	return Part{Kind: PkError, ArgCount: 1, Payload: enc.Bytes()}
}

func ParseErrorPart(p *Part) (*ServerError, error) {
	dec := NewDecoder(p.Payload)
	e := &ServerError{
		Code:     dec.ReadInt32(),
		Position: dec.ReadInt32(),
	}
	textLen := int(dec.ReadInt32())
	e.Level = dec.ReadInt8()
	e.SQLState = string(dec.ReadBytes(5))
	e.Text = string(dec.ReadBytes(textLen))
	return e, dec.Err()
}

// AuthPart carries the authentication fields of one exchange round: a
// field count followed by length-prefixed byte fields.
func AuthPart(fields ...[]byte) Part {
	enc := NewEncoder()
	enc.WriteInt16(int16(len(fields)))
	for _, f := range fields {
		enc.WriteLengthPrefixed(f)
	}
	return Part{Kind: PkAuthentication, ArgCount: 1, Payload: enc.Bytes()}
}

func ParseAuthPart(p *Part) ([][]byte, error) {
	dec := NewDecoder(p.Payload)
	n := int(dec.ReadInt16())
	if n < 0 || n > 64 {
		return nil, errors.Errorf("wire: invalid auth field count %d", n)
	}
	fields := make([][]byte, n)
	for i := range fields {
		fields[i] = dec.ReadLengthPrefixed()
	}
	return fields, dec.Err()
}

// ClientInfoPart carries diagnostic key/value string pairs.
func ClientInfoPart(kv map[string]string) Part {
	enc := NewEncoder()
	for k, v := range kv {
		enc.WriteShortString(k)
		enc.WriteLengthPrefixed([]byte(v))
	}
	return Part{Kind: PkClientInfo, ArgCount: len(kv), Payload: enc.Bytes()}
}

func ParseClientInfoPart(p *Part) (map[string]string, error) {
	dec := NewDecoder(p.Payload)
	kv := make(map[string]string, p.ArgCount)
	for i := 0; i < p.ArgCount; i++ {
		k := dec.ReadShortString()
		v := string(dec.ReadLengthPrefixed())
		kv[k] = v
	}
	return kv, dec.Err()
}

// OptionsPart builds an option-style part of the given kind.
func OptionsPart(kind PartKind, opts ...OptionValue) Part {
	enc := NewEncoder()
	for _, o := range opts {
		enc.WriteUint8(o.Key)
		enc.WriteUint8(o.Type)
		switch o.Type {
		case otBool:
			if o.Bool {
				enc.WriteUint8(1)
			} else {
				enc.WriteUint8(0)
			}
		case otInt:
			enc.WriteInt32(int32(o.Int))
		case otBigInt:
			enc.WriteInt64(o.Int)
		case otDouble:
			enc.WriteFloat64(o.Double)
		case otString:
			enc.WriteLengthPrefixed([]byte(o.Str))
		}
	}
	return Part{Kind: kind, ArgCount: len(opts), Payload: enc.Bytes()}
}

func ParseOptionsPart(p *Part) (map[uint8]OptionValue, error) {
	dec := NewDecoder(p.Payload)
	opts := make(map[uint8]OptionValue, p.ArgCount)
	for i := 0; i < p.ArgCount; i++ {
		o := OptionValue{
			Key:  dec.ReadUint8(),
			Type: dec.ReadUint8(),
		}
		switch o.Type {
		case otBool:
			o.Bool = dec.ReadUint8() != 0
		case otInt:
			o.Int = int64(dec.ReadInt32())
		case otBigInt:
			o.Int = dec.ReadInt64()
		case otDouble:
			o.Double = dec.ReadFloat64()
		case otString:
			o.Str = string(dec.ReadLengthPrefixed())
		default:
			return nil, errors.Errorf("wire: invalid option type %d", o.Type)
		}
		opts[o.Key] = o
	}
	return opts, dec.Err()
}

// ResultSetIDPart carries the server-assigned id of an open result set.
func ResultSetIDPart(id int64) Part {
	enc := NewEncoder()
	enc.WriteInt64(id)
	return Part{Kind: PkResultSetID, ArgCount: 1, Payload: enc.Bytes()}
}

func ParseResultSetIDPart(p *Part) (int64, error) {
	dec := NewDecoder(p.Payload)
	id := dec.ReadInt64()
	return id, dec.Err()
}

// RowsAffectedPart carries per-statement affected row counts.
func RowsAffectedPart(counts ...int32) Part {
	enc := NewEncoder()
	for _, c := range counts {
		enc.WriteInt32(c)
	}
	return Part{Kind: PkRowsAffected, ArgCount: len(counts), Payload: enc.Bytes()}
}

func ParseRowsAffectedPart(p *Part) (int64, error) {
	dec := NewDecoder(p.Payload)
	var total int64
	for i := 0; i < p.ArgCount; i++ {
		total += int64(dec.ReadInt32())
	}
	return total, dec.Err()
}

// FetchSizePart carries the requested row count of a fetch.
func FetchSizePart(n int32) Part {
	enc := NewEncoder()
	enc.WriteInt32(n)
	return Part{Kind: PkFetchSize, ArgCount: 1, Payload: enc.Bytes()}
}

func ParseFetchSizePart(p *Part) (int32, error) {
	dec := NewDecoder(p.Payload)
	n := dec.ReadInt32()
	return n, dec.Err()
}

// ResultSetMetadataPart describes the columns of a result set.
func ResultSetMetadataPart(cols []Column) Part {
	enc := NewEncoder()
	for _, c := range cols {
		var opts uint8
		if c.Nullable {
			opts |= comNullable
		}
		enc.WriteUint8(opts)
		enc.WriteInt8(int8(c.TypeCode))
		enc.WriteInt16(c.Scale)
		enc.WriteInt16(c.Precision)
		enc.WriteShortString(c.Name)
	}
	return Part{Kind: PkResultSetMetadata, ArgCount: len(cols), Payload: enc.Bytes()}
}

func ParseResultSetMetadataPart(p *Part) ([]Column, error) {
	dec := NewDecoder(p.Payload)
	cols := make([]Column, p.ArgCount)
	for i := range cols {
		opts := dec.ReadUint8()
		cols[i].TypeCode = TypeCode(dec.ReadInt8())
		cols[i].Scale = dec.ReadInt16()
		cols[i].Precision = dec.ReadInt16()
		cols[i].Name = dec.ReadShortString()
		cols[i].Nullable = opts&comNullable != 0
	}
	return cols, dec.Err()
}

// ResultSetPart carries row data. ArgCount is the row count; every row
// holds one typed value per column.
func ResultSetPart(rows [][]Value, attributes uint8) Part {
	enc := NewEncoder()
	for _, row := range rows {
		for _, v := range row {
			v.encode(enc)
		}
	}
	return Part{Kind: PkResultSet, Attributes: attributes, ArgCount: len(rows), Payload: enc.Bytes()}
}

func ParseResultSetPart(p *Part, numColumns int) ([][]Value, error) {
	dec := NewDecoder(p.Payload)
	rows := make([][]Value, 0, p.ArgCount)
	for i := 0; i < p.ArgCount; i++ {
		row := make([]Value, numColumns)
		for c := 0; c < numColumns; c++ {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			row[c] = v
		}
		rows = append(rows, row)
	}
	return rows, dec.Err()
}

// ParametersPart carries bound statement parameters, one argument per
// parameter row (ExecuteMany sends several rows).
func ParametersPart(rows [][]Value) Part {
	enc := NewEncoder()
	for _, row := range rows {
		for _, v := range row {
			v.encode(enc)
		}
	}
	return Part{Kind: PkParameters, ArgCount: len(rows), Payload: enc.Bytes()}
}

// ParseParametersPart decodes parameter rows; the values carry their own
// type codes so no metadata is needed.
func ParseParametersPart(p *Part, valuesPerRow int) ([][]Value, error) {
	dec := NewDecoder(p.Payload)
	rows := make([][]Value, 0, p.ArgCount)
	for i := 0; i < p.ArgCount; i++ {
		row := make([]Value, valuesPerRow)
		for c := 0; c < valuesPerRow; c++ {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			row[c] = v
		}
		rows = append(rows, row)
	}
	return rows, dec.Err()
}

// CountParameterValues derives how many values one parameter row holds by
// decoding the payload until exhaustion for a single-row part. Used by the
// server side where no metadata is available.
func CountParameterValues(p *Part) ([][]Value, error) {
	if p.ArgCount == 0 {
		return nil, nil
	}
	dec := NewDecoder(p.Payload)
	var all []Value
	for dec.Remaining() > 0 {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		all = append(all, v)
	}
	if len(all)%p.ArgCount != 0 {
		return nil, errors.Errorf("wire: %d values do not divide into %d parameter rows", len(all), p.ArgCount)
	}
	per := len(all) / p.ArgCount
	rows := make([][]Value, p.ArgCount)
	for i := range rows {
		rows[i] = all[i*per : (i+1)*per]
	}
	return rows, nil
}
