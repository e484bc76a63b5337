package client

import (
	"context"
	"fmt"
	"math"
	"time"

	dbsqlerr "github.com/hdbconnect/hdbconnect-go/internal/errors"
	"github.com/hdbconnect/hdbconnect-go/internal/wire"
)

// ConvertParams converts Go values into wire values for positional
// parameter binding. Supported inputs: nil, bool, every signed/unsigned
// integer width, float32/64, string, []byte and time.Time. Fixed precision
// decimals are bound as strings so the server parses them without any
// floating point step, matching how the binding layer hands them down.
func ConvertParams(ctx context.Context, params []any) ([]wire.Value, error) {
	if len(params) == 0 {
		return nil, nil
	}

	vals := make([]wire.Value, len(params))
	for i, p := range params {
		v, err := convertParam(p)
		if err != nil {
			return nil, dbsqlerr.NewDataError(ctx, fmt.Sprintf("cannot convert parameter %d", i+1), err)
		}
		vals[i] = v
	}
	return vals, nil
}

func convertParam(p any) (wire.Value, error) {
	switch v := p.(type) {
	case nil:
		return wire.NullValue(wire.TcNull), nil
	case bool:
		return wire.BoolValue(v), nil
	case int:
		return wire.IntValue(wire.TcBigInt, int64(v)), nil
	case int8:
		return wire.IntValue(wire.TcTinyInt, int64(v)), nil
	case int16:
		return wire.IntValue(wire.TcSmallInt, int64(v)), nil
	case int32:
		return wire.IntValue(wire.TcInt, int64(v)), nil
	case int64:
		return wire.IntValue(wire.TcBigInt, v), nil
	case uint8:
		return wire.IntValue(wire.TcTinyInt, int64(v)), nil
	case uint16:
		return wire.IntValue(wire.TcInt, int64(v)), nil
	case uint32:
		return wire.IntValue(wire.TcBigInt, int64(v)), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return wire.Value{}, fmt.Errorf("uint parameter %d overflows BIGINT", v)
		}
		return wire.IntValue(wire.TcBigInt, int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return wire.Value{}, fmt.Errorf("uint64 parameter %d overflows BIGINT", v)
		}
		return wire.IntValue(wire.TcBigInt, int64(v)), nil
	case float32:
		return wire.Value{Type: wire.TcReal, Double: float64(v)}, nil
	case float64:
		return wire.DoubleValue(v), nil
	case string:
		return wire.StringValue(v), nil
	case []byte:
		return wire.BytesValue(v), nil
	case time.Time:
		return wire.TimestampValue(v), nil
	default:
		return wire.Value{}, fmt.Errorf("unsupported parameter type %T", p)
	}
}
