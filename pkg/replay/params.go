// Copyright 2025 Certen Protocol

package replay

import (
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/model"
)

// paramsToArgs converts a Statement's typed parameters into driver-level
// arguments: null, integers, doubles, booleans and utf-8 text are passed in
// their native forms, and big integers, UUIDs and JSON are passed as text.
// Timestamps and binary values do not fall back to text: they are passed
// as time.Time and []byte. No warning is logged for any conversion.
func paramsToArgs(params []model.Value) []interface{} {
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = valueToArg(p)
	}
	return args
}

func valueToArg(v model.Value) interface{} {
	switch v.Kind {
	case model.ValueNull:
		return nil
	case model.ValueInteger:
		return v.Integer
	case model.ValueBigInt:
		if v.BigInt == nil {
			return "0"
		}
		return v.BigInt.String()
	case model.ValueFloat:
		return v.Float
	case model.ValueText:
		return v.Text
	case model.ValueBoolean:
		return v.Boolean
	case model.ValueUUID:
		return v.UUID.String()
	case model.ValueTimestamp:
		return v.Timestamp
	case model.ValueBinary:
		return v.Binary
	case model.ValueJSON:
		return string(v.JSON)
	default:
		return nil
	}
}

// argToValue converts a scanned driver value back into the internal Value
// model, typed according to the column's declared ColumnType.
func argToValue(t model.ColumnType, arg interface{}) model.Value {
	if arg == nil {
		return model.Null
	}
	switch t.Kind {
	case model.ColumnInteger, model.ColumnBigInt:
		switch n := arg.(type) {
		case int64:
			return model.NewInteger(n)
		default:
			return model.Null
		}
	case model.ColumnFloat:
		if f, ok := arg.(float64); ok {
			return model.NewFloat(f)
		}
		return model.Null
	case model.ColumnBoolean:
		if b, ok := arg.(bool); ok {
			return model.NewBoolean(b)
		}
		return model.Null
	case model.ColumnUUID:
		if s, ok := arg.(string); ok {
			if u, err := uuid.Parse(s); err == nil {
				return model.NewUUID(u)
			}
		}
		return model.Null
	case model.ColumnBinary:
		if b, ok := arg.([]byte); ok {
			return model.NewBinary(b)
		}
		return model.Null
	case model.ColumnTimestamp:
		if ts, ok := arg.(time.Time); ok {
			return model.NewTimestamp(ts.UTC())
		}
		return model.Null
	case model.ColumnJSON:
		switch j := arg.(type) {
		case []byte:
			return model.NewJSON(append([]byte(nil), j...))
		case string:
			return model.NewJSON([]byte(j))
		}
		return model.Null
	default:
		switch s := arg.(type) {
		case string:
			return model.NewText(s)
		case []byte:
			return model.NewText(string(s))
		default:
			return model.Null
		}
	}
}
