package store

import (
	"encoding/json"
	"math"
	"time"

	"github.com/arkilian/chronicle/pkg/types"
)

// encodeValue converts a Go value into its SQLite representation.
// Times are stored as unix nanoseconds and booleans as 0/1.
func encodeValue(f types.FieldDef, v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return x.UnixNano()
	case *time.Time:
		if x == nil {
			return nil
		}
		return encodeValue(f, *x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case *bool:
		if x == nil {
			return nil
		}
		return encodeValue(f, *x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	case float32:
		return encodeValue(f, float64(x))
	case float64:
		// JSON decoders hand integers over as float64.
		if integerKind(f.Kind) && x == math.Trunc(x) {
			return int64(x)
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if fl, err := x.Float64(); err == nil {
			return fl
		}
		return x.String()
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case []byte:
		return string(x)
	}
	return v
}

func integerKind(k types.FieldKind) bool {
	switch k {
	case types.KindAuto, types.KindInteger, types.KindForeignKey, types.KindOneToOne, types.KindOrderWrt:
		return true
	}
	return false
}

// decodeValue converts a scanned SQLite value back into the field's Go type.
func decodeValue(f types.FieldDef, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch f.Kind {
	case types.KindBool:
		switch x := v.(type) {
		case int64:
			return x != 0
		case bool:
			return x
		}
	case types.KindTime:
		switch x := v.(type) {
		case int64:
			return time.Unix(0, x).UTC()
		case time.Time:
			return x.UTC()
		}
	case types.KindReal:
		if x, ok := v.(int64); ok {
			return float64(x)
		}
	}
	return v
}

// normalizeValue returns v in the shape it would have after a round trip.
func normalizeValue(f types.FieldDef, v interface{}) interface{} {
	return decodeValue(f, encodeValue(f, v))
}

// Normalize returns a copy of rec with every column of def in stored form.
func Normalize(def *types.ModelDef, rec types.Record) types.Record {
	out := rec.Clone()
	for _, f := range def.Fields {
		if v, ok := out[f.Attname()]; ok {
			out[f.Attname()] = normalizeValue(f, v)
		}
	}
	return out
}
