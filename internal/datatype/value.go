package datatype

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Runtime values use one Go representation per type family: bool, int64 for
// every integer and temporal type, float64 for floats and decimals, string
// for text, []byte, []any for lists and arrays, and map[string]any for
// structs. A nil value is null.

// Normalize converts a Go value into the canonical representation of t.
func Normalize(t DataType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case KindNull:
		return nil, nil
	case KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindDate:
		switch tv := v.(type) {
		case time.Time:
			return tv.UTC().Truncate(24*time.Hour).Unix() / 86400, nil
		}
		return toInt(v)
	case KindDatetime:
		if tv, ok := v.(time.Time); ok {
			return timeToUnit(tv, t.Unit), nil
		}
		return toInt(v)
	case KindDuration:
		if d, ok := v.(time.Duration); ok {
			return durationToUnit(d, t.Unit), nil
		}
		return toInt(v)
	case KindTime:
		return toInt(v)
	case KindString, KindCategorical:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case KindBinary:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case KindFloat32, KindFloat64, KindDecimal:
		return toFloat(v)
	case KindList, KindArray:
		items, ok := v.([]any)
		if !ok {
			break
		}
		out := make([]any, len(items))
		for i, item := range items {
			n, err := Normalize(*t.Inner, item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		if t.Kind == KindArray && len(out) != t.Width {
			return nil, fmt.Errorf("array of width %d got %d items", t.Width, len(out))
		}
		return out, nil
	case KindStruct:
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		out := make(map[string]any, len(t.Fields))
		for _, f := range t.Fields {
			n, err := Normalize(f.Type, m[f.Name])
			if err != nil {
				return nil, err
			}
			out[f.Name] = n
		}
		return out, nil
	default:
		if t.IsInteger() {
			return toInt(v)
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func toInt(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		if n == math.Trunc(n) {
			return int64(n), nil
		}
	case bool:
		if n {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, fmt.Errorf("cannot use %T as integer", v)
}

func toFloat(v any) (any, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	}
	i, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("cannot use %T as float", v)
	}
	return float64(i.(int64)), nil
}

func timeToUnit(t time.Time, unit TimeUnit) int64 {
	switch unit {
	case Nanoseconds:
		return t.UnixNano()
	case Milliseconds:
		return t.UnixMilli()
	}
	return t.UnixMicro()
}

func durationToUnit(d time.Duration, unit TimeUnit) int64 {
	switch unit {
	case Nanoseconds:
		return d.Nanoseconds()
	case Milliseconds:
		return d.Milliseconds()
	}
	return d.Microseconds()
}

// CastValue converts a canonical value of type from into type to. When the
// conversion is lossy or impossible a strict cast fails and a non-strict cast
// yields null.
func CastValue(v any, from, to DataType, strict bool) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := castValue(v, from, to)
	if err != nil {
		if strict {
			return nil, err
		}
		return nil, nil
	}
	return out, nil
}

func castValue(v any, from, to DataType) (any, error) {
	if from.Equal(to) {
		return v, nil
	}
	switch {
	case to.Kind == KindString || to.Kind == KindCategorical:
		return FormatValue(v), nil
	case to.Kind == KindBoolean:
		switch n := v.(type) {
		case bool:
			return n, nil
		case int64:
			return n != 0, nil
		case float64:
			return n != 0, nil
		case string:
			return strconv.ParseBool(n)
		}
	case to.IsInteger() || to.IsTemporal():
		switch n := v.(type) {
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to %s", n, to)
			}
			return checkRange(i, to)
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return nil, fmt.Errorf("cannot cast %v to %s", n, to)
			}
			return checkRange(int64(n), to)
		case int64:
			return checkRange(n, to)
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case to.IsFloat() || to.Kind == KindDecimal:
		switch n := v.(type) {
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot cast %q to %s", n, to)
			}
			return f, nil
		case float64:
			if to.Kind == KindFloat32 {
				return float64(float32(n)), nil
			}
			return n, nil
		case int64:
			return float64(n), nil
		case bool:
			if n {
				return 1.0, nil
			}
			return 0.0, nil
		}
	case to.Kind == KindBinary:
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
	case to.Kind == KindList || to.Kind == KindArray:
		items, ok := v.([]any)
		if !ok {
			break
		}
		if to.Kind == KindArray && len(items) != to.Width {
			return nil, fmt.Errorf("cannot cast list of %d items to %s", len(items), to)
		}
		out := make([]any, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			c, err := castValue(item, *from.Inner, *to.Inner)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot cast %s to %s", from, to)
}

func checkRange(i int64, to DataType) (any, error) {
	var lo, hi int64
	switch to.Kind {
	case KindInt8:
		lo, hi = math.MinInt8, math.MaxInt8
	case KindInt16:
		lo, hi = math.MinInt16, math.MaxInt16
	case KindInt32:
		lo, hi = math.MinInt32, math.MaxInt32
	case KindUInt8:
		lo, hi = 0, math.MaxUint8
	case KindUInt16:
		lo, hi = 0, math.MaxUint16
	case KindUInt32:
		lo, hi = 0, math.MaxUint32
	case KindUInt64:
		lo, hi = 0, math.MaxInt64
	default:
		return i, nil
	}
	if i < lo || i > hi {
		return nil, fmt.Errorf("value %d out of range for %s", i, to)
	}
	return i, nil
}

// FormatValue renders a canonical value for display.
func FormatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return "null"
	case string:
		return n
	case []byte:
		return string(n)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case []any:
		parts := make([]string, len(n))
		for i, item := range n {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(v)
}

// Compare orders two canonical values of the same type family. Nulls sort
// before every other value.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y)
		case float64:
			return cmpOrdered(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpOrdered(x, y)
		case int64:
			return cmpOrdered(x, float64(y))
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return strings.Compare(string(x), string(y))
		}
	case []any:
		if y, ok := b.([]any); ok {
			for i := 0; i < len(x) && i < len(y); i++ {
				if c := Compare(x[i], y[i]); c != 0 {
					return c
				}
			}
			return cmpOrdered(len(x), len(y))
		}
	}
	return strings.Compare(FormatValue(a), FormatValue(b))
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// InferType returns the type of a Go literal. Unknown Go types yield Unknown.
func InferType(v any) DataType {
	switch v.(type) {
	case nil:
		return Null
	case bool:
		return Boolean
	case int, int64:
		return Int64
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case uint8:
		return UInt8
	case uint16:
		return UInt16
	case uint32:
		return UInt32
	case uint, uint64:
		return UInt64
	case float32:
		return Float32
	case float64:
		return Float64
	case string:
		return String
	case []byte:
		return Binary
	case time.Time:
		return Datetime(Microseconds)
	case time.Duration:
		return Duration(Microseconds)
	}
	return Unknown
}
