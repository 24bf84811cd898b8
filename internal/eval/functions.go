package eval

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
)

func evalFunction(f *expr.Function, b *batch.Batch) ([]any, error) {
	n := b.NumRows()
	args := make([][]any, len(f.Args))
	types := make([]datatype.DataType, len(f.Args))
	for i, a := range f.Args {
		t, err := expr.TypeOf(a, b.Schema)
		if err != nil {
			return nil, err
		}
		data, err := evalData(a, b)
		if err != nil {
			return nil, err
		}
		args[i], types[i] = data, t
	}
	out := make([]any, n)

	switch f.Name {
	case "abs":
		for i, v := range args[0] {
			switch x := v.(type) {
			case int64:
				if x < 0 {
					x = -x
				}
				out[i] = x
			case float64:
				out[i] = math.Abs(x)
			}
		}
	case "round":
		decimals := intOption(f.Options, "decimals", 0)
		scale := math.Pow(10, float64(decimals))
		for i, v := range args[0] {
			switch x := v.(type) {
			case int64:
				out[i] = x
			case float64:
				out[i] = math.Round(x*scale) / scale
			}
		}
	case "sqrt", "exp", "log":
		fn := map[string]func(float64) float64{"sqrt": math.Sqrt, "exp": math.Exp, "log": math.Log}[f.Name]
		for i, v := range args[0] {
			if x, ok := toFloat(v); ok {
				out[i] = fn(x)
			}
		}
	case "lower", "upper":
		fn := strings.ToLower
		if f.Name == "upper" {
			fn = strings.ToUpper
		}
		for i, v := range args[0] {
			if s, ok := v.(string); ok {
				out[i] = fn(s)
			}
		}
	case "str_len":
		for i, v := range args[0] {
			if s, ok := v.(string); ok {
				out[i] = int64(len([]rune(s)))
			}
		}
	case "contains":
		pattern := f.Options["pattern"]
		for i, v := range args[0] {
			if s, ok := v.(string); ok {
				out[i] = strings.Contains(s, pattern)
			}
		}
	case "concat_str":
		sep := f.Options["separator"]
	rows:
		for i := range out {
			parts := make([]string, len(args))
			for a := range args {
				if args[a][i] == nil {
					continue rows
				}
				parts[a] = datatype.FormatValue(args[a][i])
			}
			out[i] = strings.Join(parts, sep)
		}
	case "coalesce", "if_else":
		first := 0
		if f.Name == "if_else" {
			first = 1
		}
		target, err := expr.TypeOf(f, b.Schema)
		if err != nil {
			return nil, err
		}
		for a := first; a < len(args); a++ {
			if args[a], err = coerce(args[a], types[a], target); err != nil {
				return nil, err
			}
		}
		for i := range out {
			if f.Name == "if_else" {
				if cond, _ := args[0][i].(bool); cond {
					out[i] = args[1][i]
				} else {
					out[i] = args[2][i]
				}
				continue
			}
			for a := range args {
				if args[a][i] != nil {
					out[i] = args[a][i]
					break
				}
			}
		}
	case "year":
		for i, v := range args[0] {
			if x, ok := v.(int64); ok {
				out[i] = int64(toTime(x, types[0]).Year())
			}
		}
	case "random":
		for i := range out {
			out[i] = rand.Float64()
		}
	case "row_index":
		for i := range out {
			out[i] = int64(i)
		}
	case "cum_sum":
		var isum int64
		var fsum float64
		for i, v := range args[0] {
			switch x := v.(type) {
			case int64:
				isum += x
				out[i] = isum
			case float64:
				fsum += x
				out[i] = fsum
			case bool:
				isum += boolInt(x)
				out[i] = isum
			}
		}
	case "shift":
		k := intOption(f.Options, "n", 1)
		for i := range out {
			if j := i - k; j >= 0 && j < n {
				out[i] = args[0][j]
			}
		}
	default:
		return nil, qerrors.FunctionNotFoundError(f.Name)
	}
	return out, nil
}

func intOption(opts map[string]string, key string, def int) int {
	if v, ok := opts[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func toTime(v int64, t datatype.DataType) time.Time {
	if t.Kind == datatype.KindDate {
		return time.Unix(v*86400, 0).UTC()
	}
	switch t.Unit {
	case datatype.Nanoseconds:
		return time.Unix(0, v).UTC()
	case datatype.Milliseconds:
		return time.UnixMilli(v).UTC()
	}
	return time.UnixMicro(v).UTC()
}
