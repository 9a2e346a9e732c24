package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// Coerce converts v to the Go representation of t: int64, float64, bool or
// string. Container types are returned unchanged.
func Coerce(v any, t types.ValueType) (any, error) {
	switch t {
	case types.Int:
		return toInt(v)
	case types.Float:
		return toFloat(v)
	case types.Bool:
		return toBool(v)
	case types.String:
		return toString(v)
	case types.List, types.Map:
		return v, nil
	}
	return nil, fmt.Errorf("coerce to %s: unsupported type", t)
}

// Normalize maps v onto one of the four measurement value kinds without
// changing its meaning. Values that have no scalar form are rendered with %v.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case int64, float64, bool, string:
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	}
	if i, err := toInt(v); err == nil {
		if _, isFloat := v.(float32); !isFloat {
			return i
		}
	}
	if f, err := toFloat(v); err == nil {
		return f
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case uint:
		return toInt(uint64(x))
	case uint32:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case float64:
		return floatToInt(x)
	case float32:
		return floatToInt(float64(x))
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse %q as int: %w", x.String(), err)
		}
		return floatToInt(f)
	case string:
		s := strings.TrimSpace(x)
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q as int: %w", x, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("cannot convert %T to int", v)
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("float %v out of int64 range", f)
	}
	return int64(f), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse %q as float: %w", x.String(), err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q as float: %w", x, err)
		}
		return f, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	i, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
	return float64(i), nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "t", "true", "yes", "on":
			return true, nil
		case "0", "f", "false", "no", "off", "":
			return false, nil
		}
		return false, fmt.Errorf("parse %q as bool", x)
	}
	f, err := toFloat(v)
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
	return f != 0, nil
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case map[string]any, []any:
		return "", fmt.Errorf("cannot convert %T to string", v)
	}
	if i, err := toInt(v); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return fmt.Sprintf("%v", v), nil
}
