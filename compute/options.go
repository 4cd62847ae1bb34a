package compute

import (
	"github.com/pkg/errors"
)

// Options map option names to values, passed to a Driver when a Context is created.
// Each driver documents the options it understands; unknown options are ignored.
//
// Values can be given as any integer or floating point type, bool or string, and are converted by the
// typed getters.
type Options map[string]any

// Int returns the integer option key, or defaultValue if it is not set.
// It fails if the value is not a number, or is a floating point number with a fractional part.
func (o Options) Int(key string, defaultValue int) (int, error) {
	v, err := o.Int64(key, int64(defaultValue))
	return int(v), err
}

// Int64 returns the integer option key, or defaultValue if it is not set.
func (o Options) Int64(key string, defaultValue int64) (int64, error) {
	value, found := o[key]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		if float32(int64(v)) == v {
			return int64(v), nil
		}
	case float64:
		if float64(int64(v)) == v {
			return int64(v), nil
		}
	}
	return defaultValue, errors.Errorf("option %q=%#v (type %T) is not an integer", key, value, value)
}

// String returns the string option key, or defaultValue if it is not set.
func (o Options) String(key string, defaultValue string) (string, error) {
	value, found := o[key]
	if !found {
		return defaultValue, nil
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return defaultValue, errors.Errorf("option %q=%#v (type %T) is not a string", key, value, value)
}

// Bool returns the boolean option key, or defaultValue if it is not set.
func (o Options) Bool(key string, defaultValue bool) (bool, error) {
	value, found := o[key]
	if !found {
		return defaultValue, nil
	}
	if b, ok := value.(bool); ok {
		return b, nil
	}
	return defaultValue, errors.Errorf("option %q=%#v (type %T) is not a bool", key, value, value)
}
