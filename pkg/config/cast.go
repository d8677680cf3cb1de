package config

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

func castInt(v any) (int, error) {
	return cast.ToIntE(v)
}

// castDuration accepts "10m" style strings; bare integers are seconds.
func castDuration(v any) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case int, int64, int32:
		n, err := cast.ToInt64E(t)
		return time.Duration(n) * time.Second, err
	case string:
		if n, err := cast.ToInt64E(t); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", t)
		}
		return d, nil
	default:
		return cast.ToDurationE(v)
	}
}
