package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string ("10s", "1m30s"). Empty
// means zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for an
// empty or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return parseBounded(path, raw, def, 0)
}

// parseBounded additionally rejects values above limit (when limit > 0).
func parseBounded(path, raw string, def, limit time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		d = def
	}
	if limit > 0 && d > limit {
		return 0, fmt.Errorf("%s: %s exceeds the maximum of %s", path, d, limit)
	}
	return d, nil
}
