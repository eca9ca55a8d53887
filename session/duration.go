package session

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// maxDurationMillis keeps every parsed value representable as a
// time.Duration.
const maxDurationMillis = math.MaxInt64 / int64(time.Millisecond)

// ParseDuration converts "<digits><unit>" to milliseconds. Units are h/hr,
// m/min, s/sec and ms; no unit means milliseconds.
func ParseDuration(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, NewConfigError("invalid duration: %q", s)
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, NewConfigError("invalid duration: %q", s)
	}

	var scale int64
	switch unit := strings.TrimSpace(s[i:]); unit {
	case "h", "hr":
		scale = 3600000
	case "m", "min":
		scale = 60000
	case "s", "sec":
		scale = 1000
	case "ms", "":
		scale = 1
	default:
		return 0, NewConfigError("invalid duration unit %q in %q", unit, s)
	}
	if n > maxDurationMillis/scale {
		return 0, NewConfigError("duration out of range: %q", s)
	}
	return n * scale, nil
}

// Duration is ParseDuration as a time.Duration.
func Duration(s string) (time.Duration, error) {
	ms, err := ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
