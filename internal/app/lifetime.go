package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var lifetimeUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// Lifetime is a duration written as an integer with an optional
// s|m|h|d|w suffix. A bare integer counts seconds.
type Lifetime time.Duration

// Decode implements envconfig.Decoder.
func (l *Lifetime) Decode(value string) error {
	d, err := ParseLifetime(value)
	if err != nil {
		return err
	}
	*l = Lifetime(d)
	return nil
}

// Duration returns l as a time.Duration.
func (l Lifetime) Duration() time.Duration {
	return time.Duration(l)
}

// ParseLifetime parses values such as "15m", "7d" or "3600".
func ParseLifetime(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("lifetime: empty value")
	}
	unit := time.Second
	digits := raw
	if mult, ok := lifetimeUnits[raw[len(raw)-1]]; ok {
		unit = mult
		digits = raw[:len(raw)-1]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 || strings.HasPrefix(digits, "+") {
		return 0, fmt.Errorf("lifetime: invalid value %q", raw)
	}
	if n > int64(time.Duration(1<<63-1)/unit) {
		return 0, fmt.Errorf("lifetime: %q overflows", raw)
	}
	return time.Duration(n) * unit, nil
}
