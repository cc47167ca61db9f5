package scheduler

import (
	"strconv"
	"strings"
	"time"
)

var longUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseIntervalDuration reads a kline timeframe ("15m", "4h", "1d", "1w").
// Minute and hour forms go through time.ParseDuration, so "1h30m" also
// works. Anything under one minute is rejected.
func ParseIntervalDuration(s string) (time.Duration, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	var d time.Duration
	if unit, ok := longUnits[s[len(s)-1]]; ok {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, false
		}
		d = time.Duration(n) * unit
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, false
		}
		d = parsed
	}
	if d < time.Minute {
		return 0, false
	}
	return d, true
}
