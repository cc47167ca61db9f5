package scheduler

import (
	"time"

	"perpbot/internal/market"
)

// KlineGrace is how long after a bar's nominal close the venue may still
// report it as in progress.
const KlineGrace = 10 * time.Second

// DropUnclosed removes the trailing bar when it has not closed yet. The
// venue returns the in-progress bar last; indicators must only see closed
// bars.
func DropUnclosed(bars []market.Candle, interval time.Duration, now time.Time) []market.Candle {
	if len(bars) == 0 || interval <= 0 {
		return bars
	}
	last := bars[len(bars)-1]
	if last.OpenTime <= 0 {
		return bars
	}
	cutoff := last.OpenTime + interval.Milliseconds() + KlineGrace.Milliseconds()
	if now.UnixMilli() < cutoff {
		return bars[:len(bars)-1]
	}
	return bars
}
