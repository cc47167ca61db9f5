package market

import (
	"fmt"
	"strings"
	"time"
)

// Candle is one closed OHLCV bar. Times are unix milliseconds.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

type Candles []Candle

func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// ChangePct is the body move of the bar relative to its open, in percent.
func (c Candle) ChangePct() float64 {
	if c.Open == 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open * 100
}

func (c Candle) TimeString() string {
	ts := c.CloseTime
	if ts == 0 {
		ts = c.OpenTime
	}
	if ts <= 0 {
		return "-"
	}
	return time.UnixMilli(ts).UTC().Format("01-02 15:04") + "Z"
}

// Last returns the most recent bar and false on an empty slice.
func (cs Candles) Last() (Candle, bool) {
	if len(cs) == 0 {
		return Candle{}, false
	}
	return cs[len(cs)-1], true
}

// Tail returns at most n trailing bars.
func (cs Candles) Tail(n int) Candles {
	if n <= 0 || len(cs) == 0 {
		return nil
	}
	if n >= len(cs) {
		return cs
	}
	return cs[len(cs)-n:]
}

// ChangePct is the move from the previous close to the last close, in
// percent. It is 0 when fewer than two bars exist.
func (cs Candles) ChangePct() float64 {
	if len(cs) < 2 {
		return 0
	}
	prev := cs[len(cs)-2].Close
	if prev == 0 {
		return 0
	}
	return (cs[len(cs)-1].Close - prev) / prev * 100
}

// Describe renders the trailing n bars one per line, oldest first, in the
// form "K线1: 阳线 open:... close:... change:+0.12%".
func (cs Candles) Describe(n int) string {
	tail := cs.Tail(n)
	if len(tail) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, bar := range tail {
		kind := "阴线"
		if bar.Bullish() {
			kind = "阳线"
		}
		fmt.Fprintf(&sb, "K线%d: %s 开盘:%.2f 收盘:%.2f 涨跌:%+.2f%%\n", i+1, kind, bar.Open, bar.Close, bar.ChangePct())
	}
	return strings.TrimRight(sb.String(), "\n")
}
