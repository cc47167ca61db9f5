package indicator

// 趋势标签
const (
	TrendUp          = "上涨"
	TrendDown        = "下跌"
	OverallStrongUp  = "强势上涨"
	OverallStrongDn  = "强势下跌"
	OverallRanging   = "震荡整理"
	MACDBullish      = "bullish"
	MACDBearish      = "bearish"
	TrendUnavailable = "unknown"
)

// TrendSummary 是写入提示词的多周期趋势概要。
type TrendSummary struct {
	ShortTerm       string  `json:"short_term"`
	MediumTerm      string  `json:"medium_term"`
	Overall         string  `json:"overall"`
	MACD            string  `json:"macd"`
	RSI             float64 `json:"rsi"`
	PriceVsSMA20Pct float64 `json:"price_vs_sma20_pct"`
	PriceVsSMA50Pct float64 `json:"price_vs_sma50_pct"`
}

// Trend summarises the latest point: price against SMA20 and SMA50, and the
// MACD line against its signal.
func Trend(s Series) TrendSummary {
	p, ok := s.Latest()
	if !ok {
		return TrendSummary{
			ShortTerm:  TrendUnavailable,
			MediumTerm: TrendUnavailable,
			Overall:    OverallRanging,
			MACD:       TrendUnavailable,
			RSI:        50,
		}
	}
	price := p.Close
	out := TrendSummary{
		ShortTerm:  TrendDown,
		MediumTerm: TrendDown,
		MACD:       MACDBearish,
		RSI:        p.RSI,
	}
	if price > p.SMA20 {
		out.ShortTerm = TrendUp
	}
	if price > p.SMA50 {
		out.MediumTerm = TrendUp
	}
	if p.MACD > p.MACDSignal {
		out.MACD = MACDBullish
	}
	switch {
	case out.ShortTerm == TrendUp && out.MediumTerm == TrendUp:
		out.Overall = OverallStrongUp
	case out.ShortTerm == TrendDown && out.MediumTerm == TrendDown:
		out.Overall = OverallStrongDn
	default:
		out.Overall = OverallRanging
	}
	if p.SMA20 != 0 {
		out.PriceVsSMA20Pct = (price - p.SMA20) / p.SMA20 * 100
	}
	if p.SMA50 != 0 {
		out.PriceVsSMA50Pct = (price - p.SMA50) / p.SMA50 * 100
	}
	return out
}
