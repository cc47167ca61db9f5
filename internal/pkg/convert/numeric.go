// Package convert turns venue payload fields into float64. Exchanges send
// decimals as strings; anything unparsable reads as zero.
package convert

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseFloat reads a decimal string such as "0.00100000".
func ParseFloat(s string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// ToFloat64 accepts the shapes a decoded exchangeInfo filter map can hold.
func ToFloat64(v any) float64 {
	switch n := v.(type) {
	case string:
		return ParseFloat(n)
	case json.Number:
		return ParseFloat(n.String())
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
