// Package symbol normalises perpetual contract names. Users may write
// BTC/USDT:USDT, BTC/USDT or BTCUSDT; the venue only takes BTCUSDT.
package symbol

import (
	"strings"
	"unicode"
)

// settleAssets are the margin currencies of linear perpetuals, longest
// first so USDT is not mistaken for a T-suffixed USD pair.
var settleAssets = []string{"USDT", "USDC", "BUSD", "FDUSD"}

// Pair is a linear perpetual: base priced and settled in Quote.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) ok() bool { return p.Base != "" && p.Quote != "" }

// Venue is the concatenated exchange form, e.g. BTCUSDT.
func (p Pair) Venue() string {
	if !p.ok() {
		return ""
	}
	return p.Base + p.Quote
}

// Display is the slash form shown to people, e.g. BTC/USDT.
func (p Pair) Display() string {
	if !p.ok() {
		return ""
	}
	return p.Base + "/" + p.Quote
}

// Parse returns the zero Pair when s names no recognisable contract.
func Parse(s string) Pair {
	s = strings.ToUpper(strings.TrimSpace(s))
	s, _, _ = strings.Cut(s, ":")
	var p Pair
	if base, quote, found := strings.Cut(s, "/"); found {
		p = Pair{Base: strings.TrimSpace(base), Quote: strings.TrimSpace(quote)}
	} else {
		for _, q := range settleAssets {
			if base, cut := strings.CutSuffix(s, q); cut {
				p = Pair{Base: base, Quote: q}
				break
			}
		}
	}
	if !alnum(p.Base) || !alnum(p.Quote) {
		return Pair{}
	}
	return p
}

func alnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// ToBinance maps any accepted form to the venue symbol; unparsable input
// is upper-cased with separators stripped.
func ToBinance(s string) string {
	if v := Parse(s).Venue(); v != "" {
		return v
	}
	return strings.ToUpper(strings.NewReplacer("/", "", " ", "").Replace(strings.TrimSpace(s)))
}

// Base is the asset the sentiment feeds are keyed by.
func Base(s string) string { return Parse(s).Base }

func IsValid(s string) bool { return Parse(s).ok() }
