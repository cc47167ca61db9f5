// Package prompt renders the oracle prompt pair from a market snapshot.
// Templates live in a YAML file (system/user keys) rendered with
// text/template; a built-in copy is used when no file is configured.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"perpbot/internal/analysis/indicator"
	"perpbot/internal/analysis/pattern"
	"perpbot/internal/analysis/regime"
	"perpbot/internal/gateway/exchange"
	"perpbot/internal/market"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
)

//go:embed default_prompts.yaml
var defaultTemplates []byte

// RecentCandles is how many closed bars are described in the prompt.
const RecentCandles = 5

// Snapshot is everything one cycle knows when it asks the oracle.
type Snapshot struct {
	Symbol     string
	Base       string
	Timeframe  string
	Price      float64
	ChangePct  float64
	Series     indicator.Series
	Point      indicator.Point
	Trend      indicator.TrendSummary
	State      regime.State
	Position   *exchange.Position
	LastSignal *signal.Signal
	Sentiment  *market.Sentiment
	Hint       risk.Levels
	Now        time.Time
}

// Rendered is the prompt pair ready for the provider.
type Rendered struct {
	System string
	User   string
}

// File is the on-disk template document.
type File struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Builder holds the parsed templates.
type Builder struct {
	system *template.Template
	user   *template.Template
	source string
}

// NewBuilder loads templates from path, or the built-in set when path is
// empty. A file that sets only one key keeps the built-in other key.
func NewBuilder(path string) (*Builder, error) {
	var def File
	if err := yaml.Unmarshal(defaultTemplates, &def); err != nil {
		return nil, fmt.Errorf("parse built-in prompts: %w", err)
	}
	source := "built-in"
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt file failed: %w", err)
		}
		var custom File
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&custom); err != nil {
			return nil, fmt.Errorf("parse prompt file failed: %w", err)
		}
		if strings.TrimSpace(custom.System) != "" {
			def.System = custom.System
		}
		if strings.TrimSpace(custom.User) != "" {
			def.User = custom.User
		}
		source = path
	}
	return newBuilder(def, source)
}

func newBuilder(f File, source string) (*Builder, error) {
	sys, err := template.New("system").Funcs(funcs).Parse(f.System)
	if err != nil {
		return nil, fmt.Errorf("system template: %w", err)
	}
	usr, err := template.New("user").Funcs(funcs).Parse(f.User)
	if err != nil {
		return nil, fmt.Errorf("user template: %w", err)
	}
	return &Builder{system: sys, user: usr, source: source}, nil
}

// Source names where the templates came from.
func (b *Builder) Source() string { return b.source }

// view adds derived text blocks to the snapshot for the templates.
type view struct {
	Snapshot
	CandleCount int
	CandleText  string
	Pattern     pattern.Result
}

func (b *Builder) Render(s Snapshot) (Rendered, error) {
	candles := s.Series.Candles()
	v := view{
		Snapshot:    s,
		CandleCount: len(candles.Tail(RecentCandles)),
		CandleText:  candles.Describe(RecentCandles),
		Pattern:     pattern.Detect(candles),
	}
	if v.Base == "" {
		v.Base = "BTC"
	}
	var sys, usr bytes.Buffer
	if err := b.system.Execute(&sys, v); err != nil {
		return Rendered{}, fmt.Errorf("render system prompt: %w", err)
	}
	if err := b.user.Execute(&usr, v); err != nil {
		return Rendered{}, fmt.Errorf("render user prompt: %w", err)
	}
	return Rendered{
		System: strings.TrimSpace(sys.String()),
		User:   strings.TrimSpace(usr.String()),
	}, nil
}

var funcs = template.FuncMap{
	"price":  func(v float64) string { return groupThousands(fmt.Sprintf("%.2f", v)) },
	"signed": func(v float64) string { return fmt.Sprintf("%+.2f", v) },
	"fixed1": func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"fixed2": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"fixed4": func(v float64) string { return fmt.Sprintf("%.4f", v) },
	"percent": func(v float64) string {
		return fmt.Sprintf("%.2f%%", v*100)
	},
	"percent1": func(v float64) string {
		return fmt.Sprintf("%.1f%%", v*100)
	},
	"distance": func(price, ref float64) string {
		if ref == 0 {
			return "+0.00"
		}
		return fmt.Sprintf("%+.2f", (price-ref)/ref*100)
	},
	"rsiZone": func(v float64) string {
		switch {
		case v > 70:
			return "超买"
		case v < 30:
			return "超卖"
		default:
			return "中性"
		}
	},
	"bandZone": func(v float64) string {
		switch {
		case v > 0.7:
			return "上部"
		case v < 0.3:
			return "下部"
		default:
			return "中部"
		}
	},
	"positionLine": func(p *exchange.Position) string {
		if p == nil {
			return "无持仓"
		}
		side := "多"
		if p.Side == exchange.SideShort {
			side = "空"
		}
		return fmt.Sprintf("%s仓, 数量: %.4f, 开仓价: %.2f, 持仓盈亏: %.2f USDT", side, p.Size, p.EntryPrice, p.UnrealizedPnL)
	},
	"sentimentLine": func(s *market.Sentiment) string {
		if s == nil {
			return "【市场情绪】数据暂不可用"
		}
		return "【市场情绪】" + s.Line()
	},
}

func groupThousands(s string) string {
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	sign := ""
	if strings.HasPrefix(intPart, "-") {
		sign, intPart = "-", intPart[1:]
	}
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + frac
}
