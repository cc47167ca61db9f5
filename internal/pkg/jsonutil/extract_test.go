package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstObject(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"plain", `{"signal":"BUY"}`, `{"signal":"BUY"}`, true},
		{"prose around", `Here you go: {"signal":"SELL","reason":"a}b"} thanks`, `{"signal":"SELL","reason":"a}b"}`, true},
		{"fenced", "analysis...\n```json\n{\"signal\":\"HOLD\"}\n```\n", `{"signal":"HOLD"}`, true},
		{"second fence", "```\nnone\n```\n```json\n{\"signal\":\"SELL\"}\n```", `{"signal":"SELL"}`, true},
		{"nested", `x {"a":{"b":1}} y {"c":2}`, `{"a":{"b":1}}`, true},
		{"unbalanced", `{"signal":"BUY"`, "", false},
		{"empty", "   ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FirstObject(tc.raw)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRepairProducesValidJSON(t *testing.T) {
	raw := `{signal: 'BUY', confidence: 'HIGH', stop_loss: 49000, take_profit: 52000, reason: 'breakout',}`
	fixed := Repair(raw)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(fixed), &out))
	assert.Equal(t, "BUY", out["signal"])
	assert.Equal(t, 49000.0, out["stop_loss"])
}

func TestRepairLeavesValidInputAlone(t *testing.T) {
	raw := `{"signal":"HOLD","reason":"flat","stop_loss":1,"take_profit":2,"confidence":"LOW"}`
	assert.Equal(t, raw, Repair(raw))
}

func TestPrettyObject(t *testing.T) {
	out, ok := PrettyObject("分析如下:\n```json\n{\"signal\":\"BUY\",\"stop_loss\":1}\n```")
	require.True(t, ok)
	assert.Contains(t, out, "\n  \"signal\": \"BUY\"")

	_, ok = PrettyObject("no json here")
	assert.False(t, ok)
}
