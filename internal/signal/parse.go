package signal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"perpbot/internal/pkg/jsonutil"
	"perpbot/internal/pkg/text"
)

const schemaDoc = `{
  "type": "object",
  "required": ["signal", "reason", "stop_loss", "take_profit", "confidence"],
  "properties": {
    "signal":      {"enum": ["BUY", "SELL", "HOLD"]},
    "reason":      {"type": "string"},
    "stop_loss":   {"type": "number"},
    "take_profit": {"type": "number"},
    "confidence":  {"enum": ["HIGH", "MEDIUM", "LOW"]}
  }
}`

var signalSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("signal.json", strings.NewReader(schemaDoc)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("signal.json")
}

// Parse extracts the first JSON object from raw, repairs it when strict
// decoding fails, checks the required fields and returns the signal. The
// timestamp is left zero for the caller to stamp.
func Parse(raw string) (Signal, error) {
	obj, ok := jsonutil.FirstObject(raw)
	if !ok {
		return Signal{}, fmt.Errorf("no json object in oracle output")
	}
	doc, err := decode(obj)
	if err != nil {
		return Signal{}, err
	}
	normalize(doc)
	if err := signalSchema.Validate(doc); err != nil {
		return Signal{}, fmt.Errorf("oracle object invalid: %w", err)
	}
	buf, err := json.Marshal(doc)
	if err != nil {
		return Signal{}, err
	}
	fields := gjson.GetManyBytes(buf, "signal", "reason", "stop_loss", "take_profit", "confidence")
	action, err := ParseAction(fields[0].String())
	if err != nil {
		return Signal{}, err
	}
	conf, err := ParseConfidence(fields[4].String())
	if err != nil {
		return Signal{}, err
	}
	return Signal{
		Action:     action,
		Reason:     text.Truncate(strings.TrimSpace(fields[1].String()), MaxReasonRunes),
		StopLoss:   fields[2].Float(),
		TakeProfit: fields[3].Float(),
		Confidence: conf,
	}, nil
}

func decode(obj string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(obj), &doc); err == nil {
		return doc, nil
	}
	repaired := jsonutil.Repair(obj)
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return nil, fmt.Errorf("oracle json unparsable after repair: %w", err)
	}
	return doc, nil
}

// normalize upper-cases the enum fields and turns numeric strings such as
// "49000" into numbers, which chat models emit interchangeably.
func normalize(doc map[string]any) {
	for _, key := range []string{"signal", "confidence"} {
		if s, ok := doc[key].(string); ok {
			doc[key] = strings.ToUpper(strings.TrimSpace(s))
		}
	}
	for _, key := range []string{"stop_loss", "take_profit"} {
		if s, ok := doc[key].(string); ok {
			clean := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
			if f, err := strconv.ParseFloat(clean, 64); err == nil {
				doc[key] = f
			}
		}
	}
}
