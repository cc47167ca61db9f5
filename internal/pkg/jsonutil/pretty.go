package jsonutil

import (
	"encoding/json"

	"github.com/tidwall/pretty"
)

var indent = &pretty.Options{Width: 100, Indent: "  "}

// PrettyObject extracts the first JSON object in raw and indents it,
// repairing it first when it does not parse as is.
func PrettyObject(raw string) (string, bool) {
	obj, ok := FirstObject(raw)
	if !ok {
		return "", false
	}
	if !json.Valid([]byte(obj)) {
		obj = Repair(obj)
	}
	return string(pretty.PrettyOptions([]byte(obj), indent)), true
}
