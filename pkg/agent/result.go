package agent

import (
	"encoding/json"
	"fmt"
)

// Serialize renders a tool output for the model and the UI: text passes through,
// anything else becomes JSON.
func Serialize(v any) string {
	switch out := v.(type) {
	case nil:
		return ""
	case string:
		return out
	case []byte:
		return string(out)
	case json.RawMessage:
		return string(out)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// FormatResult converts a tool execution outcome to its serialized content and error flag.
// A map with "success": false is treated as a failure.
func FormatResult(result any, err error) (string, bool) {
	if err != nil {
		return fmt.Sprintf("Tool failed: %v", err), true
	}
	if resultMap, ok := result.(map[string]any); ok {
		if success, ok := resultMap["success"].(bool); ok && !success {
			if errMsg, ok := resultMap["error"].(string); ok {
				return errMsg, true
			}
			return fmt.Sprintf("Tool failed: %s", Serialize(result)), true
		}
	}
	return Serialize(result), false
}
