package agentloop

import "encoding/json"

// inputToJSON encodes a tool-call input map as the JSON string the
// Tool Executor and the store's persisted ToolCall both expect.
func inputToJSON(input map[string]any) string {
	if input == nil {
		return "{}"
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// jsonToMap decodes a persisted ToolCall's JSON input back into a map
// for re-sending to the model as a tool_use content block.
func jsonToMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
