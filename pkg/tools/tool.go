package tools

import (
	"context"
	"fmt"
)

// ToolOutput is the result of a tool execution.
type ToolOutput struct {
	Content string // text content for the tool result
	IsError bool   // when true, content is an error message
}

// Tool is the interface every locally served tool must implement. Problems
// the caller can act on (bad arguments, fetch failures) belong in ToolOutput
// with IsError set; the error return is for infrastructure failures only.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any // JSON Schema object for tools/list
	Execute(ctx context.Context, input map[string]any) (ToolOutput, error)
}

// errorOutput formats an argument or execution problem as a tool error.
func errorOutput(format string, args ...any) ToolOutput {
	return ToolOutput{Content: "Error: " + fmt.Sprintf(format, args...), IsError: true}
}

// stringArg extracts a required string argument from the input map.
func stringArg(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return s, nil
}

// numberArg extracts a numeric argument, returning def when absent. JSON
// numbers decode as float64 regardless of the schema's declared type.
func numberArg(input map[string]any, key string, def float64) (float64, error) {
	v, ok := input[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}
