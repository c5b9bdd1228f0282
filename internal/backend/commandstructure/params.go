package commandstructure

import (
	"fmt"
	"strings"
)

// GetStringParam returns the trimmed string under key, or defaultValue.
func GetStringParam(params map[string]any, key string, defaultValue string) string {
	if val, ok := params[key].(string); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return defaultValue
}

// GetIntParam returns the integer under key, or defaultValue. YAML decodes
// numbers as int, JSON as float64.
func GetIntParam(params map[string]any, key string, defaultValue int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultValue
}

// GetPositiveIntParam is GetIntParam for dimensions: the result must be > 0.
func GetPositiveIntParam(params map[string]any, key string, defaultValue int) (int, error) {
	value := GetIntParam(params, key, defaultValue)
	if value <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, value)
	}
	return value, nil
}
