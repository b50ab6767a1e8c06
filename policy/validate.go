package policy

import (
	"fmt"
	"strconv"
)

// ValidateArgs checks call arguments against a tool's JSON Schema before any
// network attempt: unknown argument names and missing required arguments are
// rejected, and declared types are checked best-effort: anything coercible
// to the declared type passes.
func ValidateArgs(schema, args map[string]any) error {
	props, _ := schema["properties"].(map[string]any)

	for name := range args {
		if _, declared := props[name]; !declared {
			return fmt.Errorf("unknown argument %q", name)
		}
	}

	for _, name := range requiredNames(schema) {
		if _, present := args[name]; !present {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	for name, value := range args {
		prop, _ := props[name].(map[string]any)
		declaredType, _ := prop["type"].(string)
		if declaredType == "" {
			continue
		}
		if !coercible(value, declaredType) {
			return fmt.Errorf("argument %q: %T is not coercible to %s", name, value, declaredType)
		}
	}

	return nil
}

func requiredNames(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		names := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}

func coercible(value any, declaredType string) bool {
	switch declaredType {
	case "string":
		// Everything has a string rendering.
		return true
	case "number", "integer":
		switch v := value.(type) {
		case float64, float32, int, int32, int64:
			return true
		case string:
			_, err := strconv.ParseFloat(v, 64)
			return err == nil
		}
		return false
	case "boolean":
		switch v := value.(type) {
		case bool:
			return true
		case string:
			return v == "true" || v == "false"
		}
		return false
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	// Unknown declared type: do not block the call.
	return true
}
