package tools

import (
	"github.com/kbsearch/backend/internal/toolerr"
)

// Args holds a decoded tool payload. Helpers validate as they extract so
// handlers stay linear.
type Args map[string]interface{}

func (a Args) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

func (a Args) RequireString(key string) (string, error) {
	v, ok := a[key].(string)
	if !ok || v == "" {
		return "", toolerr.NewValidation(key, "required string parameter is missing or empty")
	}
	return v, nil
}

// Int accepts JSON numbers (float64) as well as native ints.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func (a Args) RequireInt(key string) (int, error) {
	switch v := a[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, toolerr.NewValidation(key, "required integer parameter is missing")
	}
}

func (a Args) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

func (a Args) StringMap(key string) map[string]string {
	raw, ok := a[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
