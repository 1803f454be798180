package credentials

// dangerousKeys are payload keys that could pollute the prototype chain of a
// JavaScript consumer (the code node's sandbox, the frontend editor).
var dangerousKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// SanitizePayload deep-copies a payload, dropping dangerous keys at every
// depth. The input is never mutated.
func SanitizePayload(payload map[string]interface{}) map[string]interface{} {
	out, _ := sanitizeValue(payload).(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if dangerousKeys[k] {
				continue
			}
			out[k] = sanitizeValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = sanitizeValue(inner)
		}
		return out
	default:
		return v
	}
}
