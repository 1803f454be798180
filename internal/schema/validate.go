package schema

import "fmt"

// FieldError reports one failed property check.
type FieldError struct {
	Property string `json:"property"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Property, e.Message)
}

// Validate walks the visible properties and checks required/kind/enum
// constraints against values. Hidden and invisible properties are skipped.
func Validate(properties []Property, values map[string]interface{}) []FieldError {
	var errs []FieldError

	for i := range properties {
		p := &properties[i]
		if !p.Visible(values) {
			continue
		}

		v, present := values[p.Name]
		if !present || v == nil {
			if p.Required && p.Default == nil {
				errs = append(errs, FieldError{
					Property: p.Name,
					Code:     "required",
					Message:  "required property is missing",
				})
			}
			continue
		}

		if err := checkKind(p, v); err != nil {
			errs = append(errs, *err)
		}
	}

	return errs
}

// ApplyDefaults returns values with defaults filled in for absent visible
// properties. The input map is not mutated.
func ApplyDefaults(properties []Property, values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	for i := range properties {
		p := &properties[i]
		if p.Default == nil || !p.Visible(out) {
			continue
		}
		if _, present := out[p.Name]; !present {
			out[p.Name] = p.Default
		}
	}
	return out
}

func checkKind(p *Property, v interface{}) *FieldError {
	switch p.Kind {
	case KindString, KindPassword:
		if _, ok := v.(string); !ok {
			return kindError(p, "string")
		}
	case KindNumber:
		if _, ok := toFloat(v); !ok {
			return kindError(p, "number")
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return kindError(p, "boolean")
		}
	case KindOptions:
		s, ok := v.(string)
		if !ok {
			return kindError(p, "string")
		}
		for _, allowed := range p.Options {
			if s == allowed {
				return nil
			}
		}
		return &FieldError{
			Property: p.Name,
			Code:     "enum",
			Message:  fmt.Sprintf("value %q is not one of %v", s, p.Options),
		}
	case KindCollection:
		switch v.(type) {
		case map[string]interface{}, []interface{}:
		default:
			return kindError(p, "collection")
		}
	case KindJSON:
		// Any JSON-serializable value is acceptable.
	case KindCredential:
		if _, ok := v.(string); !ok {
			return kindError(p, "credential id")
		}
	}
	return nil
}

func kindError(p *Property, want string) *FieldError {
	return &FieldError{
		Property: p.Name,
		Code:     "type",
		Message:  fmt.Sprintf("expected %s", want),
	}
}
