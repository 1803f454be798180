package schema

// PropertyKind enumerates the value kinds a property descriptor may declare.
type PropertyKind string

const (
	KindString     PropertyKind = "string"
	KindPassword   PropertyKind = "password"
	KindNumber     PropertyKind = "number"
	KindBoolean    PropertyKind = "boolean"
	KindOptions    PropertyKind = "options"
	KindHidden     PropertyKind = "hidden"
	KindCollection PropertyKind = "collection"
	KindJSON       PropertyKind = "json"
	KindCredential PropertyKind = "credential"
)

// Property describes one field of a node's parameters or a credential
// payload. DisplayOptions gate visibility on sibling values; an invisible
// property is neither required nor validated.
type Property struct {
	Name           string
	DisplayName    string
	Kind           PropertyKind
	Required       bool
	Default        interface{}
	Options        []string
	DisplayOptions *DisplayOptions
	Description    string
}

// DisplayOptions makes a property conditionally visible. Show requires every
// listed sibling to hold one of the listed values; Hide wins over Show.
type DisplayOptions struct {
	Show map[string][]interface{}
	Hide map[string][]interface{}
}

// Visible reports whether the property applies under the given values.
func (p *Property) Visible(values map[string]interface{}) bool {
	if p.Kind == KindHidden {
		return false
	}
	if p.DisplayOptions == nil {
		return true
	}
	for sibling, allowed := range p.DisplayOptions.Hide {
		if containsValue(allowed, values[sibling]) {
			return false
		}
	}
	for sibling, allowed := range p.DisplayOptions.Show {
		if !containsValue(allowed, values[sibling]) {
			return false
		}
	}
	return true
}

func containsValue(allowed []interface{}, v interface{}) bool {
	for _, a := range allowed {
		if equalLoose(a, v) {
			return true
		}
	}
	return false
}

// equalLoose compares scalars the way JSON round-trips deliver them: numbers
// as float64, everything else by direct equality.
func equalLoose(a, b interface{}) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
