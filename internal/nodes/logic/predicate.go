package logic

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowmesh-io/flowmesh/internal/expression"
)

// predicate is one {key, expression, value} comparison against an item.
type predicate struct {
	Key        string
	Expression string
	Value      interface{}
}

func parsePredicate(raw interface{}) (predicate, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return predicate{}, fmt.Errorf("condition must be an object, got %T", raw)
	}
	key, _ := m["key"].(string)
	op, _ := m["expression"].(string)
	if op == "" {
		return predicate{}, fmt.Errorf("condition is missing an expression")
	}
	return predicate{Key: key, Expression: op, Value: m["value"]}, nil
}

// eval compares the item field at Key against Value under Expression. The
// operator set is closed; an unknown operator is an error rather than false.
func (p predicate) eval(itemJSON map[string]interface{}) (bool, error) {
	left := expression.LookupPath(itemJSON, p.Key)

	switch p.Expression {
	case "equal":
		return looseEqual(left, p.Value), nil
	case "notEqual":
		return !looseEqual(left, p.Value), nil
	case "larger":
		return asNumber(left) > asNumber(p.Value), nil
	case "largerEqual":
		return asNumber(left) >= asNumber(p.Value), nil
	case "smaller":
		return asNumber(left) < asNumber(p.Value), nil
	case "smallerEqual":
		return asNumber(left) <= asNumber(p.Value), nil
	case "contains":
		return strings.Contains(asString(left), asString(p.Value)), nil
	case "notContains":
		return !strings.Contains(asString(left), asString(p.Value)), nil
	case "startsWith":
		return strings.HasPrefix(asString(left), asString(p.Value)), nil
	case "endsWith":
		return strings.HasSuffix(asString(left), asString(p.Value)), nil
	case "isEmpty":
		return isEmpty(left), nil
	case "isNotEmpty":
		return !isEmpty(left), nil
	case "regex":
		re, err := regexp.Compile(asString(p.Value))
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", asString(p.Value), err)
		}
		return re.MatchString(asString(left)), nil
	default:
		return false, fmt.Errorf("unknown condition expression %q", p.Expression)
	}
}

// combine folds booleans under "and"/"or"; an empty list is true under "and"
// and false under "or".
func combine(op string, values []bool) bool {
	if op == "or" {
		for _, v := range values {
			if v {
				return true
			}
		}
		return false
	}
	for _, v := range values {
		if !v {
			return false
		}
	}
	return true
}

func looseEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if aok && bok {
		return af == bf
	}
	return asString(a) == asString(b)
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asNumber(v interface{}) float64 {
	f, _ := toNumber(v)
	return f
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}
