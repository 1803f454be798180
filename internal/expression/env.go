package expression

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// buildEnv assembles the identifier scope for one evaluation: the context
// roots, the node-status helper predicates, and the fixed function table.
func buildEnv(ctx *Context) map[string]interface{} {
	nodes := make(map[string]interface{}, len(ctx.Nodes))
	for name, data := range ctx.Nodes {
		nodes[name] = data
	}

	env := map[string]interface{}{
		"$json": ctx.JSON,
		"$node": nodes,
		"$workflow": map[string]interface{}{
			"id":     ctx.Workflow.ID,
			"name":   ctx.Workflow.Name,
			"active": ctx.Workflow.Active,
		},
		"$execution": map[string]interface{}{
			"id":   ctx.Execution.ID,
			"mode": ctx.Execution.Mode,
		},
		"$vars":      ctx.Vars,
		"$itemIndex": ctx.ItemIndex,
		"$now":       ctx.Now.Format(time.RFC3339),
		"$today":     ctx.Now.Format("2006-01-02"),

		"isExecuted": func(name string) bool {
			return ctx.Executed[name]
		},
		"hasData": func(name string) bool {
			if !ctx.Executed[name] {
				return false
			}
			return !isEmptyValue(ctx.Nodes[name])
		},
		"getNodeData": func(name string, def interface{}) interface{} {
			if data, ok := ctx.Nodes[name]; ok && data != nil {
				return data
			}
			return def
		},
		"firstExecuted": func(names []interface{}) interface{} {
			for _, n := range names {
				name, ok := n.(string)
				if ok && ctx.Executed[name] {
					return name
				}
			}
			return nil
		},
	}

	for k, v := range functionTable(ctx) {
		env[k] = v
	}
	return env
}

// functionTable is the closed allow-list of callables available to fragments.
// Everything here is pure given a fixed context.
func functionTable(ctx *Context) map[string]interface{} {
	return map[string]interface{}{
		// String functions
		"uppercase":  strings.ToUpper,
		"lowercase":  strings.ToLower,
		"trim":       strings.TrimSpace,
		"split":      strings.Split,
		"join":       strings.Join,
		"replace":    strings.ReplaceAll,
		"contains":   strings.Contains,
		"startsWith": strings.HasPrefix,
		"endsWith":   strings.HasSuffix,
		"repeat":     strings.Repeat,
		"substring": func(s string, start, end int) string {
			if start < 0 {
				start = 0
			}
			if end > len(s) {
				end = len(s)
			}
			if start > end {
				return ""
			}
			return s[start:end]
		},
		"length": func(v interface{}) int {
			switch val := v.(type) {
			case string:
				return len(val)
			case []interface{}:
				return len(val)
			case map[string]interface{}:
				return len(val)
			default:
				return 0
			}
		},

		// Array functions
		"first": func(arr []interface{}) interface{} {
			if len(arr) > 0 {
				return arr[0]
			}
			return nil
		},
		"last": func(arr []interface{}) interface{} {
			if len(arr) > 0 {
				return arr[len(arr)-1]
			}
			return nil
		},
		"slice": func(arr []interface{}, start, end int) []interface{} {
			if start < 0 {
				start = 0
			}
			if end > len(arr) {
				end = len(arr)
			}
			if start > end {
				return nil
			}
			return arr[start:end]
		},
		"unique": func(arr []interface{}) []interface{} {
			seen := make(map[string]bool)
			var result []interface{}
			for _, v := range arr {
				key := fmt.Sprintf("%v", v)
				if !seen[key] {
					seen[key] = true
					result = append(result, v)
				}
			}
			return result
		},
		"includes": func(arr []interface{}, val interface{}) bool {
			for _, v := range arr {
				if v == val {
					return true
				}
			}
			return false
		},
		"pluck": func(arr []interface{}, key string) []interface{} {
			var result []interface{}
			for _, item := range arr {
				if obj, ok := item.(map[string]interface{}); ok {
					result = append(result, obj[key])
				}
			}
			return result
		},

		// Object functions
		"keys": func(obj map[string]interface{}) []string {
			keys := make([]string, 0, len(obj))
			for k := range obj {
				keys = append(keys, k)
			}
			return keys
		},
		"values": func(obj map[string]interface{}) []interface{} {
			vals := make([]interface{}, 0, len(obj))
			for _, v := range obj {
				vals = append(vals, v)
			}
			return vals
		},
		"merge": func(objs ...map[string]interface{}) map[string]interface{} {
			result := make(map[string]interface{})
			for _, obj := range objs {
				for k, v := range obj {
					result[k] = v
				}
			}
			return result
		},
		"get": func(obj interface{}, path string) interface{} {
			return LookupPath(obj, path)
		},

		// Math
		"round": math.Round,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"abs":   math.Abs,
		"min":   math.Min,
		"max":   math.Max,
		"pow":   math.Pow,
		"sqrt":  math.Sqrt,

		// Number parsing and checks
		"parseInt": func(s string) int {
			n, _ := strconv.Atoi(strings.TrimSpace(s))
			return n
		},
		"parseFloat": func(s string) float64 {
			f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
			return f
		},
		"isNaN": func(v interface{}) bool {
			f, ok := asFloat(v)
			return !ok || math.IsNaN(f)
		},
		"isFinite": func(v interface{}) bool {
			f, ok := asFloat(v)
			return ok && !math.IsInf(f, 0) && !math.IsNaN(f)
		},

		// Encoding utilities
		"encodeURIComponent": url.QueryEscape,
		"decodeURIComponent": func(s string) string {
			out, err := url.QueryUnescape(s)
			if err != nil {
				return s
			}
			return out
		},
		"encodeURI": func(s string) string {
			u, err := url.Parse(s)
			if err != nil {
				return url.PathEscape(s)
			}
			return u.String()
		},
		"decodeURI": func(s string) string {
			out, err := url.PathUnescape(s)
			if err != nil {
				return s
			}
			return out
		},
		"base64Encode": func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		},
		"base64Decode": func(s string) string {
			decoded, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return s
			}
			return string(decoded)
		},

		// Date functions, anchored on the context clock
		"formatDate": func(iso string, layout string) string {
			t, err := time.Parse(time.RFC3339, iso)
			if err != nil {
				return iso
			}
			return t.Format(convertDateFormat(layout))
		},
		"parseDate": func(s, layout string) string {
			t, err := time.Parse(convertDateFormat(layout), s)
			if err != nil {
				return ""
			}
			return t.Format(time.RFC3339)
		},
		"addDays": func(iso string, days int) string {
			t, err := time.Parse(time.RFC3339, iso)
			if err != nil {
				return iso
			}
			return t.AddDate(0, 0, days).Format(time.RFC3339)
		},

		// Conversion
		"toString": func(v interface{}) string {
			return stringify(v)
		},
		"toNumber": func(v interface{}) float64 {
			f, _ := asFloat(v)
			return f
		},
		"toInt": func(v interface{}) int {
			f, _ := asFloat(v)
			return int(f)
		},
		"toBoolean": func(v interface{}) bool {
			switch val := v.(type) {
			case bool:
				return val
			case string:
				return val != "" && val != "false" && val != "0"
			case int, int64, float64:
				f, _ := asFloat(v)
				return f != 0
			}
			return v != nil
		},
		"toJSON": func(v interface{}) string {
			b, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(b)
		},
		"fromJSON": func(s string) interface{} {
			var v interface{}
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil
			}
			return v
		},

		// Utility
		"coalesce": func(vals ...interface{}) interface{} {
			for _, v := range vals {
				if v != nil && v != "" {
					return v
				}
			}
			return nil
		},
		"ternary": func(cond bool, trueVal, falseVal interface{}) interface{} {
			if cond {
				return trueVal
			}
			return falseVal
		},
		"isEmpty": isEmptyValue,
		"typeof": func(v interface{}) string {
			switch v.(type) {
			case nil:
				return "null"
			case bool:
				return "boolean"
			case int, int64, float64:
				return "number"
			case string:
				return "string"
			case []interface{}:
				return "array"
			case map[string]interface{}:
				return "object"
			default:
				return "unknown"
			}
		},
	}
}

// LookupPath walks dots and numeric bracket indices, e.g. "user.items[0].id".
// A missing key or out-of-range index yields nil.
func LookupPath(obj interface{}, path string) interface{} {
	current := obj
	for _, part := range splitPath(path) {
		switch c := current.(type) {
		case map[string]interface{}:
			current = c[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil
			}
			current = c[idx]
		default:
			return nil
		}
	}
	return current
}

func splitPath(path string) []string {
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, strings.Trim(p, `"'`))
		}
	}
	return out
}

func convertDateFormat(format string) string {
	replacements := []struct{ from, to string }{
		{"YYYY", "2006"}, {"YY", "06"},
		{"MM", "01"}, {"DD", "02"},
		{"HH", "15"}, {"mm", "04"}, {"ss", "05"},
	}
	for _, r := range replacements {
		format = strings.ReplaceAll(format, r.from, r.to)
	}
	return format
}

func asFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	}
	return 0, false
}

func isEmptyValue(v interface{}) bool {
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
