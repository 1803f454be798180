package expression

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

var fragmentRegex = regexp.MustCompile(`\{\{([\s\S]+?)\}\}`)

// Error reports a failed fragment with the underlying reason.
type Error struct {
	Fragment string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("expression %q failed: %v", e.Fragment, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WorkflowInfo is the $workflow root.
type WorkflowInfo struct {
	ID     string `expr:"id"`
	Name   string `expr:"name"`
	Active bool   `expr:"active"`
}

// ExecutionInfo is the $execution root.
type ExecutionInfo struct {
	ID   string `expr:"id"`
	Mode string `expr:"mode"`
}

// Context carries everything a fragment may reference. Evaluation never
// mutates it, so a fixed context always yields the same value.
type Context struct {
	// JSON is the current node's immediate input ($json).
	JSON interface{}
	// Nodes maps upstream node name to its output data ($node["Name"]).
	Nodes map[string]interface{}
	// Executed marks which upstream nodes have run, for the helper
	// predicates.
	Executed  map[string]bool
	Workflow  WorkflowInfo
	Execution ExecutionInfo
	Vars      map[string]interface{}
	ItemIndex int
	// Now is fixed at evaluation start; $today derives from it.
	Now time.Time
}

// Evaluator resolves {{ … }} fragments against a Context. The identifier
// scope of a fragment is exactly the env map built from the context plus the
// fixed function table; nothing of the host process leaks in.
type Evaluator struct{}

func New() *Evaluator {
	return &Evaluator{}
}

// Resolve evaluates all fragments embedded in template. A template that is
// exactly one fragment returns the fragment's raw typed value; any other
// template returns a string with fragment results stringified in place.
func (e *Evaluator) Resolve(template string, ctx *Context) (interface{}, error) {
	matches := fragmentRegex.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return template, nil
	}

	env := buildEnv(ctx)

	// Whole-string single fragment keeps its type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(template) {
		body := strings.TrimSpace(template[matches[0][2]:matches[0][3]])
		return e.run(body, env)
	}

	var sb strings.Builder
	prev := 0
	for _, m := range matches {
		sb.WriteString(template[prev:m[0]])
		body := strings.TrimSpace(template[m[2]:m[3]])
		val, err := e.run(body, env)
		if err != nil {
			return nil, err
		}
		sb.WriteString(stringify(val))
		prev = m[1]
	}
	sb.WriteString(template[prev:])
	return sb.String(), nil
}

// ResolveParameters walks a parameter map and resolves every string value,
// recursing through nested maps and slices.
func (e *Evaluator) ResolveParameters(params map[string]interface{}, ctx *Context) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(params))
	for key, value := range params {
		v, err := e.resolveValue(value, ctx)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		resolved[key] = v
	}
	return resolved, nil
}

func (e *Evaluator) resolveValue(value interface{}, ctx *Context) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.Resolve(v, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			r, err := e.resolveValue(val, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			r, err := e.resolveValue(val, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

func (e *Evaluator) run(fragment string, env map[string]interface{}) (interface{}, error) {
	program, err := expr.Compile(fragment, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &Error{Fragment: fragment, Err: err}
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, &Error{Fragment: fragment, Err: err}
	}
	return result, nil
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	case float64:
		// Trim the ".0" Go would print for integral floats.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
