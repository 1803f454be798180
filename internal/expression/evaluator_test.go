package expression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() *Context {
	return &Context{
		JSON: map[string]interface{}{
			"name":  "Ada",
			"age":   float64(36),
			"tags":  []interface{}{"a", "b"},
			"user":  map[string]interface{}{"email": "ada@example.com"},
			"ready": true,
		},
		Nodes: map[string]interface{}{
			"Fetch Users": []interface{}{
				map[string]interface{}{"json": map[string]interface{}{"id": float64(1)}},
			},
			"Empty Node": []interface{}{},
		},
		Executed: map[string]bool{
			"Fetch Users": true,
			"Empty Node":  true,
		},
		Workflow:  WorkflowInfo{ID: "wf-1", Name: "Orders", Active: true},
		Execution: ExecutionInfo{ID: "ex-1", Mode: "manual"},
		Vars:      map[string]interface{}{"region": "eu-west-1"},
		ItemIndex: 2,
		Now:       time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestResolvePlainString(t *testing.T) {
	e := New()
	out, err := e.Resolve("no fragments here", testContext())
	require.NoError(t, err)
	assert.Equal(t, "no fragments here", out)
}

func TestResolveSingleFragmentKeepsType(t *testing.T) {
	e := New()
	ctx := testContext()

	out, err := e.Resolve("{{ $json.age }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(36), out)

	out, err = e.Resolve("{{ $json.tags }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, out)

	out, err = e.Resolve("{{ $json.ready }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestResolveConcatenation(t *testing.T) {
	e := New()
	out, err := e.Resolve("{{ $json.name }} is {{ $json.age }} years old", testContext())
	require.NoError(t, err)
	assert.Equal(t, "Ada is 36 years old", out)
}

func TestResolveObjectStringifiesAsJSON(t *testing.T) {
	e := New()
	out, err := e.Resolve("user: {{ $json.user }}", testContext())
	require.NoError(t, err)
	assert.Equal(t, `user: {"email":"ada@example.com"}`, out)
}

func TestResolveMissingPathIsNull(t *testing.T) {
	e := New()
	out, err := e.Resolve("value: {{ $json.missing }}", testContext())
	require.NoError(t, err)
	assert.Equal(t, "value: null", out)
}

func TestResolveContextRoots(t *testing.T) {
	e := New()
	ctx := testContext()

	out, err := e.Resolve("{{ $workflow.name }}/{{ $execution.mode }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Orders/manual", out)

	out, err = e.Resolve("{{ $vars.region }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", out)

	out, err = e.Resolve("{{ $itemIndex }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, out)

	out, err = e.Resolve("{{ $today }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", out)
}

func TestResolveNodeAccess(t *testing.T) {
	e := New()
	out, err := e.Resolve(`{{ $node["Fetch Users"][0].json.id }}`, testContext())
	require.NoError(t, err)
	assert.Equal(t, float64(1), out)
}

func TestHelperPredicates(t *testing.T) {
	e := New()
	ctx := testContext()

	cases := []struct {
		expr string
		want interface{}
	}{
		{`{{ isExecuted("Fetch Users") }}`, true},
		{`{{ isExecuted("Never Ran") }}`, false},
		{`{{ hasData("Fetch Users") }}`, true},
		{`{{ hasData("Empty Node") }}`, false},
		{`{{ hasData("Never Ran") }}`, false},
		{`{{ firstExecuted(["Never Ran", "Empty Node", "Fetch Users"]) }}`, "Empty Node"},
		{`{{ firstExecuted(["Never Ran"]) }}`, nil},
	}
	for _, tc := range cases {
		out, err := e.Resolve(tc.expr, ctx)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, out, tc.expr)
	}
}

func TestGetNodeDataDefault(t *testing.T) {
	e := New()
	out, err := e.Resolve(`{{ getNodeData("Never Ran", "fallback") }}`, testContext())
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestFunctionTable(t *testing.T) {
	e := New()
	ctx := testContext()

	cases := []struct {
		expr string
		want interface{}
	}{
		{`{{ uppercase($json.name) }}`, "ADA"},
		{`{{ length($json.tags) }}`, 2},
		{`{{ first($json.tags) }}`, "a"},
		{`{{ parseInt(" 42 ") }}`, 42},
		{`{{ toBoolean("false") }}`, false},
		{`{{ coalesce(nil, "", "x") }}`, "x"},
		{`{{ encodeURIComponent("a b&c") }}`, "a+b%26c"},
		{`{{ get($json, "user.email") }}`, "ada@example.com"},
	}
	for _, tc := range cases {
		out, err := e.Resolve(tc.expr, ctx)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, out, tc.expr)
	}
}

func TestResolveDeterministicForFixedContext(t *testing.T) {
	e := New()
	ctx := testContext()
	a, err := e.Resolve("{{ $now }}-{{ $json.age * 2 }}", ctx)
	require.NoError(t, err)
	b, err := e.Resolve("{{ $now }}-{{ $json.age * 2 }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolveBadFragmentReturnsError(t *testing.T) {
	e := New()
	_, err := e.Resolve("{{ 1 + }}", testContext())
	require.Error(t, err)
	var exprErr *Error
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, "1 +", exprErr.Fragment)
}

func TestResolveParametersRecursive(t *testing.T) {
	e := New()
	params := map[string]interface{}{
		"url": "https://api.example.com/users/{{ $json.user.email }}",
		"headers": map[string]interface{}{
			"X-Region": "{{ $vars.region }}",
		},
		"limits": []interface{}{"{{ $json.age }}", float64(10)},
		"retry":  true,
	}

	out, err := e.ResolveParameters(params, testContext())
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/ada@example.com", out["url"])
	assert.Equal(t, "eu-west-1", out["headers"].(map[string]interface{})["X-Region"])
	assert.Equal(t, float64(36), out["limits"].([]interface{})[0])
	assert.Equal(t, true, out["retry"])
}

func TestResolveParametersReportsKey(t *testing.T) {
	e := New()
	_, err := e.ResolveParameters(map[string]interface{}{
		"body": "{{ 1 + }}",
	}, testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `parameter "body"`)
}
