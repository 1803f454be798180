package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
)

func mainItems(values ...map[string]interface{}) map[string][]nodes.Item {
	items := make([]nodes.Item, len(values))
	for i, v := range values {
		items[i] = nodes.NewItem(v)
	}
	return map[string][]nodes.Item{"main": items}
}

func TestSetFields(t *testing.T) {
	out, err := executeSet(context.Background(), &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{"existing": 1}),
		Parameters: map[string]interface{}{
			"fields": []interface{}{
				map[string]interface{}{"name": "status", "value": "done"},
				map[string]interface{}{"name": "meta.source", "value": "import"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, out["main"], 1)

	got := out["main"][0].JSON
	assert.Equal(t, 1, got["existing"])
	assert.Equal(t, "done", got["status"])
	assert.Equal(t, "import", got["meta"].(map[string]interface{})["source"])
}

func TestSetKeepOnlySet(t *testing.T) {
	out, err := executeSet(context.Background(), &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{"existing": 1}),
		Parameters: map[string]interface{}{
			"keepOnlySet": true,
			"fields": []interface{}{
				map[string]interface{}{"name": "only", "value": true},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"only": true}, out["main"][0].JSON)
}

func TestJSONParseNested(t *testing.T) {
	out, err := executeJSONParse(context.Background(), &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{"raw": `{"a": 1}`}),
		Parameters: map[string]interface{}{
			"sourceField": "raw",
			"targetField": "data",
		},
	})
	require.NoError(t, err)
	data := out["main"][0].JSON["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["a"])
}

func TestJSONParseFanOut(t *testing.T) {
	out, err := executeJSONParse(context.Background(), &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{"raw": `[{"id":1},{"id":2}]`}),
		Parameters: map[string]interface{}{
			"sourceField":  "raw",
			"fanOutArrays": true,
		},
	})
	require.NoError(t, err)
	require.Len(t, out["main"], 2)
	assert.Equal(t, float64(2), out["main"][1].JSON["id"])
	assert.Equal(t, 0, out["main"][1].PairedItem.Item)
}

func TestJSONParseInvalid(t *testing.T) {
	_, err := executeJSONParse(context.Background(), &nodes.ExecutionContext{
		Input:      mainItems(map[string]interface{}{"raw": "{broken"}),
		Parameters: map[string]interface{}{"sourceField": "raw"},
	})
	assert.Error(t, err)
}

func TestWaitPassesThrough(t *testing.T) {
	out, err := executeWait(context.Background(), &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{"x": 1}),
		Parameters: map[string]interface{}{
			"amount": float64(5),
			"unit":   "milliseconds",
		},
	})
	require.NoError(t, err)
	assert.Len(t, out["main"], 1)
}

func TestWaitCancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := executeWait(ctx, &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{}),
		Parameters: map[string]interface{}{
			"amount": float64(10),
			"unit":   "seconds",
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPRequestWithAuth(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer server.Close()

	out, err := executeHTTPRequest(context.Background(), &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{}),
		Parameters: map[string]interface{}{
			"method":         "GET",
			"url":            server.URL,
			"authentication": "apiKey",
		},
		Credentials: map[string]map[string]interface{}{
			"apiKey": {"apiKey": "k-1", "headerName": "Authorization", "prefix": "Bearer"},
		},
		Helpers: nodes.NewHelpers(server.Client()),
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer k-1", gotAuth)

	body := out["main"][0].JSON["body"].(map[string]interface{})
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, 200, out["main"][0].JSON["statusCode"])
}

func TestHTTPRequestFailOnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ec := &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{}),
		Parameters: map[string]interface{}{
			"url": server.URL,
		},
		Helpers: nodes.NewHelpers(server.Client()),
	}
	_, err := executeHTTPRequest(context.Background(), ec)
	assert.Error(t, err)

	ec.Parameters["failOnError"] = false
	out, err := executeHTTPRequest(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, out["main"][0].JSON["statusCode"])
}

func TestHTTPRequestMissingCredential(t *testing.T) {
	_, err := executeHTTPRequest(context.Background(), &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{}),
		Parameters: map[string]interface{}{
			"url":            "https://api.example.com",
			"authentication": "apiKey",
		},
		Helpers: nodes.NewHelpers(nil),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiKey")
}

func TestCodeReturnsItems(t *testing.T) {
	out, err := executeCode(context.Background(), &nodes.ExecutionContext{
		Input: mainItems(
			map[string]interface{}{"n": float64(1)},
			map[string]interface{}{"n": float64(2)},
		),
		Parameters: map[string]interface{}{
			"code": `return $items.map(function(it) { return {n: it.n * 10}; });`,
		},
	})
	require.NoError(t, err)
	require.Len(t, out["main"], 2)
	assert.Equal(t, float64(10), out["main"][0].JSON["n"])
	assert.Equal(t, float64(20), out["main"][1].JSON["n"])
}

func TestCodeSingleObjectAndItemHelper(t *testing.T) {
	out, err := executeCode(context.Background(), &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{"name": "ada"}),
		Parameters: map[string]interface{}{
			"code": `return {greeting: "hi " + $item(0).name};`,
		},
	})
	require.NoError(t, err)
	require.Len(t, out["main"], 1)
	assert.Equal(t, "hi ada", out["main"][0].JSON["greeting"])
}

func TestCodeJSONWrapperShape(t *testing.T) {
	out, err := executeCode(context.Background(), &nodes.ExecutionContext{
		Input: mainItems(map[string]interface{}{}),
		Parameters: map[string]interface{}{
			"code": `return [{json: {a: 1}}];`,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["main"][0].JSON["a"])
}

func TestCodeSyntaxError(t *testing.T) {
	_, err := executeCode(context.Background(), &nodes.ExecutionContext{
		Input:      mainItems(map[string]interface{}{}),
		Parameters: map[string]interface{}{"code": `return {{{`},
	})
	assert.Error(t, err)
}

func TestCodeCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := executeCode(ctx, &nodes.ExecutionContext{
		Input:      mainItems(map[string]interface{}{}),
		Parameters: map[string]interface{}{"code": `while (true) {}`},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
