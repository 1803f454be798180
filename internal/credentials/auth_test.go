package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBasicAuth(t *testing.T) {
	req := &RequestDescriptor{Method: "GET", URL: "https://api.example.com"}
	err := ApplyAuthentication(req, "httpBasicAuth", map[string]interface{}{
		"username": "ada", "password": "s3cret",
	})
	require.NoError(t, err)
	// base64("ada:s3cret")
	assert.Equal(t, "Basic YWRhOnMzY3JldA==", req.Headers["Authorization"])
}

func TestApplyAPIKeyHeader(t *testing.T) {
	req := &RequestDescriptor{URL: "https://api.example.com"}
	err := ApplyAuthentication(req, "apiKey", map[string]interface{}{
		"apiKey": "k-123", "headerName": "X-Api-Key",
	})
	require.NoError(t, err)
	assert.Equal(t, "k-123", req.Headers["X-Api-Key"])
}

func TestApplyAPIKeyDefaultsAndPrefix(t *testing.T) {
	req := &RequestDescriptor{URL: "https://api.example.com"}
	err := ApplyAuthentication(req, "apiKey", map[string]interface{}{
		"apiKey": "k-123", "prefix": "Bearer",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer k-123", req.Headers["Authorization"])
}

func TestApplyAPIKeyQuery(t *testing.T) {
	req := &RequestDescriptor{URL: "https://api.example.com/v1/items?page=2"}
	err := ApplyAuthentication(req, "apiKey", map[string]interface{}{
		"apiKey": "k-123", "addTo": "query", "queryName": "token",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/items?page=2&token=k-123", req.FullURL())
}

func TestApplyOAuth2Bearer(t *testing.T) {
	req := &RequestDescriptor{URL: "https://api.example.com"}
	err := ApplyAuthentication(req, "oauth2", map[string]interface{}{
		"accessToken": "tok-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-abc", req.Headers["Authorization"])

	// Provider-specific subtypes ride the same policy.
	req = &RequestDescriptor{URL: "https://api.example.com"}
	err = ApplyAuthentication(req, "oauth2GoogleApi", map[string]interface{}{
		"accessToken": "tok-g",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-g", req.Headers["Authorization"])
}

func TestApplyOAuth2MissingToken(t *testing.T) {
	req := &RequestDescriptor{URL: "https://api.example.com"}
	err := ApplyAuthentication(req, "oauth2", map[string]interface{}{})
	assert.Error(t, err)
}

func TestApplyUnsupportedType(t *testing.T) {
	req := &RequestDescriptor{URL: "https://api.example.com"}
	err := ApplyAuthentication(req, "sshKey", map[string]interface{}{})
	assert.ErrorIs(t, err, ErrUnsupportedAuthType)
}

func TestSanitizePayloadDropsDangerousKeysDeep(t *testing.T) {
	payload := map[string]interface{}{
		"apiKey":      "k",
		"constructor": "x",
		"nested": map[string]interface{}{
			"__proto__": map[string]interface{}{"polluted": true},
			"ok":        "y",
			"list": []interface{}{
				map[string]interface{}{"prototype": 1, "keep": 2},
			},
		},
	}

	out := SanitizePayload(payload)

	assert.NotContains(t, out, "constructor")
	nested := out["nested"].(map[string]interface{})
	assert.NotContains(t, nested, "__proto__")
	assert.Equal(t, "y", nested["ok"])
	item := nested["list"].([]interface{})[0].(map[string]interface{})
	assert.NotContains(t, item, "prototype")
	assert.Equal(t, 2, item["keep"])

	// Original untouched.
	assert.Contains(t, payload, "constructor")
}
