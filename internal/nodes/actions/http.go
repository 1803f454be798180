package actions

import (
	"context"
	"fmt"

	"github.com/flowmesh-io/flowmesh/internal/credentials"
	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/schema"
)

// httpRequestNode performs one HTTP exchange per input item. Authentication
// is applied through the credential store's policies when a credential type
// is selected.
func httpRequestNode() *nodes.Definition {
	return &nodes.Definition{
		Identifier:  "httpRequest",
		DisplayName: "HTTP Request",
		Group:       []string{"io"},
		Version:     1,
		Inputs:      []string{"main"},
		Outputs:     []string{"main"},
		Credentials: []nodes.CredentialDefinition{
			{Type: "httpBasicAuth"},
			{Type: "apiKey"},
			{Type: "oauth2"},
		},
		Properties: []schema.Property{
			{Name: "method", DisplayName: "Method", Kind: schema.KindOptions, Default: "GET",
				Options: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD"}},
			{Name: "url", DisplayName: "URL", Kind: schema.KindString, Required: true},
			{Name: "headers", DisplayName: "Headers", Kind: schema.KindCollection},
			{Name: "queryParameters", DisplayName: "Query Parameters", Kind: schema.KindCollection},
			{Name: "body", DisplayName: "Body", Kind: schema.KindJSON,
				DisplayOptions: &schema.DisplayOptions{Hide: map[string][]interface{}{"method": {"GET", "HEAD"}}}},
			{Name: "authentication", DisplayName: "Authentication", Kind: schema.KindOptions, Default: "none",
				Options: []string{"none", "httpBasicAuth", "apiKey", "oauth2"}},
			{Name: "failOnError", DisplayName: "Fail on 4xx/5xx", Kind: schema.KindBoolean, Default: true},
		},
		Execute: executeHTTPRequest,
	}
}

func executeHTTPRequest(ctx context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
	url, _ := ec.Parameters["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("httpRequest needs a url")
	}
	method, _ := ec.Parameters["method"].(string)
	authType, _ := ec.Parameters["authentication"].(string)
	failOnError := true
	if v, ok := ec.Parameters["failOnError"].(bool); ok {
		failOnError = v
	}

	items := ec.MainInput()
	if len(items) == 0 {
		items = []nodes.Item{nodes.NewItem(nil)}
	}

	out := make([]nodes.Item, 0, len(items))
	for i := range items {
		desc := &credentials.RequestDescriptor{
			Method:  method,
			URL:     url,
			Headers: stringMap(ec.Parameters["headers"]),
			Query:   stringMap(ec.Parameters["queryParameters"]),
			Body:    ec.Parameters["body"],
		}

		var resp *nodes.HTTPResponse
		var err error
		if authType != "" && authType != "none" {
			resp, err = ec.RequestWithAuthentication(ctx, authType, desc)
		} else {
			resp, err = ec.Helpers.Request(ctx, desc)
		}
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if failOnError && resp.StatusCode >= 400 {
			return nil, fmt.Errorf("item %d: request to %s returned status %d", i, url, resp.StatusCode)
		}

		out = append(out, nodes.Item{
			JSON: map[string]interface{}{
				"statusCode": resp.StatusCode,
				"headers":    resp.Headers,
				"body":       resp.Body,
			},
			PairedItem: &nodes.PairedItem{Item: i},
		})
	}
	return map[string][]nodes.Item{"main": out}, nil
}

func stringMap(v interface{}) map[string]string {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
