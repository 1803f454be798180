package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowmesh-io/flowmesh/internal/credentials"
)

// maxResponseBytes bounds how much of a response body a node may buffer.
const maxResponseBytes = 10 << 20

// HTTPResponse is the decoded result of a helper request.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	// Body holds the parsed JSON value for JSON responses, otherwise the
	// raw text.
	Body interface{}
}

// Helpers bundles the capabilities handed to nodes: an HTTP primitive and
// credential-aware request application.
type Helpers struct {
	Client *http.Client
}

func NewHelpers(client *http.Client) *Helpers {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Helpers{Client: client}
}

// Request performs the described HTTP exchange. Object and slice bodies are
// sent as JSON; strings are sent verbatim.
func (h *Helpers) Request(ctx context.Context, desc *credentials.RequestDescriptor) (*HTTPResponse, error) {
	method := desc.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	switch b := desc.Body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("serializing request body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, desc.FullURL(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for name, value := range desc.Headers {
		req.Header.Set(name, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	out := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Header)),
	}
	for name := range resp.Header {
		out.Headers[name] = resp.Header.Get(name)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed interface{}
		if err := json.Unmarshal(raw, &parsed); err == nil {
			out.Body = parsed
			return out, nil
		}
	}
	out.Body = string(raw)
	return out, nil
}

// RequestWithAuthentication applies the named credential type from the
// invocation scope to the descriptor, then performs the request.
func (ec *ExecutionContext) RequestWithAuthentication(ctx context.Context, credType string, desc *credentials.RequestDescriptor) (*HTTPResponse, error) {
	payload, ok := ec.Credentials[credType]
	if !ok {
		return nil, fmt.Errorf("no %s credential in scope for node %s", credType, ec.NodeName)
	}
	if err := credentials.ApplyAuthentication(desc, credType, payload); err != nil {
		return nil, err
	}
	return ec.Helpers.Request(ctx, desc)
}
