package credentials

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedAuthType is returned when no authentication policy exists for
// a credential type.
var ErrUnsupportedAuthType = errors.New("unsupported authentication type")

// RequestDescriptor is an outbound HTTP request before authentication is
// applied. Nodes build one of these and hand it to ApplyAuthentication.
type RequestDescriptor struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    interface{}
}

func (r *RequestDescriptor) setHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[name] = value
}

func (r *RequestDescriptor) setQuery(name, value string) {
	if r.Query == nil {
		r.Query = make(map[string]string)
	}
	r.Query[name] = value
}

// FullURL returns the URL with any query entries appended.
func (r *RequestDescriptor) FullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	q := u.Query()
	for name, value := range r.Query {
		q.Set(name, value)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ApplyAuthentication mutates the descriptor so the request carries the
// credential. OAuth2-family types all use a bearer token, so any type name
// with the "oauth2" prefix is accepted.
func ApplyAuthentication(req *RequestDescriptor, credType string, payload map[string]interface{}) error {
	switch {
	case credType == "httpBasicAuth":
		user, _ := payload["username"].(string)
		password, _ := payload["password"].(string)
		raw := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		req.setHeader("Authorization", "Basic "+raw)
		return nil

	case credType == "apiKey":
		key, _ := payload["apiKey"].(string)
		if addTo, _ := payload["addTo"].(string); addTo == "query" {
			name, _ := payload["queryName"].(string)
			if name == "" {
				name = "api_key"
			}
			req.setQuery(name, key)
			return nil
		}
		name, _ := payload["headerName"].(string)
		if name == "" {
			name = "Authorization"
		}
		if prefix, _ := payload["prefix"].(string); prefix != "" {
			key = strings.TrimSpace(prefix) + " " + key
		}
		req.setHeader(name, key)
		return nil

	case strings.HasPrefix(credType, "oauth2"):
		token, _ := payload["accessToken"].(string)
		if token == "" {
			return fmt.Errorf("%s credential has no access token", credType)
		}
		req.setHeader("Authorization", "Bearer "+token)
		return nil
	}

	return fmt.Errorf("%w: %s", ErrUnsupportedAuthType, credType)
}
