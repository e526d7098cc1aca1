// Package httpcall sends the requests made by http_request nodes.
package httpcall

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxBodyBytes caps how much of a response body is kept
const DefaultMaxBodyBytes = 1 << 20

// Request describes an outgoing HTTP call
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// Response holds the status and body of a completed call
type Response struct {
	Status    int
	Body      string
	Headers   http.Header
	Truncated bool
}

// OK reports whether the status is 2xx
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client performs HTTP calls with a bounded body size
type Client struct {
	client       *http.Client
	maxBodyBytes int64
}

// New creates a Client. timeout applies to the whole exchange; callers can
// tighten it per request through ctx.
func New(timeout time.Duration) *Client {
	return &Client{
		client:       &http.Client{Timeout: timeout},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Do sends the request. Any status code is a successful call; only transport
// failures and timeouts return an error.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = http.MethodGet
	}
	if r.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", guessContentType(r.Body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, r.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	truncated := int64(len(data)) > c.maxBodyBytes
	if truncated {
		data = data[:c.maxBodyBytes]
	}

	return &Response{
		Status:    resp.StatusCode,
		Body:      string(data),
		Headers:   resp.Header,
		Truncated: truncated,
	}, nil
}

func guessContentType(body string) string {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}
