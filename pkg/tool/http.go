package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	maxHTTPResponseBytes = 1 << 20
	defaultHTTPTimeout   = 30 * time.Second
)

type httpRequestArgs struct {
	URL     string            `json:"url" jsonschema:"required,description=The URL to request"`
	Method  string            `json:"method,omitempty" jsonschema:"description=HTTP method,enum=GET,enum=POST,enum=PUT,enum=PATCH,enum=DELETE"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=Request headers"`
	Body    json.RawMessage   `json:"body,omitempty" jsonschema:"description=Request body. Objects are sent as JSON and strings as-is"`
	Timeout float64           `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds (default 30)"`
}

// HTTPResponse is returned by the http_request tool
type HTTPResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body"`
	Success    bool              `json:"success"`
}

func newHTTPRequest(client *http.Client) Tool {
	return MustFunctionTool("http_request", "Make HTTP requests to external APIs",
		func(ctx context.Context, args httpRequestArgs) (any, error) {
			if args.URL == "" {
				return nil, fmt.Errorf("url is required")
			}
			method := strings.ToUpper(args.Method)
			if method == "" {
				method = http.MethodGet
			}
			timeout := defaultHTTPTimeout
			if args.Timeout > 0 {
				timeout = time.Duration(args.Timeout * float64(time.Second))
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			var (
				body        io.Reader
				contentType string
			)
			if len(args.Body) > 0 && string(args.Body) != "null" {
				var s string
				if err := json.Unmarshal(args.Body, &s); err == nil {
					body = strings.NewReader(s)
				} else {
					body = bytes.NewReader(args.Body)
					contentType = "application/json"
				}
			}

			req, err := http.NewRequestWithContext(ctx, method, args.URL, body)
			if err != nil {
				return nil, fmt.Errorf("invalid request: %w", err)
			}
			for k, v := range args.Headers {
				req.Header.Set(k, v)
			}
			if contentType != "" && req.Header.Get("Content-Type") == "" {
				req.Header.Set("Content-Type", contentType)
			}

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
			if err != nil {
				return nil, fmt.Errorf("failed to read response: %w", err)
			}

			headers := make(map[string]string, len(resp.Header))
			for k := range resp.Header {
				headers[k] = resp.Header.Get(k)
			}

			var parsed any = string(data)
			if json.Valid(data) {
				parsed = json.RawMessage(data)
			}

			return HTTPResponse{
				StatusCode: resp.StatusCode,
				Headers:    headers,
				Body:       parsed,
				Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
			}, nil
		})
}
