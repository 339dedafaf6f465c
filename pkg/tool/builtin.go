package tool

import (
	"net/http"
	"sort"
	"time"

	"github.com/muthuks2020/reasona/pkg/security"
)

// BuiltinOption configures the builtin tools
type BuiltinOption func(*builtinConfig)

type builtinConfig struct {
	baseDir    string
	httpClient *http.Client
	now        func() time.Time
}

// WithBaseDir confines file_reader and file_writer to dir (default: the
// working directory).
func WithBaseDir(dir string) BuiltinOption {
	return func(c *builtinConfig) { c.baseDir = dir }
}

// WithHTTPClient replaces the SSRF-guarded client used by http_request.
func WithHTTPClient(client *http.Client) BuiltinOption {
	return func(c *builtinConfig) { c.httpClient = client }
}

// WithClock replaces the clock used by datetime.
func WithClock(now func() time.Time) BuiltinOption {
	return func(c *builtinConfig) { c.now = now }
}

func newBuiltinConfig(opts []BuiltinOption) *builtinConfig {
	c := &builtinConfig{
		baseDir: ".",
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		validator := security.NewSSRFValidator(security.DefaultSSRFConfig())
		c.httpClient = &http.Client{
			Transport: validator.CreateSecureTransport(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return validator.ValidateURL(req.URL.String())
			},
		}
	}
	return c
}

var builtinNames = []string{
	"calculator",
	"datetime",
	"json_parser",
	"http_request",
	"file_reader",
	"file_writer",
}

// BuiltinNames returns the names of the builtin tools
func BuiltinNames() []string {
	names := append([]string(nil), builtinNames...)
	sort.Strings(names)
	return names
}

// Builtins returns a fresh instance of every builtin tool.
func Builtins(opts ...BuiltinOption) []Tool {
	c := newBuiltinConfig(opts)
	tools := make([]Tool, 0, len(builtinNames))
	for _, name := range builtinNames {
		tools = append(tools, c.build(name))
	}
	return tools
}

// Builtin returns one builtin tool by name.
func Builtin(name string, opts ...BuiltinOption) (Tool, bool) {
	c := newBuiltinConfig(opts)
	t := c.build(name)
	return t, t != nil
}

func (c *builtinConfig) build(name string) Tool {
	switch name {
	case "calculator":
		return newCalculator()
	case "datetime":
		return newDateTime(c.now)
	case "json_parser":
		return newJSONParser()
	case "http_request":
		return newHTTPRequest(c.httpClient)
	case "file_reader":
		return newFileReader(c.baseDir)
	case "file_writer":
		return newFileWriter(c.baseDir)
	}
	return nil
}
