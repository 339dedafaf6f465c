package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, tl Tool, args string) map[string]any {
	t.Helper()
	out, err := tl.Execute(context.Background(), json.RawMessage(args))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(FormatResult(out)), &m))
	return m
}

func builtin(t *testing.T, name string, opts ...BuiltinOption) Tool {
	t.Helper()
	tl, ok := Builtin(name, opts...)
	require.True(t, ok, "builtin %s", name)
	return tl
}

func TestBuiltin_Unknown(t *testing.T) {
	_, ok := Builtin("shell_command")
	assert.False(t, ok)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2 + 2", 4},
		{"2 * 3 ** 2", 18},
		{"sqrt(16)", 4},
		{"pow(2, 10)", 1024},
		{"abs(-3.5)", 3.5},
		{"max(1, 7, 3)", 7},
		{"floor(2.7) + ceil(2.1)", 5},
		{"round(pi * 100) / 100", 3.14},
		{"10 % 3", 1},
		{"log10(1000)", 3},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			require.NoError(t, err)
			f, err := toFloat(got)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, f, 1e-9)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, expr := range []string{"", "1 / 0", "2 +", "os.Exit(1)", "'text'", "undefined_fn(2)"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr)
			assert.Error(t, err)
		})
	}
}

func TestCalculatorTool(t *testing.T) {
	out := run(t, builtin(t, "calculator"), `{"expression":"3 * (4 + 1)"}`)
	assert.Equal(t, "3 * (4 + 1)", out["expression"])
	assert.EqualValues(t, 15, out["result"])
	assert.Equal(t, true, out["success"])
}

func TestDateTimeTool(t *testing.T) {
	fixed := time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)
	tl := builtin(t, "datetime", WithClock(func() time.Time { return fixed }))

	now := run(t, tl, `{}`)
	assert.Equal(t, "2024-03-05 14:07:09", now["datetime"])
	assert.Equal(t, "UTC", now["timezone"])
	assert.EqualValues(t, fixed.Unix(), now["timestamp"])

	date := run(t, tl, `{"operation":"date"}`)
	assert.Equal(t, "2024-03-05", date["date"])
	assert.EqualValues(t, 3, date["month"])
	assert.Equal(t, "Tuesday", date["weekday"])

	tm := run(t, tl, `{"operation":"time"}`)
	assert.Equal(t, "14:07:09", tm["time"])

	ts := run(t, tl, `{"operation":"timestamp"}`)
	assert.EqualValues(t, fixed.UnixMilli(), ts["timestamp_ms"])

	custom := run(t, tl, `{"format":"%d/%m/%y %A %%"}`)
	assert.Equal(t, "05/03/24 Tuesday %", custom["datetime"])

	_, err := tl.Execute(context.Background(), json.RawMessage(`{"operation":"yesterday"}`))
	assert.ErrorContains(t, err, "unknown operation")

	_, err = tl.Execute(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus"}`))
	assert.ErrorContains(t, err, "unknown timezone")
}

func TestJSONParserTool(t *testing.T) {
	tl := builtin(t, "json_parser")
	doc := `{"data":{"users":[{"name":"ada"},{"name":"linus"}]}}`

	parsed := run(t, tl, `{"json_string":`+quote(doc)+`}`)
	assert.Equal(t, "object", parsed["type"])
	assert.Equal(t, true, parsed["success"])

	extracted := run(t, tl, `{"json_string":`+quote(doc)+`,"path":"data.users[1].name"}`)
	assert.Equal(t, "linus", extracted["value"])

	valid := run(t, tl, `{"json_string":"[1,2]","operation":"validate"}`)
	assert.Equal(t, true, valid["valid"])
	assert.Equal(t, "array", valid["type"])

	invalid := run(t, tl, `{"json_string":"{nope","operation":"validate"}`)
	assert.Equal(t, false, invalid["valid"])

	pretty := run(t, tl, `{"json_string":"{\"a\":{\"b\":1}}","operation":"prettify"}`)
	assert.Contains(t, pretty["formatted"], "\n  \"a\"")

	set := run(t, tl, `{"json_string":`+quote(doc)+`,"operation":"set","path":"data.users[0].name","value":"grace"}`)
	assert.Equal(t, "grace", set["data"].(map[string]any)["data"].(map[string]any)["users"].([]any)[0].(map[string]any)["name"])

	_, err := tl.Execute(context.Background(), json.RawMessage(`{"json_string":`+quote(doc)+`,"path":"data.missing"}`))
	assert.ErrorContains(t, err, "path extraction failed")

	_, err = tl.Execute(context.Background(), json.RawMessage(`{"json_string":"{bad"}`))
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestToGJSONPath(t *testing.T) {
	assert.Equal(t, "data.users.0.name", ToGJSONPath("data.users[0].name"))
	assert.Equal(t, "0.id", ToGJSONPath("[0].id"))
	assert.Equal(t, "plain", ToGJSONPath("plain"))
}

func TestHTTPRequestTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Method", r.Method)
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"echo":         string(body),
			"content_type": r.Header.Get("Content-Type"),
			"token":        r.Header.Get("X-Token"),
		})
	}))
	defer srv.Close()

	tl := builtin(t, "http_request")

	out := run(t, tl, `{"url":"`+srv.URL+`/ok","method":"post","headers":{"X-Token":"t1"},"body":{"k":"v"}}`)
	assert.EqualValues(t, 200, out["status_code"])
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "POST", out["headers"].(map[string]any)["X-Method"])
	body := out["body"].(map[string]any)
	assert.JSONEq(t, `{"k":"v"}`, body["echo"].(string))
	assert.Equal(t, "application/json", body["content_type"])
	assert.Equal(t, "t1", body["token"])

	text := run(t, tl, `{"url":"`+srv.URL+`/ok","method":"PUT","body":"plain"}`)
	assert.Equal(t, "plain", text["body"].(map[string]any)["echo"])

	missing := run(t, tl, `{"url":"`+srv.URL+`/missing"}`)
	assert.EqualValues(t, 404, missing["status_code"])
	assert.Equal(t, false, missing["success"])
}

func TestHTTPRequestTool_BlocksPrivateAddresses(t *testing.T) {
	tl := builtin(t, "http_request")

	for _, u := range []string{"http://169.254.169.254/latest/meta-data", "http://10.0.0.8/"} {
		_, err := tl.Execute(context.Background(), json.RawMessage(`{"url":"`+u+`","timeout":1}`))
		assert.ErrorContains(t, err, "connection blocked", u)
	}

	_, err := tl.Execute(context.Background(), json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "url is required")
}

func TestFileTools(t *testing.T) {
	dir := t.TempDir()
	writer := builtin(t, "file_writer", WithBaseDir(dir))
	reader := builtin(t, "file_reader", WithBaseDir(dir))

	w := run(t, writer, `{"path":"notes/a.txt","content":"hello"}`)
	assert.EqualValues(t, 5, w["bytes_written"])
	assert.Equal(t, "write", w["mode"])

	run(t, writer, `{"path":"notes/a.txt","content":" world","mode":"append"}`)

	data, err := os.ReadFile(filepath.Join(dir, "notes", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	r := run(t, reader, `{"path":"notes/a.txt"}`)
	assert.Equal(t, "hello world", r["content"])
	assert.EqualValues(t, 11, r["size_bytes"])

	partial := run(t, reader, `{"path":"notes/a.txt","max_bytes":5}`)
	assert.Equal(t, "hello", partial["content"])

	_, err = reader.Execute(context.Background(), json.RawMessage(`{"path":"nope.txt"}`))
	assert.ErrorContains(t, err, "file not found")

	_, err = reader.Execute(context.Background(), json.RawMessage(`{"path":"notes"}`))
	assert.ErrorContains(t, err, "not a file")

	_, err = reader.Execute(context.Background(), json.RawMessage(`{"path":"../escape.txt"}`))
	assert.ErrorContains(t, err, "path traversal")

	_, err = writer.Execute(context.Background(), json.RawMessage(`{"path":"/etc/reasona.txt","content":"x"}`))
	assert.ErrorContains(t, err, "outside allowed directory")

	_, err = writer.Execute(context.Background(), json.RawMessage(`{"path":"x.txt","content":"x","mode":"truncate"}`))
	assert.ErrorContains(t, err, "unknown mode")
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
