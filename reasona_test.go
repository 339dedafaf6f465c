package reasona

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/muthuks2020/reasona/pkg/llm/provider"
	"github.com/muthuks2020/reasona/synapse"
	"github.com/muthuks2020/reasona/workflow"
)

const projectYAML = `
name: team
default_model: mock/echo
temperature: 0.2
agents_dir: agents
agents:
  - name: reviewer
    instructions: Review drafts.
    capabilities: [review]
  - file: extra/editor.md
    model: mock/override
    capabilities: [edit]
workflows:
  publish:
    description: Draft then review
    stages:
      - name: draft
        agent: writer
        prompt: "Draft: {input}"
      - name: review
        agent: reviewer
        prompt: "Review: {draft}"
synapse:
  max_concurrency: 2
primary: writer
`

const writerMD = `---
name: writer
model: mock/writer
---
You write.
`

const editorMD = `---
tools: [calculator]
---
You edit.
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeProject lays out a project directory and returns the project file path
func writeProject(t *testing.T, project string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "agents", "writer.md"), writerMD)
	writeFile(t, filepath.Join(dir, "extra", "editor.md"), editorMD)
	path := filepath.Join(dir, "reasona.yaml")
	writeFile(t, path, project)
	return path
}

func loadProject(t *testing.T, project string, opts ...Option) *Project {
	t.Helper()
	opts = append([]Option{WithLogger(hclog.NewNullLogger())}, opts...)
	p, err := Load(writeProject(t, project), opts...)
	if err != nil {
		t.Fatalf("load project: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestLoad(t *testing.T) {
	p := loadProject(t, projectYAML)

	if p.Name != "team" {
		t.Errorf("expected name team, got %q", p.Name)
	}
	if got, want := p.Agents(), []string{"writer", "reviewer", "editor"}; !slices.Equal(got, want) {
		t.Errorf("agents = %v, want %v", got, want)
	}

	writer, _ := p.Agent("writer")
	if writer.Model() != "mock/writer" {
		t.Errorf("frontmatter model lost: %s", writer.Model())
	}
	reviewer, _ := p.Agent("reviewer")
	if reviewer.Model() != "mock/echo" {
		t.Errorf("default model not applied: %s", reviewer.Model())
	}
	if reviewer.Temperature() != 0.2 {
		t.Errorf("default temperature not applied: %v", reviewer.Temperature())
	}
	if reviewer.Instructions() != "Review drafts." {
		t.Errorf("unexpected instructions %q", reviewer.Instructions())
	}
	editor, _ := p.Agent("editor")
	if editor.Model() != "mock/override" {
		t.Errorf("inline model should override the file: %s", editor.Model())
	}
	if len(editor.Tools()) != 1 || editor.Tools()[0].Name() != "calculator" {
		t.Errorf("editor tools not loaded: %v", editor.Tools())
	}

	if got := p.Workflows(); !slices.Equal(got, []string{"publish"}) {
		t.Errorf("workflows = %v", got)
	}
	wf, _ := p.Workflow("publish")
	if wf.Description() != "Draft then review" {
		t.Errorf("unexpected description %q", wf.Description())
	}

	if p.Synapse.Len() != 3 {
		t.Errorf("expected 3 connected agents, got %d", p.Synapse.Len())
	}
	caps, err := p.Synapse.Capabilities("reviewer")
	if err != nil || !slices.Equal(caps, []string{"review"}) {
		t.Errorf("capabilities = %v, %v", caps, err)
	}
	caps, err = p.Synapse.Capabilities("editor")
	if err != nil || !slices.Equal(caps, []string{"edit"}) {
		t.Errorf("file agent capabilities = %v, %v", caps, err)
	}
}

func TestRunAndThink(t *testing.T) {
	p := loadProject(t, projectYAML)
	ctx := context.Background()

	res, err := p.Run(ctx, "publish", map[string]any{"input": "go"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Output != "Review: Draft: go" {
		t.Errorf("unexpected output %q", res.Output)
	}

	if _, err := p.Run(ctx, "nope", nil); !errors.Is(err, ErrUnknownWorkflow) {
		t.Errorf("expected ErrUnknownWorkflow, got %v", err)
	}

	out, err := p.Think(ctx, "reviewer", "hi")
	if err != nil || out != "hi" {
		t.Errorf("think = %q, %v", out, err)
	}
	if _, err := p.Think(ctx, "ghost", "hi"); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("expected ErrUnknownAgent, got %v", err)
	}

	reply, err := p.Synapse.Send(ctx, "writer", "reviewer", "ping", synapse.TypeRequest)
	if err != nil || reply != "ping" {
		t.Errorf("synapse send = %q, %v", reply, err)
	}
}

func TestWithProvider(t *testing.T) {
	mock := provider.NewMockProvider("scripted")
	mock.AddText("scripted answer")
	p := loadProject(t, projectYAML, WithProvider(mock))

	out, err := p.Think(context.Background(), "editor", "anything")
	if err != nil {
		t.Fatal(err)
	}
	if out != "scripted answer" {
		t.Errorf("provider override ignored: %q", out)
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", mock.CallCount())
	}
}

func TestServer(t *testing.T) {
	p := loadProject(t, projectYAML)
	srv := httptest.NewServer(p.Server())
	defer srv.Close()

	for path, want := range map[string]string{
		"/v1/agent":        `"name":"writer"`,
		"/agents":          `"name":"editor"`,
		"/workflows":       `"name":"publish"`,
		"/agents/reviewer": `"model":"mock/echo"`,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		var body strings.Builder
		_, _ = io.Copy(&body, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
		if !strings.Contains(body.String(), want) {
			t.Errorf("GET %s: body %s missing %s", path, body.String(), want)
		}
	}
}

func TestFileRunStore(t *testing.T) {
	path := writeProject(t, projectYAML+`
workflow:
  store: file
  dir: runs
`)
	p, err := Load(path, WithLogger(hclog.NewNullLogger()))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	res, err := p.Run(context.Background(), "publish", map[string]any{"input": "go"})
	if err != nil {
		t.Fatal(err)
	}
	runFile := filepath.Join(filepath.Dir(path), "runs", "publish", res.RunID+".json")
	if _, err := os.Stat(runFile); err != nil {
		t.Errorf("expected run file relative to the project: %v", err)
	}
}

func TestRedisStores(t *testing.T) {
	mr := miniredis.RunT(t)
	p := loadProject(t, projectYAML+`
session:
  store: redis
  redis_url: redis://`+mr.Addr()+`
workflow:
  store: redis
`)
	ctx := context.Background()

	if _, err := p.Think(ctx, "reviewer", "remember me"); err != nil {
		t.Fatal(err)
	}
	reviewer, _ := p.Agent("reviewer")
	if !mr.Exists("reasona:history:messages:" + reviewer.ConversationID()) {
		t.Errorf("expected history in redis, keys: %v", mr.Keys())
	}

	res, err := p.Run(ctx, "publish", map[string]any{"input": "go"})
	if err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("reasona:workflow:run:" + res.RunID) {
		t.Errorf("expected run record in redis, keys: %v", mr.Keys())
	}

	rec := httptest.NewRecorder()
	p.Server().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !strings.Contains(rec.Body.String(), `"redis"`) {
		t.Errorf("expected redis health check, got %s", rec.Body.String())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		project string
		check   func(error) bool
	}{
		{
			name:    "invalid yaml",
			project: "agents: [[[",
			check:   func(err error) bool { return strings.Contains(err.Error(), "failed to parse config") },
		},
		{
			name:    "duplicate agent",
			project: "agents_dir: agents\nagents:\n  - name: writer\n",
			check:   func(err error) bool { return errors.Is(err, ErrDuplicateAgent) },
		},
		{
			name:    "unknown primary",
			project: "agents: [{name: a}]\nprimary: b\n",
			check:   func(err error) bool { return errors.Is(err, ErrUnknownAgent) },
		},
		{
			name:    "unknown workflow agent",
			project: "agents: [{name: a}]\nworkflows:\n  w:\n    stages: [{name: s, agent: ghost}]\n",
			check:   func(err error) bool { return strings.Contains(err.Error(), `unknown agent "ghost"`) },
		},
		{
			name:    "invalid condition",
			project: "agents: [{name: a}]\nworkflows:\n  w:\n    stages: [{name: s, agent: a, condition: sometimes}]\n",
			check:   func(err error) bool { return errors.Is(err, workflow.ErrInvalidConfig) },
		},
		{
			name:    "unknown synapse agent",
			project: "agents: [{name: a}]\nsynapse:\n  agents: [b]\n",
			check:   func(err error) bool { return errors.Is(err, ErrUnknownAgent) },
		},
		{
			name:    "unknown tool",
			project: "agents: [{name: a, tools: [teleport]}]\n",
			check:   func(err error) bool { return strings.Contains(err.Error(), "teleport") },
		},
		{
			name:    "bad session store",
			project: "session:\n  store: etcd\n",
			check:   func(err error) bool { return strings.Contains(err.Error(), "invalid config") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeProject(t, tt.project), WithLogger(hclog.NewNullLogger()))
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	if _, err := Load("/nonexistent/reasona.yaml"); err == nil || !strings.Contains(err.Error(), "failed to read config") {
		t.Errorf("expected read error, got %v", err)
	}
}

type mapReader map[string]string

func (m mapReader) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(data), nil
}

func TestConfigLoader(t *testing.T) {
	loader := NewConfigLoader(mapReader{
		"/p/app.json":  `{"name": "json-app", "agents": [{"name": "a"}], "server": {"port": 9000}}`,
		"/p/bare.yaml": "agents: [{name: a}]\n",
	})

	pc, err := loader.LoadConfig("/p/app.json")
	if err != nil {
		t.Fatal(err)
	}
	if pc.Name != "json-app" || len(pc.Agents) != 1 || pc.Server.Port != 9000 {
		t.Errorf("unexpected config %+v", pc)
	}

	pc, err = loader.LoadConfig("/p/bare.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if pc.Name != "bare" {
		t.Errorf("name should default to the file stem, got %q", pc.Name)
	}
	if pc.DefaultModel == "" || pc.Server.Port == 0 {
		t.Error("defaults not applied")
	}
}
