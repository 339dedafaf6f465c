package agent

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/muthuks2020/reasona/pkg/security"
	"github.com/muthuks2020/reasona/pkg/tool"
)

var ErrInvalidDefinition = errors.New("invalid agent definition")

var frontmatter = security.NewSafeYAMLParser(security.FrontmatterLimits())

// Definition is the frontmatter of a markdown agent file.
type Definition struct {
	Name         string   `yaml:"name"`
	Model        string   `yaml:"model,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	MaxTokens    int      `yaml:"max_tokens,omitempty"`
	Tools        []string `yaml:"tools,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	Instructions string   `yaml:"-"`
}

// ParseDefinition splits a markdown agent file into frontmatter and body.
// Files without a leading "---" are all body.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	content := string(bytes.TrimPrefix(data, []byte("\ufeff")))

	if !strings.HasPrefix(content, "---") {
		def.Instructions = strings.TrimSpace(content)
		return def, nil
	}

	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return def, fmt.Errorf("%w: unterminated frontmatter", ErrInvalidDefinition)
	}
	if err := frontmatter.UnmarshalYAML([]byte(parts[1]), &def); err != nil {
		return def, fmt.Errorf("%w: frontmatter: %v", ErrInvalidDefinition, err)
	}
	def.Instructions = strings.TrimSpace(parts[2])
	return def, nil
}

// Options converts the definition into conductor options. Tool names must
// be builtins.
func (d Definition) Options(builtinOpts ...tool.BuiltinOption) ([]Option, error) {
	var opts []Option
	if d.Model != "" {
		opts = append(opts, WithModel(d.Model))
	}
	if d.Temperature != nil {
		opts = append(opts, WithTemperature(*d.Temperature))
	}
	if d.MaxTokens != 0 {
		opts = append(opts, WithMaxTokens(d.MaxTokens))
	}
	if d.Instructions != "" {
		opts = append(opts, WithInstructions(d.Instructions))
	}
	if d.Endpoint != "" {
		opts = append(opts, WithEndpoint(d.Endpoint))
	}
	for _, name := range d.Tools {
		t, ok := tool.Builtin(name, builtinOpts...)
		if !ok {
			return nil, fmt.Errorf("%w: %s", tool.ErrUnknownTool, name)
		}
		opts = append(opts, WithTools(t))
	}
	return opts, nil
}

// ParseMarkdown builds a Conductor from markdown with YAML frontmatter. The
// frontmatter name wins over name; opts are applied after the file settings.
func ParseMarkdown(name string, data []byte, opts ...Option) (*Conductor, error) {
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	if def.Name != "" {
		name = def.Name
	}
	defOpts, err := def.Options()
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}
	return NewConductor(name, append(defOpts, opts...)...)
}

// LoadMarkdown reads an agent definition file. The name defaults to the
// file stem.
func LoadMarkdown(path string, opts ...Option) (*Conductor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent file: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	c, err := ParseMarkdown(stem, data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// LoadDir loads every *.md file in dir, sorted by file name.
func LoadDir(dir string, opts ...Option) ([]*Conductor, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	out := make([]*Conductor, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		c, err := LoadMarkdown(p, opts...)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[c.Name()]; ok {
			return nil, fmt.Errorf("%w: agent %q defined in both %s and %s", ErrInvalidDefinition, c.Name(), prev, p)
		}
		seen[c.Name()] = p
		out = append(out, c)
	}
	return out, nil
}
