package security

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ErrYAMLLimit is returned when a document exceeds a YAMLLimits bound
var ErrYAMLLimit = errors.New("yaml limit exceeded")

// YAMLLimits bounds what a YAML document may cost to decode. Aliases are
// counted on every expansion, so alias bombs hit MaxNodes quickly.
type YAMLLimits struct {
	MaxFileSize  int64
	MaxDepth     int
	MaxNodes     int
	MaxAliases   int // 0 rejects aliases
	MaxKeyLength int
	MaxValueSize int64

	// KnownFields rejects keys that match no struct field
	KnownFields bool
}

// DefaultYAMLLimits suits project and configuration files
func DefaultYAMLLimits() YAMLLimits {
	return YAMLLimits{
		MaxFileSize:  1 << 20,
		MaxDepth:     32,
		MaxNodes:     20000,
		MaxAliases:   100,
		MaxKeyLength: 256,
		MaxValueSize: 256 << 10,
	}
}

// FrontmatterLimits suits the frontmatter block of a markdown agent file
func FrontmatterLimits() YAMLLimits {
	return YAMLLimits{
		MaxFileSize:  64 << 10,
		MaxDepth:     8,
		MaxNodes:     1024,
		MaxKeyLength: 128,
		MaxValueSize: 64 << 10,
	}
}

// SafeYAMLParser decodes YAML after checking it against limits
type SafeYAMLParser struct {
	limits YAMLLimits
}

func NewSafeYAMLParser(limits YAMLLimits) *SafeYAMLParser {
	return &SafeYAMLParser{limits: limits}
}

// UnmarshalYAML checks data against the limits, then decodes it into v.
// An empty document leaves v untouched.
func (p *SafeYAMLParser) UnmarshalYAML(data []byte, v any) error {
	if int64(len(data)) > p.limits.MaxFileSize {
		return fmt.Errorf("%w: document is %d bytes, max %d", ErrYAMLLimit, len(data), p.limits.MaxFileSize)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if root.Kind == 0 {
		return nil
	}

	w := yamlWalker{limits: p.limits}
	if err := w.walk(&root, 0); err != nil {
		return err
	}

	if !p.limits.KnownFields {
		return root.Decode(v)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Decode reads at most MaxFileSize+1 bytes from r and unmarshals them
func (p *SafeYAMLParser) Decode(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, p.limits.MaxFileSize+1))
	if err != nil {
		return fmt.Errorf("read yaml: %w", err)
	}
	return p.UnmarshalYAML(data, v)
}

type yamlWalker struct {
	limits  YAMLLimits
	nodes   int
	aliases int
}

func (w *yamlWalker) walk(n *yaml.Node, depth int) error {
	if depth > w.limits.MaxDepth {
		return fmt.Errorf("%w: nesting deeper than %d at line %d", ErrYAMLLimit, w.limits.MaxDepth, n.Line)
	}
	w.nodes++
	if w.nodes > w.limits.MaxNodes {
		return fmt.Errorf("%w: more than %d nodes", ErrYAMLLimit, w.limits.MaxNodes)
	}

	switch n.Kind {
	case yaml.DocumentNode:
		for _, child := range n.Content {
			if err := w.walk(child, depth); err != nil {
				return err
			}
		}
		return nil

	case yaml.AliasNode:
		w.aliases++
		if w.aliases > w.limits.MaxAliases {
			return fmt.Errorf("%w: more than %d aliases", ErrYAMLLimit, w.limits.MaxAliases)
		}
		if n.Alias == nil {
			return nil
		}
		return w.walk(n.Alias, depth+1)

	case yaml.ScalarNode:
		if int64(len(n.Value)) > w.limits.MaxValueSize {
			return fmt.Errorf("%w: value of %d bytes at line %d", ErrYAMLLimit, len(n.Value), n.Line)
		}
		return nil

	case yaml.MappingNode:
		for i := 0; i < len(n.Content); i += 2 {
			if key := n.Content[i]; len(key.Value) > w.limits.MaxKeyLength {
				return fmt.Errorf("%w: key of %d bytes at line %d", ErrYAMLLimit, len(key.Value), key.Line)
			}
		}
	}

	for _, child := range n.Content {
		if err := w.walk(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
