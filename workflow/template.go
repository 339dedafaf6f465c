package workflow

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Context is the data shared by the stages of one run: the run inputs plus
// the output of every stage that succeeded so far, keyed by stage name.
type Context map[string]any

// Clone returns a shallow copy
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	return maps.Clone(c)
}

// Has reports whether key is set
func (c Context) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Lookup resolves key to its text form. A dotted key whose full name is
// absent is resolved as a JSON path into the value of its first segment,
// so {plan.steps.0} reads from a stage that answered with JSON.
func (c Context) Lookup(key string) (string, bool) {
	if v, ok := c[key]; ok {
		return stringify(v), true
	}
	head, path, found := strings.Cut(key, ".")
	if !found {
		return "", false
	}
	v, ok := c[head]
	if !ok {
		return "", false
	}
	res := gjson.Get(stringify(v), path)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// placeholder matches {key} and {key|default}. Braces around anything else,
// such as JSON in a prompt, are left alone.
var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.\-]*)(?:\|([^{}]*))?\}`)

// Render substitutes {key} placeholders from c. A placeholder with no value
// and no default fails with *MissingContextKeyError.
func Render(tmpl string, c Context) (string, error) {
	var missing string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(tok string) string {
		if missing != "" {
			return tok
		}
		m := placeholder.FindStringSubmatch(tok)
		if v, ok := c.Lookup(m[1]); ok {
			return v
		}
		if strings.Contains(tok, "|") {
			return m[2]
		}
		missing = m[1]
		return tok
	})
	if missing != "" {
		return "", &MissingContextKeyError{Key: missing}
	}
	return out, nil
}

// References returns the keys a template reads, in first-use order.
func References(tmpl string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		key, _, _ := strings.Cut(m[1], ".")
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any, []string, map[string]string:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}
