package workflow

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/tidwall/gjson"
	"github.com/tidwall/match"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// ParseCondition builds a Condition from its declarative form:
//
//	always                 run unconditionally
//	never                  always skip
//	has:<key>              key is set
//	missing:<key>          key is not set
//	contains:<key>:<text>  the value of key contains text
//	match:<key>:<pattern>  the value of key matches a glob (* and ?)
//	expr:<expression>      a boolean expression over the context keys
//
// An empty string is the same as always and yields a nil Condition.
func ParseCondition(spec string) (Condition, error) {
	kind, arg, _ := strings.Cut(strings.TrimSpace(spec), ":")
	switch kind {
	case "", "always":
		return nil, nil
	case "never":
		return func(Context) bool { return false }, nil
	case "has":
		if arg == "" {
			return nil, fmt.Errorf("%w: has requires a key", ErrInvalidConfig)
		}
		return func(c Context) bool { return c.Has(arg) }, nil
	case "missing":
		if arg == "" {
			return nil, fmt.Errorf("%w: missing requires a key", ErrInvalidConfig)
		}
		return func(c Context) bool { return !c.Has(arg) }, nil
	case "contains", "match":
		key, text, ok := strings.Cut(arg, ":")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %s requires <key>:<text>", ErrInvalidConfig, kind)
		}
		test := strings.Contains
		if kind == "match" {
			test = match.Match
		}
		return func(c Context) bool {
			v, ok := c.Lookup(key)
			return ok && test(v, text)
		}, nil
	case "expr":
		return exprCondition(arg)
	default:
		return nil, fmt.Errorf("%w: unknown condition %q", ErrInvalidConfig, kind)
	}
}

func exprCondition(src string) (Condition, error) {
	program, err := expr.Compile(src, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: compile expression: %v", ErrInvalidConfig, err)
	}
	return func(c Context) bool {
		out, err := expr.Run(program, map[string]any(c))
		if err != nil {
			return false
		}
		b, _ := out.(bool)
		return b
	}, nil
}

// ParseTransform builds a Transform from its declarative form:
//
//	trim, upper, lower   whitespace and case
//	first_line           the first non-empty line
//	json                 the first JSON value in the output, compacted
//	json:<path>          a value selected from JSON output by a gjson path
//	pretty               the first JSON value, indented
//	wrap:<key>           a JSON object holding the output under key
func ParseTransform(spec string) (Transform, error) {
	kind, arg, _ := strings.Cut(strings.TrimSpace(spec), ":")
	switch kind {
	case "":
		return nil, nil
	case "trim":
		return func(s string) (string, error) { return strings.TrimSpace(s), nil }, nil
	case "upper":
		return func(s string) (string, error) { return strings.ToUpper(s), nil }, nil
	case "lower":
		return func(s string) (string, error) { return strings.ToLower(s), nil }, nil
	case "first_line":
		return firstLine, nil
	case "json":
		if arg == "" {
			return func(s string) (string, error) {
				raw, err := extractJSON(s)
				if err != nil {
					return "", err
				}
				return string(pretty.Ugly([]byte(raw))), nil
			}, nil
		}
		return func(s string) (string, error) {
			raw, err := extractJSON(s)
			if err != nil {
				return "", err
			}
			res := gjson.Get(raw, arg)
			if !res.Exists() {
				return "", fmt.Errorf("json path %q not found", arg)
			}
			return res.String(), nil
		}, nil
	case "pretty":
		return func(s string) (string, error) {
			raw, err := extractJSON(s)
			if err != nil {
				return "", err
			}
			return strings.TrimRight(string(pretty.Pretty([]byte(raw))), "\n"), nil
		}, nil
	case "wrap":
		if arg == "" {
			return nil, fmt.Errorf("%w: wrap requires a key", ErrInvalidConfig)
		}
		return func(s string) (string, error) { return sjson.Set("{}", arg, s) }, nil
	default:
		return nil, fmt.Errorf("%w: unknown transform %q", ErrInvalidConfig, kind)
	}
}

// Chain applies transforms left to right. Nil entries are ignored.
func Chain(ts ...Transform) Transform {
	return func(s string) (string, error) {
		for _, t := range ts {
			if t == nil {
				continue
			}
			var err error
			if s, err = t(s); err != nil {
				return "", err
			}
		}
		return s, nil
	}
}

// ParseTransforms parses each spec and chains the results.
func ParseTransforms(specs []string) (Transform, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	ts := make([]Transform, 0, len(specs))
	for _, spec := range specs {
		t, err := ParseTransform(spec)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	return Chain(ts...), nil
}

func firstLine(s string) (string, error) {
	for line := range strings.Lines(s) {
		if t := strings.TrimSpace(line); t != "" {
			return t, nil
		}
	}
	return "", nil
}

// maxJSONStarts bounds how many opening brackets extractJSON tries
const maxJSONStarts = 32

// extractJSON returns the first valid JSON object or array in s. Models
// often wrap JSON in prose or code fences.
func extractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	if gjson.Valid(s) {
		return s, nil
	}
	tried := 0
	for i := 0; i < len(s) && tried < maxJSONStarts; i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		tried++
		end := matchBracket(s, i)
		if end < 0 {
			continue
		}
		if cand := s[i : end+1]; gjson.Valid(cand) {
			return cand, nil
		}
	}
	return "", fmt.Errorf("no JSON value in output")
}

// matchBracket returns the index of the bracket closing the one at start,
// skipping brackets inside JSON strings, or -1.
func matchBracket(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
