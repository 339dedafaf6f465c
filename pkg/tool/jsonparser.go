package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

type jsonParserArgs struct {
	JSONString string          `json:"json_string" jsonschema:"required,description=JSON document to parse"`
	Path       string          `json:"path,omitempty" jsonschema:"description=Path to extract (e.g. data.users[0].name)"`
	Operation  string          `json:"operation,omitempty" jsonschema:"description=Operation to perform,enum=parse,enum=validate,enum=prettify,enum=set"`
	Value      json.RawMessage `json:"value,omitempty" jsonschema:"description=Value to write at path for the set operation"`
}

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// ToGJSONPath converts a dotted path with [n] indexes into gjson syntax.
func ToGJSONPath(path string) string {
	p := indexPattern.ReplaceAllString(path, ".$1")
	return strings.TrimPrefix(p, ".")
}

func jsonKind(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Null:
		return "null"
	}
	if r.IsArray() {
		return "array"
	}
	return "object"
}

func newJSONParser() Tool {
	return MustFunctionTool("json_parser", "Parse, validate, and extract data from JSON",
		func(_ context.Context, args jsonParserArgs) (any, error) {
			doc := args.JSONString
			valid := gjson.Valid(doc)

			switch args.Operation {
			case "validate":
				if !valid {
					return map[string]any{"valid": false}, nil
				}
				return map[string]any{"valid": true, "type": jsonKind(gjson.Parse(doc))}, nil
			case "prettify":
				if !valid {
					return nil, fmt.Errorf("invalid JSON")
				}
				return map[string]any{
					"formatted": strings.TrimSuffix(string(pretty.PrettyOptions([]byte(doc), &pretty.Options{Indent: "  ", Width: 80})), "\n"),
					"success":   true,
				}, nil
			case "set":
				if !valid {
					return nil, fmt.Errorf("invalid JSON")
				}
				if args.Path == "" {
					return nil, fmt.Errorf("set requires a path")
				}
				value := string(args.Value)
				if value == "" {
					value = "null"
				}
				updated, err := sjson.SetRaw(doc, ToGJSONPath(args.Path), value)
				if err != nil {
					return nil, fmt.Errorf("set failed: %w", err)
				}
				return map[string]any{"data": json.RawMessage(updated), "success": true}, nil
			case "", "parse":
			default:
				return nil, fmt.Errorf("unknown operation: %s", args.Operation)
			}

			if !valid {
				return nil, fmt.Errorf("invalid JSON")
			}
			if args.Path != "" {
				r := gjson.Get(doc, ToGJSONPath(args.Path))
				if !r.Exists() {
					return nil, fmt.Errorf("path extraction failed: %s not found", args.Path)
				}
				return map[string]any{
					"path":    args.Path,
					"value":   json.RawMessage(r.Raw),
					"success": true,
				}, nil
			}
			root := gjson.Parse(doc)
			return map[string]any{
				"data":    json.RawMessage(root.Raw),
				"type":    jsonKind(root),
				"success": true,
			}, nil
		})
}
