package tool

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/muthuks2020/reasona/pkg/security"
)

type fileReaderArgs struct {
	Path     string `json:"path" jsonschema:"required,description=Path to the file to read"`
	MaxBytes int64  `json:"max_bytes,omitempty" jsonschema:"description=Maximum bytes to read"`
}

type fileWriterArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Path to the file to write"`
	Content string `json:"content" jsonschema:"required,description=Content to write"`
	Mode    string `json:"mode,omitempty" jsonschema:"description=write (overwrite) or append,enum=write,enum=append"`
}

// resolvePath confines path to baseDir.
func resolvePath(baseDir, path string) (string, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return "", err
	}
	return security.SanitizeFilePath(path, baseDir)
}

func newFileReader(baseDir string) Tool {
	return MustFunctionTool("file_reader", "Read content from a file",
		func(_ context.Context, args fileReaderArgs) (any, error) {
			path, err := resolvePath(baseDir, args.Path)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(path)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("file not found: %s", args.Path)
				}
				return nil, err
			}
			if !info.Mode().IsRegular() {
				return nil, fmt.Errorf("not a file: %s", args.Path)
			}

			f, err := os.Open(path) // #nosec G304 - confined to baseDir
			if err != nil {
				return nil, err
			}
			defer func() { _ = f.Close() }()

			var r io.Reader = f
			if args.MaxBytes > 0 {
				r = io.LimitReader(f, args.MaxBytes)
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return nil, err
			}
			if !utf8.Valid(data) {
				return nil, fmt.Errorf("file is not valid UTF-8 text: %s", args.Path)
			}

			return map[string]any{
				"path":       path,
				"content":    string(data),
				"size_bytes": info.Size(),
				"success":    true,
			}, nil
		})
}

func newFileWriter(baseDir string) Tool {
	return MustFunctionTool("file_writer", "Write content to a file",
		func(_ context.Context, args fileWriterArgs) (any, error) {
			path, err := resolvePath(baseDir, args.Path)
			if err != nil {
				return nil, err
			}
			mode := args.Mode
			if mode == "" {
				mode = "write"
			}
			flags := os.O_CREATE | os.O_WRONLY
			switch mode {
			case "write":
				flags |= os.O_TRUNC
			case "append":
				flags |= os.O_APPEND
			default:
				return nil, fmt.Errorf("unknown mode: %s", mode)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return nil, err
			}
			f, err := os.OpenFile(path, flags, 0o600) // #nosec G304 - confined to baseDir
			if err != nil {
				return nil, err
			}
			n, err := f.WriteString(args.Content)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return nil, err
			}

			return map[string]any{
				"path":          path,
				"bytes_written": n,
				"mode":          mode,
				"success":       true,
			}, nil
		})
}
