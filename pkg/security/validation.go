package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)
	fileNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// MaxFileNameLength bounds names accepted by ValidateFileName
const MaxFileNameLength = 200

// ValidateFilePath rejects paths with traversal, null bytes or shell
// metacharacters.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("null byte detected in file path")
	}
	for _, part := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' }) {
		if part == ".." {
			return fmt.Errorf("path traversal detected in file path")
		}
	}
	for _, s := range []string{"\n", "\r", "|", "&", ";", "`", "$"} {
		if strings.Contains(path, s) {
			return fmt.Errorf("suspicious character detected in file path")
		}
	}
	return nil
}

// SanitizeFilePath resolves path against baseDir and rejects anything that
// lands outside it.
func SanitizeFilePath(path string, baseDir string) (string, error) {
	cleaned := filepath.Clean(path)
	if baseDir == "" {
		return cleaned, nil
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}

	absPath := cleaned
	if !filepath.IsAbs(cleaned) {
		absPath = filepath.Join(absBase, cleaned)
	}
	absPath = filepath.Clean(absPath)

	if absPath != absBase && !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path is outside allowed directory")
	}
	return absPath, nil
}

// ValidateToolName checks if a tool name is valid and safe
func ValidateToolName(name string) error {
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("tool name too long")
	}
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("invalid tool name: must contain only alphanumeric, underscore, hyphen, and colon")
	}
	return nil
}

// ValidateFileName checks that an identifier such as a run ID, workflow name
// or conversation ID can be used as a single path element.
func ValidateFileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name cannot be empty")
	case len(name) > MaxFileNameLength:
		return fmt.Errorf("name too long (max %d characters)", MaxFileNameLength)
	case name == "." || name == ".." || strings.Contains(name, ".."):
		return fmt.Errorf("path traversal detected in name %q", name)
	case !fileNamePattern.MatchString(name):
		return fmt.Errorf("name %q may only contain letters, digits, '.', '_' and '-'", name)
	}
	return nil
}
