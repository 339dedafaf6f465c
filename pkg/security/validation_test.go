package security

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"notes.txt", false},
		{"dir/sub/file.md", false},
		{"..data/file", false},
		{"", true},
		{"../etc/passwd", true},
		{"a/../../b", true},
		{"file\x00.txt", true},
		{"file;rm -rf", true},
		{"$HOME/x", true},
	}

	for _, tt := range tests {
		err := ValidateFilePath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateFilePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

func TestSanitizeFilePath(t *testing.T) {
	base := t.TempDir()

	got, err := SanitizeFilePath("a/b.txt", base)
	if err != nil {
		t.Fatalf("SanitizeFilePath() error = %v", err)
	}
	absBase, _ := filepath.Abs(base)
	if want := filepath.Join(absBase, "a", "b.txt"); got != want {
		t.Errorf("SanitizeFilePath() = %q, want %q", got, want)
	}

	if _, err := SanitizeFilePath("/etc/passwd", base); err == nil {
		t.Error("absolute path outside base should be rejected")
	}
	if _, err := SanitizeFilePath(filepath.Join(base, "inside.txt"), base); err != nil {
		t.Errorf("absolute path inside base rejected: %v", err)
	}
}

func TestValidateToolName(t *testing.T) {
	valid := []string{"calculator", "http_request", "ns:search", "web-search"}
	for _, name := range valid {
		if err := ValidateToolName(name); err != nil {
			t.Errorf("ValidateToolName(%q) = %v", name, err)
		}
	}

	invalid := []string{"", "has space", "semi;colon", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateToolName(name); err == nil {
			t.Errorf("ValidateToolName(%q) expected error", name)
		}
	}
}

func TestValidateFileName(t *testing.T) {
	for _, name := range []string{"publish", "run-1", "6f1c2e4a-9b7d-4c1e-8f00-123456789abc", "v1.2_final"} {
		if err := ValidateFileName(name); err != nil {
			t.Errorf("ValidateFileName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", ".", "..", "../wf", "a/b", `a\b`, "a..b", "has space", strings.Repeat("x", MaxFileNameLength+1)} {
		if err := ValidateFileName(name); err == nil {
			t.Errorf("ValidateFileName(%q) expected error", name)
		}
	}
}
