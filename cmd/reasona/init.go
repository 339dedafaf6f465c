package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const projectTemplate = `# Reasona project
name: %s
default_model: openai/gpt-4o-mini
log_level: info

providers:
  openai: {}     # api_key from OPENAI_API_KEY
  anthropic: {}  # api_key from ANTHROPIC_API_KEY

server:
  host: 0.0.0.0
  port: 8000

agents_dir: agents
agents:
  - name: reviewer
    instructions: Review the draft you are given and suggest concrete improvements.
    capabilities: [review]

workflows:
  draft-review:
    description: Draft an answer, then review it
    stages:
      - name: draft
        agent: assistant
        prompt: "{input}"
      - name: review
        agent: reviewer
        prompt: "Review this draft:\n\n{draft}"

primary: assistant
`

const agentTemplate = `---
name: assistant
tools: [calculator, datetime]
temperature: 0.7
---
You are a helpful AI assistant created with Reasona.
You can perform calculations and tell the current time.
`

const envTemplate = `# Copy to .env and fill in your API keys
OPENAI_API_KEY=
ANTHROPIC_API_KEY=
GOOGLE_API_KEY=
`

const gitignoreTemplate = `.env
runs/
sessions/
`

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a new project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "my-agent"
			if len(args) == 1 {
				dir = args[0]
			}
			if err := scaffold(dir, force); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created project in %s\n\n", dir)
			fmt.Fprintf(out, "  cd %s\n  cp .env.example .env\n  reasona chat reasona.yaml\n", dir)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")
	return cmd
}

func scaffold(dir string, force bool) error {
	name := filepath.Base(filepath.Clean(dir))
	files := []struct {
		path    string
		content string
	}{
		{"reasona.yaml", fmt.Sprintf(projectTemplate, name)},
		{filepath.Join("agents", "assistant.md"), agentTemplate},
		{".env.example", envTemplate},
		{".gitignore", gitignoreTemplate},
	}

	if !force {
		for _, f := range files {
			path := filepath.Join(dir, f.path)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
	}

	for _, f := range files {
		path := filepath.Join(dir, f.path)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(f.content), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
