// Package agent provides the Agent interface and the Conductor, the
// LLM-backed agent that Synapse and Workflow invoke.
//
// # Basic Usage
//
// Any type with Name, Think and Stream is an Agent. Plain functions can be
// adapted with NewFunc:
//
//	upper := agent.NewFunc("upper", func(ctx context.Context, in string) (string, error) {
//	    return strings.ToUpper(in), nil
//	})
//
// # Conductors
//
// A Conductor wraps a model, a system prompt and a set of tools:
//
//	c, err := agent.NewConductor("researcher",
//	    agent.WithModel("anthropic/claude-3-5-sonnet-latest"),
//	    agent.WithInstructions("You research topics thoroughly."),
//	    agent.WithTools(tool.Builtins()...),
//	)
//	answer, err := c.Think(ctx, "What is the boiling point of water at 2000m?")
//
// Think runs the tool loop until the model answers in text. Turns on one
// Conductor never interleave; concurrent callers wait for the running turn.
//
// # Markdown Agents
//
// Conductors can be declared as markdown files with YAML frontmatter:
//
//	---
//	name: researcher
//	model: openai/gpt-4o
//	temperature: 0.3
//	tools: [calculator, datetime]
//	---
//	You research topics thoroughly.
//
// and loaded with LoadMarkdown or LoadDir.
package agent
