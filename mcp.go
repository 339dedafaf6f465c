package reasona

import (
	"context"
	"fmt"

	"github.com/muthuks2020/reasona/pkg/mcp"
	"github.com/muthuks2020/reasona/pkg/security"
	"github.com/muthuks2020/reasona/pkg/tool"
	"github.com/muthuks2020/reasona/workflow"
)

// Prefixes of the generated MCP tool names
const (
	AskToolPrefix = "ask_"
	RunToolPrefix = "run_"
)

type askArgs struct {
	Input string `json:"input" jsonschema:"required,description=Message for the agent"`
}

type runArgs struct {
	Input  string         `json:"input,omitempty" jsonschema:"description=Shorthand for inputs.input"`
	Inputs map[string]any `json:"inputs,omitempty" jsonschema:"description=Workflow inputs"`
}

// MCPServer publishes the project over MCP. Tools are the builtins plus
// ask_<agent> and run_<workflow>; resources describe the project, its
// agents and its workflows; each agent's instructions are a prompt.
func (p *Project) MCPServer(opts ...mcp.ServerOption) (*mcp.Server, error) {
	reg, err := tool.NewRegistry(tool.Builtins()...)
	if err != nil {
		return nil, err
	}
	catalog := mcp.NewCatalog()

	project := mcp.Resource{
		URI:         "reasona://project",
		Name:        p.Name,
		Description: "Agents and workflows of the project",
		Handler: func(context.Context) (any, error) {
			return map[string]any{
				"name":      p.Name,
				"version":   Version,
				"agents":    p.Agents(),
				"workflows": p.Workflows(),
				"tools":     reg.Names(),
			}, nil
		},
	}
	if err := catalog.AddResources(project); err != nil {
		return nil, err
	}

	for _, c := range p.agents {
		name := AskToolPrefix + c.Name()
		if err := security.ValidateToolName(name); err != nil {
			p.logger.Warn("agent not published over MCP", "agent", c.Name(), "error", err)
			continue
		}
		ask, err := tool.NewFunctionTool(name, "Ask the "+c.Name()+" agent",
			func(ctx context.Context, in askArgs) (any, error) {
				return c.Think(ctx, in.Input)
			})
		if err != nil {
			return nil, err
		}
		if err := reg.Register(ask); err != nil {
			return nil, err
		}

		err = catalog.AddResources(mcp.Resource{
			URI:         "reasona://agents/" + c.Name(),
			Name:        c.Name(),
			Description: "Agent card",
			Handler:     func(context.Context) (any, error) { return c.Card(), nil },
		})
		if err != nil {
			return nil, err
		}
		err = catalog.AddPrompts(mcp.Prompt{
			Name:        c.Name(),
			Description: "Instructions of the " + c.Name() + " agent followed by the input",
			Arguments:   []mcp.PromptArgument{{Name: "input", Required: true}},
			Handler: func(_ context.Context, args map[string]string) ([]mcp.PromptMessage, error) {
				text := args["input"]
				if instructions := c.Instructions(); instructions != "" {
					text = instructions + "\n\n" + text
				}
				return []mcp.PromptMessage{{Role: "user", Content: mcp.TextContent(text)}}, nil
			},
		})
		if err != nil {
			return nil, err
		}
	}

	for _, name := range p.Workflows() {
		wf := p.workflows[name]
		toolName := RunToolPrefix + name
		if err := security.ValidateToolName(toolName); err != nil {
			p.logger.Warn("workflow not published over MCP", "workflow", name, "error", err)
			continue
		}
		run, err := tool.NewFunctionTool(toolName, workflowDescription(wf), func(ctx context.Context, in runArgs) (any, error) {
			inputs := in.Inputs
			if inputs == nil {
				inputs = make(map[string]any)
			}
			if in.Input != "" {
				inputs["input"] = in.Input
			}
			res, err := wf.Run(ctx, inputs)
			if err != nil {
				return nil, err
			}
			return res.RunRecord, nil
		})
		if err != nil {
			return nil, err
		}
		if err := reg.Register(run); err != nil {
			return nil, err
		}
		err = catalog.AddResources(mcp.Resource{
			URI:         "reasona://workflows/" + name,
			Name:        name,
			Description: wf.Description(),
			MimeType:    "text/plain",
			Handler:     func(context.Context) (any, error) { return wf.Visualize(), nil },
		})
		if err != nil {
			return nil, err
		}
	}

	base := []mcp.ServerOption{
		mcp.WithVersion(Version),
		mcp.WithLogger(p.logger.ResetNamed("reasona.mcp")),
		mcp.WithCatalog(catalog),
		mcp.WithRateLimit(p.Config.Server.RequestsPerSecond, p.Config.Server.Burst),
	}
	return mcp.NewServer(p.Name, reg, append(base, opts...)...), nil
}

func workflowDescription(wf *workflow.Workflow) string {
	if d := wf.Description(); d != "" {
		return fmt.Sprintf("Run the %s workflow: %s", wf.Name(), d)
	}
	return fmt.Sprintf("Run the %s workflow (stages: %v)", wf.Name(), wf.Stages())
}
