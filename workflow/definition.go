package workflow

import (
	"fmt"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/pkg/config"
)

// Definition is the declarative form of a workflow, as read from a
// project file.
type Definition struct {
	Description string            `yaml:"description" json:"description"`
	StopOnError *bool             `yaml:"stop_on_error" json:"stop_on_error"`
	Stages      []StageDefinition `yaml:"stages" json:"stages"`
}

// StageDefinition is the declarative form of a stage.
type StageDefinition struct {
	Name      string          `yaml:"name" json:"name"`
	Agent     string          `yaml:"agent" json:"agent"`
	Prompt    string          `yaml:"prompt" json:"prompt"`
	Condition string          `yaml:"condition" json:"condition"`
	Transform []string        `yaml:"transform" json:"transform"`
	Retries   int             `yaml:"retries" json:"retries"`
	Timeout   config.Duration `yaml:"timeout" json:"timeout"`
}

// Build creates a workflow from def. resolve maps agent names to agents.
func Build(name string, def Definition, resolve func(string) (agent.Agent, bool), opts ...Option) (*Workflow, error) {
	if def.Description != "" {
		opts = append([]Option{WithDescription(def.Description)}, opts...)
	}
	if def.StopOnError != nil {
		opts = append([]Option{StopOnError(*def.StopOnError)}, opts...)
	}
	w := New(name, opts...)

	for _, sd := range def.Stages {
		a, ok := resolve(sd.Agent)
		if !ok {
			return nil, fmt.Errorf("workflow %s: stage %s: unknown agent %q", name, sd.Name, sd.Agent)
		}
		cond, err := ParseCondition(sd.Condition)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: stage %s: %w", name, sd.Name, err)
		}
		tr, err := ParseTransforms(sd.Transform)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: stage %s: %w", name, sd.Name, err)
		}
		err = w.AddStage(sd.Name, a, sd.Prompt,
			WithCondition(cond),
			WithTransform(tr),
			WithRetries(sd.Retries),
			WithTimeout(sd.Timeout.Std()),
		)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", name, err)
		}
	}
	return w, nil
}
