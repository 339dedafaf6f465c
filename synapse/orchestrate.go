package synapse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/muthuks2020/reasona/internal/observability"
)

// Delegator lets an orchestration lead hand work to participants.
type Delegator interface {
	// Delegate sends task to a participant and returns its answer.
	Delegate(ctx context.Context, to, task string, taskContext map[string]any) (string, error)
	// Participants returns the names the lead may delegate to.
	Participants() []string
}

type delegatorKey struct{}

// DelegatorFrom returns the Delegator available to an orchestration lead.
func DelegatorFrom(ctx context.Context) (Delegator, bool) {
	d, ok := ctx.Value(delegatorKey{}).(Delegator)
	return d, ok
}

type leadDelegator struct {
	s            *Synapse
	lead         string
	participants []string
}

func (d *leadDelegator) Delegate(ctx context.Context, to, task string, taskContext map[string]any) (string, error) {
	if to == d.lead {
		return "", ErrSelfDelegation
	}
	return d.s.Delegate(ctx, d.lead, to, task, taskContext)
}

func (d *leadDelegator) Participants() []string { return slices.Clone(d.participants) }

// OrchestrationResult is the outcome of an Orchestrate call.
type OrchestrationResult struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Result    string     `json:"result"`
	Artifacts []Artifact `json:"artifacts"`
}

// Orchestrate runs a lead-driven collaboration: the lead plans, every other
// participant contributes once per round, then the lead synthesizes.
// Participant calls run one at a time, each seeing the contributions made
// so far. The lead receives a Delegator through its context.
func (s *Synapse) Orchestrate(ctx context.Context, task, lead string, opts OrchestrateOptions) (*OrchestrationResult, error) {
	participants := opts.Participants
	if participants == nil {
		participants = s.Agents()
	}
	for _, name := range participants {
		if _, err := s.lookup(name); err != nil {
			return nil, err
		}
	}
	if lead == "" {
		if len(participants) == 0 {
			return nil, ErrNoAgents
		}
		lead = participants[0]
	}
	if _, err := s.lookup(lead); err != nil {
		return nil, err
	}
	rounds := opts.MaxRounds
	if rounds <= 0 {
		rounds = DefaultMaxRounds
	}

	t := s.newTask(task)
	s.updateTask(t, func(t *Task) { t.Status = TaskRunning })

	ctx, span := observability.StartSpan(ctx, "synapse.orchestrate", map[string]any{
		"synapse.task_id": t.ID,
		"synapse.lead":    lead,
	})
	defer span.End()

	record := func(a Artifact) {
		s.updateTask(t, func(t *Task) { t.Artifacts = append(t.Artifacts, a) })
	}

	leadCtx := context.WithValue(ctx, delegatorKey{}, &leadDelegator{s: s, lead: lead, participants: participants})

	result, err := s.orchestrate(ctx, leadCtx, t, lead, participants, rounds, record)
	now := time.Now().UTC()
	if err != nil {
		span.SetError(err)
		status := TaskFailed
		if errors.Is(err, context.Canceled) {
			status = TaskCancelled
		}
		s.updateTask(t, func(t *Task) {
			t.Status = status
			t.Error = err.Error()
			t.CompletedAt = &now
		})
		s.logger.Warn("orchestration failed", "task_id", t.ID, "error", err)
		return nil, fmt.Errorf("orchestrate %s: %w", t.ID, err)
	}

	var snapshot Task
	s.updateTask(t, func(t *Task) {
		t.Status = TaskCompleted
		t.Result = result
		t.CompletedAt = &now
		snapshot = t.clone()
	})
	s.logger.Info("orchestration complete", "task_id", t.ID, "artifacts", len(snapshot.Artifacts))

	return &OrchestrationResult{
		TaskID:    snapshot.ID,
		Status:    snapshot.Status,
		Result:    snapshot.Result,
		Artifacts: snapshot.Artifacts,
	}, nil
}

func (s *Synapse) orchestrate(ctx, leadCtx context.Context, t *Task, lead string, participants []string, rounds int, record func(Artifact)) (string, error) {
	plan, err := s.Send(leadCtx, s.name, lead, planPrompt(t.Description, participants), TypeRequest)
	if err != nil {
		return "", err
	}
	record(Artifact{Type: "plan", Agent: lead, Content: plan})

	var running strings.Builder
	running.WriteString(plan)

	for round := range rounds {
		for _, name := range participants {
			if name == lead {
				continue
			}
			out, err := s.Send(ctx, lead, name, contributionPrompt(running.String(), t.Description), TypeRequest)
			if err != nil {
				return "", err
			}
			record(Artifact{Type: "contribution", Agent: name, Round: round, Content: out})
			fmt.Fprintf(&running, "\n\n[%s]: %s", name, out)
		}
	}

	final, err := s.Send(leadCtx, s.name, lead, synthesisPrompt(running.String(), t.Description), TypeRequest)
	if err != nil {
		return "", err
	}
	record(Artifact{Type: "synthesis", Agent: lead, Content: final})
	return final, nil
}

func delegationPrompt(task string, taskContext map[string]any) (string, error) {
	if len(taskContext) == 0 {
		return task, nil
	}
	data, err := json.Marshal(taskContext)
	if err != nil {
		return "", fmt.Errorf("encode delegation context: %w", err)
	}
	return fmt.Sprintf("Context: %s\n\nTask: %s", data, task), nil
}

func planPrompt(task string, participants []string) string {
	return fmt.Sprintf(`You are coordinating a collaborative task among multiple AI agents.

Available agents: %s

Task: %s

Please analyze the task and provide:
1. A step-by-step plan for completing the task
2. Which agent should handle each step
3. Your initial contribution to the task

Format your response clearly with sections for Plan, Agent Assignments, and Your Contribution.`,
		strings.Join(participants, ", "), task)
}

func contributionPrompt(sofar, task string) string {
	return fmt.Sprintf(`Previous context:
%s

Based on the above, please provide your contribution to the task: %s

Focus on your unique perspective and capabilities.`, sofar, task)
}

func synthesisPrompt(sofar, task string) string {
	return fmt.Sprintf(`Based on all contributions:

%s

Please provide a final synthesis and conclusion for the task: %s`, sofar, task)
}
