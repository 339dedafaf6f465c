package synapse

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muthuks2020/reasona/agent"
)

func TestOrchestrate(t *testing.T) {
	s := newTestSynapse()
	lead := &echoAgent{name: "lead"}
	r1 := &echoAgent{name: "researcher"}
	r2 := &echoAgent{name: "writer"}
	for _, a := range []*echoAgent{lead, r1, r2} {
		require.NoError(t, s.Connect(a))
	}

	res, err := s.Orchestrate(t.Context(), "write a report", "lead", OrchestrateOptions{MaxRounds: 2})
	require.NoError(t, err)

	assert.Equal(t, TaskCompleted, res.Status)
	assert.NotEmpty(t, res.TaskID)
	// plan + 2 rounds x 2 contributors + synthesis
	require.Len(t, res.Artifacts, 6)
	assert.Equal(t, "plan", res.Artifacts[0].Type)
	assert.Equal(t, "lead", res.Artifacts[0].Agent)
	assert.Equal(t, "researcher", res.Artifacts[1].Agent)
	assert.Equal(t, 0, res.Artifacts[1].Round)
	assert.Equal(t, "writer", res.Artifacts[4].Agent)
	assert.Equal(t, 1, res.Artifacts[4].Round)
	assert.Equal(t, "synthesis", res.Artifacts[5].Type)
	assert.Equal(t, res.Artifacts[5].Content, res.Result)
	assert.True(t, strings.HasPrefix(res.Result, "lead: Based on all contributions:"))

	assert.Equal(t, int32(2), lead.calls.Load())
	assert.Equal(t, int32(2), r1.calls.Load())
	assert.Equal(t, int32(2), r2.calls.Load())

	// Later contributors see earlier contributions.
	assert.Contains(t, res.Artifacts[2].Content, "[researcher]: researcher:")

	task, ok := s.Task(res.TaskID)
	require.True(t, ok)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)
	assert.Len(t, s.Tasks(), 1)
}

func TestOrchestrateDefaults(t *testing.T) {
	s := newTestSynapse()
	lead := &echoAgent{name: "first"}
	other := &echoAgent{name: "second"}
	require.NoError(t, s.Connect(lead))
	require.NoError(t, s.Connect(other))

	res, err := s.Orchestrate(t.Context(), "task", "", OrchestrateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", res.Artifacts[0].Agent)
	assert.Len(t, res.Artifacts, 2+DefaultMaxRounds)
	assert.Equal(t, int32(DefaultMaxRounds), other.calls.Load())
}

func TestOrchestrateValidation(t *testing.T) {
	s := newTestSynapse()

	_, err := s.Orchestrate(t.Context(), "task", "", OrchestrateOptions{})
	assert.ErrorIs(t, err, ErrNoAgents)

	require.NoError(t, s.Connect(&echoAgent{name: "a"}))
	_, err = s.Orchestrate(t.Context(), "task", "ghost", OrchestrateOptions{})
	assert.ErrorIs(t, err, ErrUnknownAgent)

	_, err = s.Orchestrate(t.Context(), "task", "a", OrchestrateOptions{Participants: []string{"a", "ghost"}})
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.Empty(t, s.Tasks())
}

func TestOrchestrateFailure(t *testing.T) {
	s := newTestSynapse()
	require.NoError(t, s.Connect(&echoAgent{name: "lead"}))
	require.NoError(t, s.Connect(failingAgent("broken", errors.New("model down"))))

	_, err := s.Orchestrate(t.Context(), "task", "lead", OrchestrateOptions{MaxRounds: 1})
	require.Error(t, err)
	assert.ErrorContains(t, err, "model down")

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskFailed, tasks[0].Status)
	assert.Contains(t, tasks[0].Error, "model down")
	require.Len(t, tasks[0].Artifacts, 1)
	assert.Equal(t, "plan", tasks[0].Artifacts[0].Type)
}

func TestOrchestrateCancelled(t *testing.T) {
	s := newTestSynapse()
	require.NoError(t, s.Connect(&echoAgent{name: "lead"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Orchestrate(ctx, "task", "lead", OrchestrateOptions{})
	assert.ErrorIs(t, err, context.Canceled)

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskCancelled, tasks[0].Status)
}

func TestOrchestrateLeadDelegation(t *testing.T) {
	s := newTestSynapse()
	helper := &echoAgent{name: "helper"}
	require.NoError(t, s.Connect(helper))

	var delegated string
	var selfErr error
	var participants []string
	lead := agent.NewFunc("lead", func(ctx context.Context, input string) (string, error) {
		d, ok := DelegatorFrom(ctx)
		if !ok {
			return "no delegator", nil
		}
		if delegated == "" {
			participants = d.Participants()
			out, err := d.Delegate(ctx, "helper", "look this up", map[string]any{"q": 1})
			if err != nil {
				return "", err
			}
			delegated = out
			_, selfErr = d.Delegate(ctx, "lead", "loop", nil)
		}
		return "done", nil
	})
	require.NoError(t, s.Connect(lead))

	res, err := s.Orchestrate(t.Context(), "task", "lead", OrchestrateOptions{
		Participants: []string{"lead", "helper"},
		MaxRounds:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Result)
	assert.Equal(t, "helper: Context: {\"q\":1}\n\nTask: look this up", delegated)
	assert.ErrorIs(t, selfErr, ErrSelfDelegation)
	assert.Equal(t, []string{"lead", "helper"}, participants)
	// one delegated call plus one contribution round
	assert.Equal(t, int32(2), helper.calls.Load())

	_, ok := DelegatorFrom(t.Context())
	assert.False(t, ok)
}
