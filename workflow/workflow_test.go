package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muthuks2020/reasona/agent"
)

// stubAgent answers "<name>(<prompt>)", failing the first failFirst calls.
type stubAgent struct {
	name      string
	failFirst int32
	calls     atomic.Int32

	mu      sync.Mutex
	prompts []string
}

func newStub(name string) *stubAgent { return &stubAgent{name: name} }

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Think(_ context.Context, input string) (string, error) {
	n := a.calls.Add(1)
	a.mu.Lock()
	a.prompts = append(a.prompts, input)
	a.mu.Unlock()
	if n <= a.failFirst {
		return "", errors.New("transient failure")
	}
	return a.name + "(" + input + ")", nil
}

func (a *stubAgent) Stream(ctx context.Context, input string) (agent.Stream, error) {
	out, err := a.Think(ctx, input)
	if err != nil {
		return nil, err
	}
	return agent.NewSliceStream(out), nil
}

func (a *stubAgent) lastPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.prompts) == 0 {
		return ""
	}
	return a.prompts[len(a.prompts)-1]
}

func newTestWorkflow(opts ...Option) *Workflow {
	return New("test", append([]Option{WithLogger(hclog.NewNullLogger())}, opts...)...)
}

func TestPlanExecute(t *testing.T) {
	planner, executor := newStub("planner"), newStub("executor")
	w := newTestWorkflow()
	require.NoError(t, w.AddStage("plan", planner, "Plan: {input}"))
	require.NoError(t, w.AddStage("execute", executor, "Do: {plan}"))

	res, err := w.RunInput(t.Context(), "build site")
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, "planner(Plan: build site)", res.Context["plan"])
	assert.Equal(t, "executor(Do: planner(Plan: build site))", res.Context["execute"])
	assert.Equal(t, "build site", res.Context["input"])
	assert.Equal(t, res.Context["execute"], res.Output)

	require.Len(t, res.Stages, 2)
	for _, sr := range res.Stages {
		assert.Equal(t, StageSucceeded, sr.Status)
		assert.Equal(t, 1, sr.Attempts)
	}
	assert.Equal(t, StageSucceeded, w.Status("plan"))
}

func TestInsertionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) agent.Agent {
		return agent.NewFunc(name, func(context.Context, string) (string, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		})
	}

	w := newTestWorkflow()
	for _, n := range []string{"c", "a", "d", "b"} {
		require.NoError(t, w.AddStage(n, record(n), "x"))
	}
	_, err := w.Run(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "d", "b"}, order)
	assert.Equal(t, []string{"c", "a", "d", "b"}, w.Stages())
}

func TestAddRemoveStage(t *testing.T) {
	w := newTestWorkflow()
	require.NoError(t, w.AddStage("a", newStub("x"), ""))
	assert.ErrorIs(t, w.AddStage("a", newStub("y"), ""), ErrDuplicateStage)
	assert.ErrorIs(t, w.AddStage("", newStub("y"), ""), ErrInvalidStage)
	assert.ErrorIs(t, w.AddStage("b", nil, ""), ErrInvalidStage)
	assert.ErrorIs(t, w.AddStage("b", newStub("y"), "", WithRetries(-1)), ErrInvalidStage)

	assert.ErrorIs(t, w.RemoveStage("nope"), ErrUnknownStage)
	require.NoError(t, w.RemoveStage("a"))
	assert.Empty(t, w.Stages())
	require.NoError(t, w.AddStage("a", newStub("x"), ""))
}

func TestStageListFrozenDuringRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := agent.NewFunc("slow", func(context.Context, string) (string, error) {
		close(started)
		<-release
		return "ok", nil
	})

	w := newTestWorkflow()
	require.NoError(t, w.AddStage("slow", slow, "x"))

	done := make(chan error, 1)
	go func() {
		_, err := w.Run(context.Background(), nil)
		done <- err
	}()
	<-started

	assert.ErrorIs(t, w.AddStage("later", newStub("y"), ""), ErrRunInProgress)
	assert.ErrorIs(t, w.RemoveStage("slow"), ErrRunInProgress)
	assert.ErrorIs(t, w.Reset(t.Context()), ErrRunInProgress)
	assert.Equal(t, StageRunning, w.Status("slow"))

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, w.AddStage("later", newStub("y"), ""))
}

func TestConditionSkips(t *testing.T) {
	skipped := newStub("skipped")
	after := newStub("after")
	w := newTestWorkflow()
	require.NoError(t, w.AddStage("maybe", skipped, "x", WithCondition(func(c Context) bool {
		return c.Has("flag")
	})))
	require.NoError(t, w.AddStage("after", after, "{maybe|nothing}"))

	res, err := w.RunInput(t.Context(), "in")
	require.NoError(t, err)
	assert.Equal(t, int32(0), skipped.calls.Load())
	assert.False(t, res.Context.Has("maybe"))
	assert.Equal(t, StageSkipped, res.Stages[0].Status)
	assert.Equal(t, 0, res.Stages[0].Attempts)
	assert.Equal(t, "nothing", after.lastPrompt())

	res, err = w.Run(t.Context(), map[string]any{"flag": true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), skipped.calls.Load())
	assert.Equal(t, "skipped(x)", res.Context["maybe"])
}

func TestSkippedStageKeyMissing(t *testing.T) {
	next := newStub("next")
	w := newTestWorkflow()
	require.NoError(t, w.AddStage("maybe", newStub("m"), "x", WithCondition(func(Context) bool { return false })))
	require.NoError(t, w.AddStage("next", next, "Use {maybe}"))

	res, err := w.RunInput(t.Context(), "in")
	require.Error(t, err)

	var mk *MissingContextKeyError
	require.ErrorAs(t, err, &mk)
	assert.Equal(t, "maybe", mk.Key)
	assert.Equal(t, "next", mk.Stage)
	assert.ErrorIs(t, err, ErrMissingContextKey)
	assert.Equal(t, int32(0), next.calls.Load())
	assert.Equal(t, RunFailed, res.Status)
}

func TestRetriesThenSuccess(t *testing.T) {
	flaky := newStub("flaky")
	flaky.failFirst = 2

	w := newTestWorkflow()
	require.NoError(t, w.AddStage("flaky", flaky, "go", WithRetries(2)))

	res, err := w.Run(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.Equal(t, StageSucceeded, res.Stages[0].Status)
	assert.Equal(t, 3, res.Stages[0].Attempts)
}

func TestRetriesExhausted(t *testing.T) {
	broken := newStub("broken")
	broken.failFirst = 100
	later := newStub("later")

	w := newTestWorkflow()
	require.NoError(t, w.AddStage("first", newStub("first"), "{input}"))
	require.NoError(t, w.AddStage("broken", broken, "go", WithRetries(2)))
	require.NoError(t, w.AddStage("later", later, "go"))

	res, err := w.RunInput(t.Context(), "hi")
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "broken", se.Stage)
	assert.Equal(t, 3, se.Attempts)
	assert.Equal(t, StageFailed, se.Status)
	assert.ErrorContains(t, se, "transient failure")
	assert.Equal(t, "first(hi)", se.Context["first"])
	assert.False(t, se.Context.Has("broken"))

	assert.Equal(t, int32(3), broken.calls.Load())
	assert.Equal(t, int32(0), later.calls.Load())
	assert.Equal(t, RunFailed, res.Status)
	require.Len(t, res.Stages, 2)
	assert.Equal(t, StageFailed, w.Status("broken"))
	assert.Equal(t, StagePending, w.Status("later"))
}

func TestTemplateErrorNotRetried(t *testing.T) {
	a := newStub("a")
	w := newTestWorkflow()
	require.NoError(t, w.AddStage("s", a, "Execute: {missing}", WithRetries(5)))

	_, err := w.Run(t.Context(), map[string]any{"plan": "X"})
	assert.ErrorIs(t, err, ErrMissingContextKey)
	assert.Equal(t, int32(0), a.calls.Load())

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Attempts)
}

func TestTimeoutPerAttempt(t *testing.T) {
	var calls atomic.Int32
	var leaked atomic.Int32
	slowThenFast := agent.NewFunc("sf", func(ctx context.Context, _ string) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			// The first attempt's context must stay cancelled.
			if ctx.Err() == nil {
				leaked.Add(1)
			}
			return "", ctx.Err()
		}
		select {
		case <-time.After(10 * time.Millisecond):
			return "fast", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	w := newTestWorkflow()
	require.NoError(t, w.AddStage("s", slowThenFast, "x", WithRetries(1), WithTimeout(50*time.Millisecond)))

	res, err := w.Run(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Context["s"])
	assert.Equal(t, 2, res.Stages[0].Attempts)
	assert.Equal(t, int32(0), leaked.Load())
}

func TestTimeoutExhausted(t *testing.T) {
	stuck := agent.NewFunc("stuck", func(context.Context, string) (string, error) {
		// Ignores its context on purpose.
		time.Sleep(time.Second)
		return "late", nil
	})

	w := newTestWorkflow()
	require.NoError(t, w.AddStage("s", stuck, "x", WithTimeout(20*time.Millisecond)))

	start := time.Now()
	_, err := w.Run(t.Context(), nil)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.ErrorIs(t, err, ErrStageTimeout)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageTimedOut, se.Status)
	assert.Equal(t, StageTimedOut, w.Status("s"))
}

func TestAwaitAttemptPrefersResult(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	// Both channels are ready; the finished call must never be reported as expired.
	for range 200 {
		done := make(chan attemptResult, 1)
		done <- attemptResult{out: "ok"}
		r := awaitAttempt(ctx, done)
		require.NoError(t, r.err)
		require.Equal(t, "ok", r.out)
	}

	r := awaitAttempt(ctx, make(chan attemptResult))
	assert.ErrorIs(t, r.err, context.Canceled)
}

func TestTransform(t *testing.T) {
	w := newTestWorkflow()
	require.NoError(t, w.AddStage("s", newStub("a"), "x", WithTransform(func(s string) (string, error) {
		return strings.ToUpper(s), nil
	})))
	require.NoError(t, w.AddStage("t", newStub("b"), "{s}"))

	res, err := w.Run(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, "A(X)", res.Context["s"])
	assert.Equal(t, "b(A(X))", res.Context["t"])
}

func TestTransformErrorRetried(t *testing.T) {
	a := newStub("a")
	var n atomic.Int32
	w := newTestWorkflow()
	require.NoError(t, w.AddStage("s", a, "x", WithRetries(1), WithTransform(func(s string) (string, error) {
		if n.Add(1) == 1 {
			return "", errors.New("not json")
		}
		return s, nil
	})))

	_, err := w.Run(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestEmptyTemplateChainsOutput(t *testing.T) {
	first, second := newStub("first"), newStub("second")
	w := newTestWorkflow()
	require.NoError(t, w.AddStage("one", first, ""))
	require.NoError(t, w.AddStage("two", second, ""))

	res, err := w.RunInput(t.Context(), "seed")
	require.NoError(t, err)
	assert.Equal(t, "seed", first.lastPrompt())
	assert.Equal(t, "first(seed)", second.lastPrompt())
	assert.Equal(t, "second(first(seed))", res.Output)
}

func TestContinueOnError(t *testing.T) {
	broken := newStub("broken")
	broken.failFirst = 100
	after := newStub("after")

	w := newTestWorkflow(StopOnError(false))
	require.NoError(t, w.AddStage("broken", broken, "x"))
	require.NoError(t, w.AddStage("after", after, "y"))

	res, err := w.Run(t.Context(), nil)
	require.Error(t, err)
	assert.Equal(t, RunFailed, res.Status)
	assert.Equal(t, int32(1), after.calls.Load())
	assert.Equal(t, "after(y)", res.Context["after"])
	require.Len(t, res.Stages, 2)
	assert.Equal(t, StageFailed, res.Stages[0].Status)
	assert.Equal(t, "transient failure", res.Stages[0].Error)
}

func TestBackoff(t *testing.T) {
	flaky := newStub("flaky")
	flaky.failFirst = 2
	var seen []int
	w := newTestWorkflow(WithBackoff(func(attempt int) time.Duration {
		seen = append(seen, attempt)
		return time.Millisecond
	}))
	require.NoError(t, w.AddStage("s", flaky, "x", WithRetries(2)))

	_, err := w.Run(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, seen)

	b := ExponentialBackoff(100*time.Millisecond, time.Second)
	assert.Equal(t, 100*time.Millisecond, b(2))
	assert.Equal(t, 200*time.Millisecond, b(3))
	assert.Equal(t, 400*time.Millisecond, b(4))
	assert.Equal(t, time.Second, b(10))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocker := agent.NewFunc("b", func(ctx context.Context, _ string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})
	later := newStub("later")

	w := newTestWorkflow(StopOnError(false))
	require.NoError(t, w.AddStage("b", blocker, "x", WithRetries(3)))
	require.NoError(t, w.AddStage("later", later, "y"))

	res, err := w.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, RunCancelled, res.Status)
	assert.Equal(t, 1, res.Stages[0].Attempts)
	assert.Equal(t, int32(0), later.calls.Load())
}

func TestResetIdempotence(t *testing.T) {
	w := newTestWorkflow()
	require.NoError(t, w.AddStage("plan", newStub("p"), "Plan: {input}"))
	require.NoError(t, w.AddStage("do", newStub("d"), "Do: {plan}"))

	first, err := w.RunInput(t.Context(), "x")
	require.NoError(t, err)
	require.NoError(t, w.Reset(t.Context()))
	assert.Equal(t, StagePending, w.Status("plan"))

	second, err := w.RunInput(t.Context(), "x")
	require.NoError(t, err)
	assert.Equal(t, first.Context, second.Context)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, []string{"plan", "do"}, w.Stages())

	hist, err := w.History(t.Context())
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, second.RunID, hist[0].RunID)
}

func TestHistory(t *testing.T) {
	store := NewMemoryStore()
	w := newTestWorkflow(WithStore(store))
	other := New("other", WithStore(store), WithLogger(hclog.NewNullLogger()))
	require.NoError(t, w.AddStage("s", newStub("a"), "{input}"))
	require.NoError(t, other.AddStage("s", newStub("b"), "{input}"))

	for _, in := range []string{"one", "two"} {
		_, err := w.RunInput(t.Context(), in)
		require.NoError(t, err)
	}
	_, err := other.RunInput(t.Context(), "three")
	require.NoError(t, err)

	hist, err := w.History(t.Context())
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "one", hist[0].Input["input"])
	assert.Equal(t, "a(two)", hist[1].Output)
	assert.Equal(t, "test", hist[1].Workflow)

	require.NoError(t, w.ClearHistory(t.Context()))
	hist, err = w.History(t.Context())
	require.NoError(t, err)
	assert.Empty(t, hist)

	all, err := store.List(t.Context(), "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEmptyWorkflow(t *testing.T) {
	w := newTestWorkflow()
	res, err := w.RunInput(t.Context(), "x")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, Context{"input": "x"}, res.Context)
	assert.Empty(t, res.Output)
}

func TestConcurrentRuns(t *testing.T) {
	w := newTestWorkflow()
	require.NoError(t, w.AddStage("echo", newStub("e"), "{input}"))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := strings.Repeat("x", i+1)
			res, err := w.RunInput(context.Background(), in)
			assert.NoError(t, err)
			assert.Equal(t, "e("+in+")", res.Context["echo"])
		}()
	}
	wg.Wait()

	hist, err := w.History(t.Context())
	require.NoError(t, err)
	assert.Len(t, hist, 8)
}

func TestVisualize(t *testing.T) {
	w := newTestWorkflow(WithDescription("Blog pipeline"))
	require.NoError(t, w.AddStage("plan", newStub("planner"), "Plan: {input}"))
	require.NoError(t, w.AddStage("write", newStub("writer"), "Write {plan} for {input}",
		WithCondition(func(Context) bool { return true })))

	want := `Workflow: test
  Blog pipeline

  [plan] (planner) ──▶
    needs: input
  [write] (writer) ──○
    needs: plan, input
    conditional`
	assert.Equal(t, want, w.Visualize())

	_, err := w.RunInput(t.Context(), "x")
	require.NoError(t, err)
	assert.Contains(t, w.Visualize(), "  [write] (writer) ──○\n    needs: plan, input\n    conditional\n    status: succeeded")
}
