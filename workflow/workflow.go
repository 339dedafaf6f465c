package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/internal/logging"
	"github.com/muthuks2020/reasona/internal/observability"
	metrics "github.com/muthuks2020/reasona/pkg/observability"
)

// Workflow runs named stages in insertion order over a shared Context.
//
// Runs may overlap; each works on a snapshot of the stage list and its own
// Context. The stage list cannot change while any run is in flight.
type Workflow struct {
	name        string
	description string
	logger      hclog.Logger
	store       Store
	stopOnError bool
	backoff     func(attempt int) time.Duration

	mu      sync.RWMutex
	stages  []*Stage
	running int
	status  map[string]StageStatus // Last run
}

// Option configures a Workflow
type Option func(*Workflow)

// WithDescription sets the description shown by Visualize
func WithDescription(d string) Option {
	return func(w *Workflow) { w.description = d }
}

// WithLogger sets the logger
func WithLogger(l hclog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

// WithStore sets where run records are kept. The default is a MemoryStore.
func WithStore(s Store) Option {
	return func(w *Workflow) { w.store = s }
}

// StopOnError controls whether a failed stage aborts the run (the default)
// or is recorded while later stages still run.
func StopOnError(stop bool) Option {
	return func(w *Workflow) { w.stopOnError = stop }
}

// WithBackoff sets a delay before each retry. attempt is the number of the
// attempt about to start, beginning at 2. Retries are immediate by default.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(w *Workflow) { w.backoff = fn }
}

// ExponentialBackoff returns a backoff doubling from base up to limit.
func ExponentialBackoff(base, limit time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 2; i < attempt && d < limit; i++ {
			d *= 2
		}
		return min(d, limit)
	}
}

// New creates an empty workflow.
func New(name string, opts ...Option) *Workflow {
	w := &Workflow{
		name:        name,
		stopOnError: true,
		status:      make(map[string]StageStatus),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.store == nil {
		w.store = NewMemoryStore()
	}
	w.logger = logging.OrDefault(w.logger, "workflow").With("workflow", name)
	return w
}

// Name returns the workflow name
func (w *Workflow) Name() string { return w.name }

// Description returns the workflow description
func (w *Workflow) Description() string { return w.description }

// AddStage appends a stage. Names are unique within a workflow.
func (w *Workflow) AddStage(name string, a agent.Agent, promptTemplate string, opts ...StageOption) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidStage)
	}
	if a == nil {
		return fmt.Errorf("%w: stage %s has no agent", ErrInvalidStage, name)
	}
	st := &Stage{Name: name, Agent: a, PromptTemplate: promptTemplate}
	for _, opt := range opts {
		opt(st)
	}
	if st.Retries < 0 {
		return fmt.Errorf("%w: stage %s has negative retries", ErrInvalidStage, name)
	}
	if st.Timeout < 0 {
		return fmt.Errorf("%w: stage %s has negative timeout", ErrInvalidStage, name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running > 0 {
		return ErrRunInProgress
	}
	if w.indexLocked(name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, name)
	}
	w.stages = append(w.stages, st)
	return nil
}

// RemoveStage removes a stage by name.
func (w *Workflow) RemoveStage(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running > 0 {
		return ErrRunInProgress
	}
	i := w.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	w.stages = slices.Delete(w.stages, i, i+1)
	delete(w.status, name)
	return nil
}

func (w *Workflow) indexLocked(name string) int {
	return slices.IndexFunc(w.stages, func(s *Stage) bool { return s.Name == name })
}

// Stages returns the stage names in execution order
func (w *Workflow) Stages() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, len(w.stages))
	for i, s := range w.stages {
		names[i] = s.Name
	}
	return names
}

// Stage returns a copy of the named stage
func (w *Workflow) Stage(name string) (Stage, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	i := w.indexLocked(name)
	if i < 0 {
		return Stage{}, false
	}
	return *w.stages[i].clone(), true
}

// Status returns the stage's status from the last run, or StagePending.
func (w *Workflow) Status(stage string) StageStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if s, ok := w.status[stage]; ok {
		return s
	}
	return StagePending
}

func (w *Workflow) setStatus(stage string, s StageStatus) {
	w.mu.Lock()
	w.status[stage] = s
	w.mu.Unlock()
}

// RunInput runs the workflow with {"input": input}.
func (w *Workflow) RunInput(ctx context.Context, input string) (*RunResult, error) {
	return w.Run(ctx, map[string]any{"input": input})
}

// Run executes the stages in order and returns the accumulated Context.
//
// A stage whose condition is false is skipped. Otherwise its template is
// rendered against the Context; an empty template sends the previous
// stage's output, or inputs["input"] before any stage has produced one.
// Agent failures and timeouts are retried up to the stage's Retries;
// template errors are not.
//
// On terminal stage failure Run returns the partial result together with a
// *StageError. With StopOnError(false) later stages still run and the
// error joins every stage failure.
func (w *Workflow) Run(ctx context.Context, inputs map[string]any) (*RunResult, error) {
	w.mu.Lock()
	stages := make([]*Stage, len(w.stages))
	for i, s := range w.stages {
		stages[i] = s.clone()
	}
	w.running++
	for _, s := range stages {
		w.status[s.Name] = StagePending
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running--
		w.mu.Unlock()
	}()

	runID := uuid.New().String()
	start := time.Now()
	log := w.logger.With("run_id", runID)

	ctx, span := observability.StartSpan(ctx, "workflow.run", map[string]any{
		"workflow.name":   w.name,
		"workflow.run_id": runID,
		"workflow.stages": len(stages),
	})
	defer span.End()

	rc := Context(maps.Clone(inputs))
	if rc == nil {
		rc = Context{}
	}
	res := &RunResult{
		RunRecord: RunRecord{
			RunID:     runID,
			Workflow:  w.name,
			Status:    RunCompleted,
			Input:     maps.Clone(inputs),
			Timestamp: start.UTC(),
		},
		Context: rc,
	}

	log.Info("starting run", "stages", len(stages))

	var (
		last     string
		haveLast bool
		failures []error
	)
	for _, st := range stages {
		sr, out, serr := w.runStage(ctx, st, rc, last, haveLast)
		res.Stages = append(res.Stages, sr)
		w.setStatus(st.Name, sr.Status)

		if serr == nil {
			if sr.Status == StageSucceeded {
				rc[st.Name] = out
				last, haveLast = out, true
			}
			continue
		}

		serr.Context = rc.Clone()
		failures = append(failures, serr)
		span.SetError(serr)
		log.Warn("stage failed", "stage", st.Name, "status", sr.Status, "attempts", sr.Attempts, "error", serr.Err)
		if w.stopOnError || ctx.Err() != nil {
			break
		}
	}

	res.Output = last
	res.TotalDurationMS = durationMS(time.Since(start))
	var err error
	switch {
	case len(failures) == 0:
	case ctx.Err() != nil:
		res.Status = RunCancelled
	default:
		res.Status = RunFailed
	}
	switch len(failures) {
	case 0:
	case 1:
		err = failures[0]
	default:
		err = errors.Join(failures...)
	}

	metrics.RecordWorkflowRun(w.name, string(res.Status), time.Since(start))
	if serr := w.store.Save(context.WithoutCancel(ctx), &res.RunRecord); serr != nil {
		log.Warn("failed to save run record", "error", serr)
	}
	log.Info("run finished", "status", res.Status, "duration_ms", int64(res.TotalDurationMS))
	return res, err
}

// runStage drives one stage through its state machine. A nil *StageError
// means the stage succeeded or was skipped.
func (w *Workflow) runStage(ctx context.Context, st *Stage, rc Context, last string, haveLast bool) (StageResult, string, *StageError) {
	sr := StageResult{Stage: st.Name, Status: StagePending}
	start := time.Now()
	fail := func(status StageStatus, err error) (StageResult, string, *StageError) {
		sr.Status = status
		sr.Error = err.Error()
		sr.DurationMS = durationMS(time.Since(start))
		return sr, "", &StageError{Stage: st.Name, Status: status, Attempts: sr.Attempts, Err: err}
	}

	if st.Condition != nil && !st.Condition(rc.Clone()) {
		sr.Status = StageSkipped
		metrics.RecordStageAttempt(w.name, st.Name, string(StageSkipped))
		w.logger.Debug("stage skipped", "stage", st.Name)
		return sr, "", nil
	}

	prompt, err := w.prompt(st, rc, last, haveLast)
	if err != nil {
		metrics.RecordStageAttempt(w.name, st.Name, string(StageFailed))
		return fail(StageFailed, err)
	}

	ctx, span := observability.StartSpan(ctx, "workflow.stage", map[string]any{
		"workflow.name":  w.name,
		"workflow.stage": st.Name,
		"agent.name":     st.Agent.Name(),
	})
	defer span.End()

	maxAttempts := st.Retries + 1
	for attempt := 1; ; attempt++ {
		sr.Attempts = attempt
		w.setStatus(st.Name, StageRunning)
		w.logger.Debug("running stage", "stage", st.Name, "attempt", attempt)

		out, status, err := w.attempt(ctx, st, prompt)
		metrics.RecordStageAttempt(w.name, st.Name, string(status))
		if err == nil {
			span.SetAttribute("workflow.attempts", attempt)
			sr.Status = StageSucceeded
			sr.Output = out
			sr.DurationMS = durationMS(time.Since(start))
			return sr, out, nil
		}
		span.SetError(err)

		if ctx.Err() != nil {
			return fail(StageFailed, err)
		}
		if attempt >= maxAttempts {
			return fail(status, err)
		}

		w.setStatus(st.Name, StageRetrying)
		w.logger.Debug("retrying stage", "stage", st.Name, "attempt", attempt, "error", err)
		if w.backoff != nil {
			if d := w.backoff(attempt + 1); d > 0 {
				select {
				case <-ctx.Done():
					return fail(StageFailed, ctx.Err())
				case <-time.After(d):
				}
			}
		}
	}
}

func (w *Workflow) prompt(st *Stage, rc Context, last string, haveLast bool) (string, error) {
	if st.PromptTemplate == "" {
		if haveLast {
			return last, nil
		}
		return stringify(rc["input"]), nil
	}
	prompt, err := Render(st.PromptTemplate, rc)
	if err != nil {
		var mk *MissingContextKeyError
		if errors.As(err, &mk) {
			mk.Stage = st.Name
		}
		return "", err
	}
	return prompt, nil
}

type attemptResult struct {
	out string
	err error
}

// attempt makes one agent call under a fresh timeout and applies the
// transform. It returns the status the attempt ended in.
func (w *Workflow) attempt(ctx context.Context, st *Stage, prompt string) (string, StageStatus, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if st.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, st.Timeout)
	}
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		out, err := st.Agent.Think(callCtx, prompt)
		done <- attemptResult{out: out, err: err}
	}()

	r := awaitAttempt(callCtx, done)
	if r.err != nil {
		if st.Timeout > 0 && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", StageTimedOut, fmt.Errorf("%w after %s", ErrStageTimeout, st.Timeout)
		}
		return "", StageFailed, r.err
	}

	out := r.out
	if st.Transform != nil {
		t, err := st.Transform(out)
		if err != nil {
			return "", StageFailed, fmt.Errorf("transform: %w", err)
		}
		out = t
	}
	return out, StageSucceeded, nil
}

// awaitAttempt waits for the agent call or for ctx to end. A result that is
// already available when ctx ends wins over the context error.
func awaitAttempt(ctx context.Context, done <-chan attemptResult) attemptResult {
	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		select {
		case r := <-done:
			return r
		default:
		}
		// An agent ignoring its context must not hold the stage past the deadline.
		return attemptResult{err: ctx.Err()}
	}
}

// Reset clears last-run statuses and the run history. Stages are kept.
func (w *Workflow) Reset(ctx context.Context) error {
	w.mu.Lock()
	if w.running > 0 {
		w.mu.Unlock()
		return ErrRunInProgress
	}
	clear(w.status)
	w.mu.Unlock()
	return w.ClearHistory(ctx)
}

// History returns this workflow's run records, oldest first.
func (w *Workflow) History(ctx context.Context) ([]RunRecord, error) {
	recs, err := w.store.List(ctx, w.name)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]RunRecord, len(recs))
	for i, r := range recs {
		out[i] = *r
	}
	return out, nil
}

// ClearHistory deletes this workflow's run records
func (w *Workflow) ClearHistory(ctx context.Context) error {
	if err := w.store.Clear(ctx, w.name); err != nil {
		return fmt.Errorf("clear runs: %w", err)
	}
	return nil
}

func (w *Workflow) String() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return fmt.Sprintf("Workflow(name=%q, stages=%d)", w.name, len(w.stages))
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
