// Package workflow runs agents as an ordered pipeline of named stages.
//
// Each stage renders a prompt template against the run Context, calls its
// agent and stores the answer under the stage name, where later templates
// can read it:
//
//	wf := workflow.New("content")
//	_ = wf.AddStage("plan", planner, "Create a plan for: {input}")
//	_ = wf.AddStage("write", writer, "Write from this plan: {plan}",
//		workflow.WithRetries(2), workflow.WithTimeout(time.Minute))
//	res, err := wf.RunInput(ctx, "a blog post about Go")
//
// # Templates
//
// {key} is replaced by the Context value of key. {key|text} falls back to
// text when key is unset, and {stage.path} reads a gjson path from a stage
// that answered with JSON. Any other unresolved placeholder fails the stage
// with *MissingContextKeyError before its agent is called.
//
// # Stage lifecycle
//
// A stage goes from pending to skipped when its Condition is false, or to
// running. A failed or timed-out attempt is retried while attempts remain;
// each attempt gets a fresh timeout. The last failure ends the stage as
// failed or timed_out and, unless StopOnError(false) is set, ends the run
// with a *StageError carrying the Context built so far.
//
// Conditions and transforms can also be declared by name, see
// ParseCondition and ParseTransform. Run records are kept in a Store.
package workflow
