package workflow

import (
	"fmt"
	"strings"
)

// Visualize renders the stages as a linear diagram, with the context keys
// each template reads and each stage's status from the last run.
//
//	Workflow: content
//	  Blog pipeline
//
//	  [plan] (planner) ──▶
//	    needs: input
//	  [write] (writer) ──○
//	    needs: plan
//	    status: succeeded
func (w *Workflow) Visualize() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Workflow: %s\n", w.name)
	if w.description != "" {
		fmt.Fprintf(&b, "  %s\n", w.description)
	}
	b.WriteString("\n")

	for i, st := range w.stages {
		connector := "──▶"
		if i == len(w.stages)-1 {
			connector = "──○"
		}
		fmt.Fprintf(&b, "  [%s] (%s) %s\n", st.Name, st.Agent.Name(), connector)
		if refs := References(st.PromptTemplate); len(refs) > 0 {
			fmt.Fprintf(&b, "    needs: %s\n", strings.Join(refs, ", "))
		}
		if st.Condition != nil {
			b.WriteString("    conditional\n")
		}
		if s, ok := w.status[st.Name]; ok {
			fmt.Fprintf(&b, "    status: %s\n", s)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
