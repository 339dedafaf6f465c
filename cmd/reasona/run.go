package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/muthuks2020/reasona"
	"github.com/muthuks2020/reasona/workflow"
)

func newRunCmd(c *cli) *cobra.Command {
	var (
		name    string
		input   string
		set     map[string]string
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "run <project>",
		Short: "Run a workflow once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.loadProject(args[0])
			if err != nil {
				return err
			}
			defer p.Close()

			if name, err = pickWorkflow(p, name); err != nil {
				return err
			}
			res, runErr := p.Run(cmd.Context(), name, runInputs(input, set))
			if res == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
				return runErr
			}
			if verbose {
				printStages(out, res)
			}
			if res.Output != "" {
				fmt.Fprintln(out, res.Output)
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&name, "workflow", "w", "", "workflow to run (default: the only workflow)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "value bound to {input}")
	cmd.Flags().StringToStringVar(&set, "set", nil, "additional inputs as key=value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full run result as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every stage")
	return cmd
}

func pickWorkflow(p *reasona.Project, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	names := p.Workflows()
	if len(names) != 1 {
		return "", fmt.Errorf("project has %d workflows; choose one with --workflow", len(names))
	}
	return names[0], nil
}

func runInputs(input string, set map[string]string) map[string]any {
	inputs := make(map[string]any, len(set)+1)
	for k, v := range set {
		inputs[k] = v
	}
	if input != "" {
		inputs["input"] = input
	}
	return inputs
}

func printStages(w io.Writer, res *workflow.RunResult) {
	for _, st := range res.Stages {
		fmt.Fprintf(w, "[%s] %s (%d attempts, %.0fms)\n", st.Status, st.Stage, st.Attempts, st.DurationMS)
		if st.Output != "" {
			fmt.Fprintf(w, "%s\n\n", st.Output)
		}
		if st.Error != "" {
			fmt.Fprintf(w, "error: %s\n\n", st.Error)
		}
	}
}
