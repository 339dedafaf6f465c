package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/muthuks2020/reasona/pkg/tool"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the built-in tools",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List built-in tools",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tPARAMETERS\tDESCRIPTION")
				for _, t := range tool.Builtins() {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name(), paramNames(t), t.Description())
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "info <name>",
			Short: "Show a tool's description and argument schema",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, ok := tool.Builtin(strings.ToLower(args[0]))
				if !ok {
					return fmt.Errorf("%w: %s (available: %s)", tool.ErrUnknownTool, args[0], strings.Join(tool.BuiltinNames(), ", "))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s\n  %s\n\nSchema:\n", t.Name(), t.Description())
				_, err := out.Write(pretty.Pretty(t.Schema()))
				return err
			},
		},
	)
	return cmd
}

func paramNames(t tool.Tool) string {
	var names []string
	gjson.GetBytes(t.Schema(), "properties.@keys").ForEach(func(_, v gjson.Result) bool {
		names = append(names, v.String())
		return true
	})
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
