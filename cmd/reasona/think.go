package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newThinkCmd(c *cli) *cobra.Command {
	var (
		name   string
		stream bool
	)
	cmd := &cobra.Command{
		Use:   "think <project|agent.md> <prompt...>",
		Short: "Send one prompt to an agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.loadProject(args[0])
			if err != nil {
				return err
			}
			defer p.Close()

			a, err := pickAgent(p, name)
			if err != nil {
				return err
			}
			input := strings.Join(args[1:], " ")
			if stream {
				return streamTo(cmd.Context(), cmd.OutOrStdout(), a, input)
			}
			out, err := a.Think(cmd.Context(), input)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "agent", "a", "", "agent to ask (default: the primary agent)")
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "stream the answer as it is generated")
	return cmd
}
