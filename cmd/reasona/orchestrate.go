package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muthuks2020/reasona/synapse"
)

func newOrchestrateCmd(c *cli) *cobra.Command {
	var (
		lead         string
		rounds       int
		participants []string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "orchestrate <project> <task...>",
		Short: "Have a lead agent coordinate the project's agents on a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.loadProject(args[0])
			if err != nil {
				return err
			}
			defer p.Close()

			if a := p.Primary(); lead == "" && a != nil {
				lead = a.Name()
			}

			task := strings.Join(args[1:], " ")
			res, err := p.Synapse.Orchestrate(cmd.Context(), task, lead, synapse.OrchestrateOptions{
				Participants: participants,
				MaxRounds:    rounds,
			})
			if res == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(res); encErr != nil {
					return encErr
				}
				return err
			}
			for _, art := range res.Artifacts {
				if art.Type == "synthesis" {
					continue
				}
				if art.Type == "contribution" {
					fmt.Fprintf(out, "--- %s: %s (round %d)\n%s\n\n", art.Type, art.Agent, art.Round+1, art.Content)
				} else {
					fmt.Fprintf(out, "--- %s: %s\n%s\n\n", art.Type, art.Agent, art.Content)
				}
			}
			if res.Result != "" {
				fmt.Fprintln(out, res.Result)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&lead, "lead", "l", "", "agent that plans and synthesizes (default: the primary, else the first agent)")
	cmd.Flags().IntVarP(&rounds, "rounds", "r", 0, "contribution rounds (default 5)")
	cmd.Flags().StringSliceVar(&participants, "agents", nil, "participating agents (default: every connected agent)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result with artifacts as JSON")
	return cmd
}

func newBroadcastCmd(c *cli) *cobra.Command {
	var (
		agents  []string
		exclude []string
	)
	cmd := &cobra.Command{
		Use:   "broadcast <project> <message...>",
		Short: "Send one message to several agents concurrently",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.loadProject(args[0])
			if err != nil {
				return err
			}
			defer p.Close()

			results, err := p.Synapse.Broadcast(cmd.Context(), strings.Join(args[1:], " "), synapse.BroadcastOptions{
				Agents:  agents,
				Exclude: exclude,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if !r.OK() {
					failed++
					fmt.Fprintf(out, "--- %s (error)\n%v\n\n", r.Agent, r.Err)
					continue
				}
				fmt.Fprintf(out, "--- %s\n%s\n\n", r.Agent, r.Output)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deliveries failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&agents, "agents", nil, "recipients (default: every connected agent)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "agents to leave out")
	return cmd
}
