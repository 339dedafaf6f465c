package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/muthuks2020/reasona"
	"github.com/muthuks2020/reasona/agent"
)

// prompter reads chat input a line at a time
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

const chatHelp = `Commands:
  /reset    clear conversation history
  /history  show the conversation so far
  /help     show this help
  /exit     leave the chat (also /quit, Ctrl-D)
`

func newChatCmd(c *cli) *cobra.Command {
	var (
		name        string
		model       string
		system      string
		temperature float64
		noStream    bool
	)
	cmd := &cobra.Command{
		Use:   "chat [project|agent.md]",
		Short: "Chat interactively with an agent or a model",
		Long: "Chat with the project's primary agent, a named agent, or, without a\n" +
			"target, with an ad hoc agent built from --model and --system.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				p   *reasona.Project
				err error
			)
			if len(args) == 1 {
				p, err = c.loadProject(args[0])
			} else {
				def := reasona.AgentDef{Name: "chat", Model: model, Instructions: system}
				if cmd.Flags().Changed("temperature") {
					def.Temperature = &temperature
				}
				p, err = c.adhocProject(def)
			}
			if err != nil {
				return err
			}
			defer p.Close()

			a, err := pickAgent(p, name)
			if err != nil {
				return err
			}

			in := c.prompter
			if in == nil {
				state := liner.NewLiner()
				state.SetCtrlCAborts(true)
				in = state
			}
			defer in.Close()

			return chatLoop(cmd, in, a, !noStream)
		},
	}
	cmd.Flags().StringVarP(&name, "agent", "a", "", "agent to chat with (default: the primary agent)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model for an ad hoc agent (provider/model)")
	cmd.Flags().StringVarP(&system, "system", "s", "You are a helpful AI assistant.", "instructions for an ad hoc agent")
	cmd.Flags().Float64VarP(&temperature, "temperature", "t", 0.7, "temperature for an ad hoc agent")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for complete answers")
	return cmd
}

func chatLoop(cmd *cobra.Command, in prompter, a *agent.Conductor, stream bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Chatting with %s (%s). Type /help for commands.\n\n", a.Name(), a.Model())

	for {
		line, err := in.Prompt("you> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		in.AppendHistory(line)

		switch strings.ToLower(line) {
		case "/exit", "/quit", "exit", "quit":
			return nil
		case "/help":
			fmt.Fprint(out, chatHelp)
			continue
		case "/reset":
			if err := a.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "Conversation reset.")
			continue
		case "/history":
			msgs, err := a.History(ctx)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
			}
			continue
		}

		fmt.Fprintf(out, "%s> ", a.Name())
		if stream {
			err = streamTo(ctx, out, a, line)
		} else {
			var answer string
			if answer, err = a.Think(ctx, line); err == nil {
				fmt.Fprintln(out, answer)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "\nerror: %v\n", err)
		}
	}
}
