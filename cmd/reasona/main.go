// Command reasona runs agents and workflows from project files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/muthuks2020/reasona"
	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/internal/logging"
	"github.com/muthuks2020/reasona/internal/observability"
	"github.com/muthuks2020/reasona/pkg/config"
)

// cli holds state shared by all commands
type cli struct {
	logger   hclog.Logger
	debug    bool
	logLevel string
	jsonLogs bool

	// options appended to every project load; tests inject a provider here
	projectOpts []reasona.Option
	// line editor for chat; nil uses the terminal
	prompter prompter
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&cli{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "reasona",
		Short:         "Run LLM agents, workflows and agent teams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := c.logLevel
			if c.debug {
				level = "debug"
			}
			if c.logger == nil {
				c.logger = logging.NewRoot(logging.Options{
					Level:  level,
					Output: cmd.ErrOrStderr(),
					JSON:   c.jsonLogs,
				})
			}
			if err := observability.Init(withLogger(observability.ConfigFromEnv(), c.logger)); err != nil {
				c.logger.Warn("tracing disabled", "error", err)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
			defer cancel()
			return observability.Shutdown(ctx)
		},
	}

	root.PersistentFlags().BoolVar(&c.debug, "debug", envBool("REASONA_DEBUG"), "enable debug logging")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", logging.LevelFromEnv(), "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&c.jsonLogs, "log-json", false, "emit JSON logs")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newRunCmd(c),
		newThinkCmd(c),
		newChatCmd(c),
		newServeCmd(c),
		newMCPCmd(c),
		newScheduleCmd(c),
		newOrchestrateCmd(c),
		newBroadcastCmd(c),
		newToolsCmd(),
		newModelsCmd(c),
	)
	return root
}

func withLogger(cfg observability.Config, l hclog.Logger) observability.Config {
	cfg.Logger = l.Named("observability")
	return cfg
}

func envBool(name string) bool {
	v := os.Getenv(name)
	return strings.EqualFold(v, "true") || v == "1"
}

// loadProject loads a project file, or wraps a single markdown agent in a
// project of its own.
func (c *cli) loadProject(target string) (*reasona.Project, error) {
	opts := append([]reasona.Option{reasona.WithLogger(c.logger)}, c.projectOpts...)
	if !isMarkdown(target) {
		return reasona.Load(target, opts...)
	}

	if err := config.LoadDotEnvFor(target); err != nil {
		return nil, err
	}
	pc := &reasona.ProjectConfig{
		Name:   strings.TrimSuffix(filepath.Base(target), filepath.Ext(target)),
		Agents: []reasona.AgentDef{{File: filepath.Base(target)}},
	}
	pc.ApplyEnv()
	p, err := reasona.New(pc, filepath.Dir(target), opts...)
	if err != nil {
		return nil, err
	}
	p.Config.Primary = p.Agents()[0]
	return p, nil
}

// adhocProject wraps a single inline agent in a project
func (c *cli) adhocProject(def reasona.AgentDef) (*reasona.Project, error) {
	opts := append([]reasona.Option{reasona.WithLogger(c.logger)}, c.projectOpts...)
	pc := &reasona.ProjectConfig{Name: def.Name, Agents: []reasona.AgentDef{def}, Primary: def.Name}
	pc.ApplyEnv()
	return reasona.New(pc, ".", opts...)
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

// pickAgent returns the named agent, or the project's only or primary agent
func pickAgent(p *reasona.Project, name string) (*agent.Conductor, error) {
	if name == "" {
		name = p.Config.Primary
	}
	if name == "" {
		names := p.Agents()
		if len(names) != 1 {
			return nil, fmt.Errorf("project has %d agents; choose one with --agent", len(names))
		}
		name = names[0]
	}
	c, ok := p.Agent(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", reasona.ErrUnknownAgent, name)
	}
	return c, nil
}

// streamTo writes an agent's streamed answer to w followed by a newline
func streamTo(ctx context.Context, w io.Writer, a agent.Agent, input string) error {
	stream, err := a.Stream(ctx, input)
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Fprint(w, part)
	}
	fmt.Fprintln(w)
	return nil
}
