package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/muthuks2020/reasona"
)

func newScheduleCmd(c *cli) *cobra.Command {
	var (
		name    string
		spec    string
		input   string
		set     map[string]string
		maxRuns int
	)
	cmd := &cobra.Command{
		Use:   "schedule <project>",
		Short: "Run a workflow on a cron schedule",
		Example: `  reasona schedule reasona.yaml -w digest --cron "0 8 * * *" -i "today's news"
  reasona schedule reasona.yaml --cron "@every 30m" --max-runs 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.loadProject(args[0])
			if err != nil {
				return err
			}
			defer p.Close()

			if name, err = pickWorkflow(p, name); err != nil {
				return err
			}
			if _, ok := p.Workflow(name); !ok {
				return fmt.Errorf("%w: %s", reasona.ErrUnknownWorkflow, name)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sched := &scheduledRun{
				project: p,
				name:    name,
				inputs:  runInputs(input, set),
				maxRuns: maxRuns,
				logger:  c.logger.Named("schedule"),
				out:     cmd.OutOrStdout(),
				done:    cancel,
			}
			return sched.run(ctx, spec)
		},
	}
	cmd.Flags().StringVarP(&name, "workflow", "w", "", "workflow to run (default: the only workflow)")
	cmd.Flags().StringVar(&spec, "cron", "@hourly", "cron expression or descriptor such as @every 1h")
	cmd.Flags().StringVarP(&input, "input", "i", "", "value bound to {input}")
	cmd.Flags().StringToStringVar(&set, "set", nil, "additional inputs as key=value")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "stop after this many runs (0 runs until interrupted)")
	return cmd
}

type scheduledRun struct {
	project *reasona.Project
	name    string
	inputs  map[string]any
	maxRuns int
	logger  hclog.Logger
	out     io.Writer
	done    context.CancelFunc

	mu   sync.Mutex
	runs int
}

func (s *scheduledRun) run(ctx context.Context, spec string) error {
	cronLogger := cron.PrintfLogger(s.logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}))
	sched := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := sched.AddFunc(spec, func() { s.fire(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	sched.Start()
	s.logger.Info("schedule started", "workflow", s.name, "cron", spec, "next", sched.Entries()[0].Next)
	<-ctx.Done()
	<-sched.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("schedule stopped", "runs", s.runs)
	return nil
}

func (s *scheduledRun) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.project.Run(ctx, s.name, s.inputs)
	if err != nil {
		s.logger.Error("scheduled run failed", "workflow", s.name, "error", err)
	}
	if res != nil {
		s.logger.Info("scheduled run finished", "workflow", s.name, "run_id", res.RunID, "status", res.Status)
		if res.Output != "" {
			fmt.Fprintf(s.out, "[%s] %s\n", res.RunID, res.Output)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	if s.maxRuns > 0 && s.runs >= s.maxRuns {
		s.done()
	}
}
