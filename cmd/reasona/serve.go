package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/muthuks2020/reasona"
	"github.com/muthuks2020/reasona/pkg/config"
	"github.com/muthuks2020/reasona/pkg/server"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		host  string
		port  int
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve <project|agent.md>",
		Short: "Serve agents and workflows over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			p, err := c.loadProject(target)
			if err != nil {
				return err
			}

			cfg := p.Config.Server
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			addr := cfg.Addr()

			srv := p.Server()
			ctx := cmd.Context()
			if watch {
				changes, err := config.Watch(ctx, c.logger.Named("watch"), watchPaths(target, p)...)
				if err != nil {
					_ = p.Close()
					return err
				}
				live := &liveProject{p: p}
				go c.reloadLoop(target, srv, changes, live)
				defer live.Close()
			} else {
				defer p.Close()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Serving %s on http://%s\n", p.Name, displayAddr(addr))
			if len(srv.Agents()) > 0 {
				fmt.Fprintf(out, "Agent card: http://%s/.well-known/agent-card.json\n", displayAddr(addr))
			}
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "host to bind (default from the project file)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to bind (default from the project file)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "reload agents and workflows when project files change")
	return cmd
}

// watchPaths lists the files a served project is built from
func watchPaths(target string, p *reasona.Project) []string {
	paths := []string{target}
	if isMarkdown(target) || p.Config.AgentsDir == "" {
		return paths
	}
	dir := p.Config.AgentsDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(target), dir)
	}
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		paths = append(paths, dir)
	}
	return paths
}

// liveProject is the project a watching server currently serves
type liveProject struct {
	mu     sync.Mutex
	p      *reasona.Project
	closed bool
}

// replace installs next and returns the project it replaced. After Close it
// returns next itself so the caller releases it.
func (l *liveProject) replace(next *reasona.Project) *reasona.Project {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return next
	}
	old := l.p
	l.p = next
	return old
}

func (l *liveProject) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.p.Close()
}

// reloadLoop rebuilds the project on every change signal and swaps its
// agents and workflows into the running server. A project that fails to
// load leaves the previous one serving.
func (c *cli) reloadLoop(target string, srv *server.Server, changes <-chan struct{}, live *liveProject) {
	for range changes {
		next, err := c.loadProject(target)
		if err != nil {
			c.logger.Error("reload failed; keeping previous project", "error", err)
			continue
		}
		old := live.replace(next)
		if old != next {
			swap(srv, next)
		}
		if err := old.Close(); err != nil {
			c.logger.Warn("closing previous project", "error", err)
		}
		if old != next {
			c.logger.Info("project reloaded", "agents", len(next.Agents()), "workflows", len(next.Workflows()))
		}
	}
}

// swap replaces the server's agents and workflows with the project's
func swap(srv *server.Server, p *reasona.Project) {
	keep := make(map[string]bool)
	for _, name := range p.Agents() {
		a, _ := p.Agent(name)
		srv.SetAgent(a)
		keep[name] = true
	}
	for _, name := range srv.Agents() {
		if !keep[name] {
			srv.RemoveAgent(name)
		}
	}

	clear(keep)
	for _, name := range p.Workflows() {
		wf, _ := p.Workflow(name)
		srv.SetWorkflow(wf)
		keep[name] = true
	}
	for _, name := range srv.Workflows() {
		if !keep[name] {
			srv.RemoveWorkflow(name)
		}
	}
	srv.SetPrimary(p.Primary())
}

func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
