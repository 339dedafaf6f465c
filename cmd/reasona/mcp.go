package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/muthuks2020/reasona/pkg/mcp"
)

func newMCPCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Publish a project's tools, agents and workflows over MCP",
	}
	cmd.AddCommand(newMCPServeCmd(c), newMCPToolsCmd(c), newMCPCallCmd(c))
	return cmd
}

func newMCPServeCmd(c *cli) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve <project|agent.md>",
		Short: "Start an MCP server for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.loadProject(args[0])
			if err != nil {
				return err
			}
			defer p.Close()

			srv, err := p.MCPServer()
			if err != nil {
				return err
			}
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			out := cmd.OutOrStdout()
			base := "http://" + displayAddr(addr)
			fmt.Fprintf(out, "MCP server %s on %s\n", srv.Name(), base)
			fmt.Fprintf(out, "JSON-RPC:  %s/rpc\n", base)
			fmt.Fprintf(out, "Tools:     %s/tools\n", base)
			fmt.Fprintf(out, "Resources: %s/resources\n", base)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "host to bind")
	cmd.Flags().IntVarP(&port, "port", "p", mcp.DefaultPort, "port to bind")
	return cmd
}

// localMCP builds the project's MCP server and connects to it in-process
func (c *cli) localMCP(target string) (*mcp.LocalTransport, func(), error) {
	p, err := c.loadProject(target)
	if err != nil {
		return nil, nil, err
	}
	srv, err := p.MCPServer()
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	mcp.RegisterLocalServer(srv)
	tr, err := mcp.NewLocalTransport(srv.Name())
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return tr, func() {
		_ = tr.Close()
		_ = p.Close()
	}, nil
}

func newMCPToolsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tools <project|agent.md>",
		Short: "List the tools a project publishes over MCP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, done, err := c.localMCP(args[0])
			if err != nil {
				return err
			}
			defer done()

			res, err := tr.Send(cmd.Context(), "tools/list", nil)
			if err != nil {
				return err
			}
			m, _ := res.(map[string]any)
			list, _ := m["tools"].([]mcp.ToolInfo)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDESCRIPTION")
			for _, t := range list {
				fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
			}
			return tw.Flush()
		},
	}
}

func newMCPCallCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "call <project|agent.md> <tool> [arguments-json]",
		Short: "Call one MCP tool in-process and print its result",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := mcp.CallToolParams{Name: args[1]}
			if len(args) == 3 {
				if !json.Valid([]byte(args[2])) {
					return fmt.Errorf("arguments must be JSON: %s", args[2])
				}
				params.Arguments = json.RawMessage(args[2])
			}

			tr, done, err := c.localMCP(args[0])
			if err != nil {
				return err
			}
			defer done()

			res, err := tr.Send(cmd.Context(), "tools/call", params)
			if err != nil {
				return err
			}
			result, ok := res.(*mcp.CallToolResult)
			if !ok {
				return fmt.Errorf("unexpected tools/call result %T", res)
			}
			var text []string
			for _, part := range result.Content {
				text = append(text, part.Text)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(text, "\n"))
			if result.IsError {
				return errors.New("tool call failed")
			}
			return nil
		},
	}
}
