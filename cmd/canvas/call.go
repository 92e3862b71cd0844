package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/canvas/mcpquic"
)

func newCallCmd() *cobra.Command {
	var (
		addr     string
		insecure bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call [tool [json-arguments]]",
		Short: "Call a tool on a running canvas server over MCP/QUIC",
		Long: `Connects to the QUIC MCP listener of "canvas serve --mcp-transport quic".
Without a tool name, lists the available tools. A canvas:// URI in place of
the tool name reads that resource.

  canvas call --insecure canvas_create '{"size":"phone"}'
  canvas call --insecure canvas://0123456789ab/state`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c := mcpquic.NewClient(addr, mcpquic.ClientTLSConfig(insecure))
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				if err := c.Ping(ctx); err != nil {
					return fmt.Errorf("ping: %w", err)
				}
				tools, err := c.ListTools(ctx)
				if err != nil {
					return err
				}
				for _, t := range tools.Tools {
					fmt.Fprintf(out, "%-14s %s\n", t.Name, t.Description)
				}
				return nil
			}

			if strings.HasPrefix(args[0], "canvas://") {
				res, err := c.Session().ReadResource(ctx, &mcp.ReadResourceParams{URI: args[0]})
				if err != nil {
					return err
				}
				for _, rc := range res.Contents {
					fmt.Fprintln(out, rc.Text)
				}
				return nil
			}

			var toolArgs map[string]any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
					return fmt.Errorf("arguments: %w", err)
				}
			}
			res, err := c.CallTool(ctx, args[0], toolArgs)
			if err != nil {
				return err
			}
			text := resultText(res)
			if res.IsError {
				return errors.New(text)
			}
			fmt.Fprintln(out, text)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "localhost:9444", "address of the QUIC MCP listener")
	f.BoolVar(&insecure, "insecure", false, "skip server certificate verification (self-signed servers)")
	f.DurationVar(&timeout, "timeout", 10*time.Second, "overall deadline for the call")
	return cmd
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}
