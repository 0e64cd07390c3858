package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sdetpro/tcgen/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for coding-agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets coding agents run prelight estimates and test-case generation
directly. Configure with:

  {
    "mcpServers": {
      "tcgen": { "command": "tcgen", "args": ["mcp"] }
    }
  }

Available tools: tcgen_prelight, tcgen_generate, tcgen_list_history,
tcgen_get_generation`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		// History is optional for the MCP surface; tools degrade gracefully.
		s, err := getStore()
		if err != nil {
			ui.Warning("history unavailable: %v", err)
			s = nil
		}

		srv := mcp.NewServer(client, s, intakeConfig())
		return srv.ServeStdio(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
