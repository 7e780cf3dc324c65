package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/mcptools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Inspect configured MCP servers",
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "Start the configured MCP servers and list their tools",
	RunE:  runMCPList,
}

func init() {
	mcpCmd.AddCommand(mcpListCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(cfg.MCP.Servers) == 0 {
		fmt.Println("No MCP servers configured. Add an mcp.servers block to config.yaml.")
		return nil
	}

	servers, err := mcpServers(cfg)
	if err != nil {
		return err
	}
	manager := mcptools.NewManager(servers)
	if err := manager.Start(cmd.Context()); err != nil {
		return fmt.Errorf("start mcp servers: %w", err)
	}
	defer manager.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Server\tStatus\tTool\tDescription")
	for _, info := range manager.List() {
		status := "running"
		if !info.Running {
			status = "stopped"
			if info.Err != nil {
				status = fmt.Sprintf("error: %v", info.Err)
			}
		}
		if len(info.Tools) == 0 {
			fmt.Fprintf(w, "%s\t%s\t-\t-\n", info.Name, status)
			continue
		}
		for _, tool := range info.Tools {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Name, status, tool.Name, truncate(tool.Description, 60))
		}
	}
	return w.Flush()
}
