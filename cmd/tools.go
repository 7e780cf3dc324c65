package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/llm"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools with their limits and usage",
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	registry := llm.NewRegistry()
	cleanup, err := populateRegistry(cmd.Context(), cfg, registry)
	if err != nil {
		return err
	}
	defer cleanup()

	names := registry.Names()
	if len(names) == 0 {
		fmt.Println("No tools registered. Enable the sandbox or configure MCP servers in config.yaml.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Tool\tLimits\tCalls\tOK\tFailed\tCost\tDescription")
	for _, name := range names {
		def, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		u, _ := registry.Usage(name)
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t$%.4f\t%s\n",
			name, formatLimits(def.Limits), u.Total, u.Succeeded, u.Failed, u.CostUSD,
			truncate(def.Description, 60))
	}
	return w.Flush()
}

func formatLimits(l llm.Limits) string {
	var parts []string
	if l.MaxCalls > 0 {
		parts = append(parts, fmt.Sprintf("max %d", l.MaxCalls))
	}
	if l.CallsPerMinute > 0 {
		parts = append(parts, fmt.Sprintf("%d/min", l.CallsPerMinute))
	}
	if l.Cooldown > 0 {
		parts = append(parts, fmt.Sprintf("cooldown %s", l.Cooldown.Round(time.Second)))
	}
	if l.Reset != "" && l.Reset != llm.ResetNone {
		parts = append(parts, fmt.Sprintf("reset %s", l.Reset))
	}
	if len(parts) == 0 {
		return "unlimited"
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
