package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/metrics"
	"github.com/agentloop/agentloop/internal/usage"
)

var (
	usageSince   string
	usageUntil   string
	usageJSON    bool
	usageByModel bool
	usageByTool  bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show recorded token usage and costs",
	Long: `Show aggregated token usage from the local metrics database.

Examples:
  agentloop usage                     # last 7 days, by day
  agentloop usage --since 20260101    # from Jan 1, 2026
  agentloop usage --by-model          # per-model breakdown
  agentloop usage --by-tool           # per-tool call counts
  agentloop usage --json              # machine readable`,
	RunE: runUsageCmd,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().StringVar(&usageSince, "since", "", "Start date (YYYYMMDD)")
	usageCmd.Flags().StringVar(&usageUntil, "until", "", "End date (YYYYMMDD)")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Output as JSON")
	usageCmd.Flags().BoolVar(&usageByModel, "by-model", false, "Break totals down per model")
	usageCmd.Flags().BoolVar(&usageByTool, "by-tool", false, "Break totals down per tool")
}

func runUsageCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	since, until := usage.DefaultDateRange()
	if usageSince != "" {
		t, err := usage.ParseDateYYYYMMDD(usageSince)
		if err != nil {
			return fmt.Errorf("invalid --since date (expected YYYYMMDD): %w", err)
		}
		since = t
	}
	if usageUntil != "" {
		t, err := usage.ParseDateYYYYMMDD(usageUntil)
		if err != nil {
			return fmt.Errorf("invalid --until date (expected YYYYMMDD): %w", err)
		}
		until = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
	}

	path := cfg.Metrics.Path
	if path == "" {
		path, err = metrics.DBPath()
		if err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Println("No usage recorded yet.")
		return nil
	}
	store, err := metrics.NewSQLiteStore(path, 0)
	if err != nil {
		return err
	}
	defer store.Close()

	turns, err := store.QueryTurns(cmd.Context(), since, until)
	if err != nil {
		return err
	}
	calls, err := store.QueryToolCalls(cmd.Context(), since, until)
	if err != nil {
		return err
	}

	daily := usage.AggregateDaily(turns)
	totals := usage.Totals(daily)

	if usageJSON {
		out := struct {
			Daily   []usage.DailyUsage     `json:"daily"`
			Totals  usage.DailyUsage       `json:"totals"`
			ByModel []usage.ModelBreakdown `json:"by_model,omitempty"`
			ByTool  []usage.ToolBreakdown  `json:"by_tool,omitempty"`
		}{Daily: daily, Totals: totals}
		if usageByModel {
			out.ByModel = usage.ByModel(turns)
		}
		if usageByTool {
			out.ByTool = usage.ByTool(calls)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(daily) == 0 && len(calls) == 0 {
		fmt.Println("No usage recorded for the selected date range.")
		return nil
	}

	fmt.Printf("Usage from %s to %s\n\n", since.Format("2006-01-02"), until.Format("2006-01-02"))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "Date\t Prompt\t Completion\t Cached\t Requests\t Cost\t\n")
	fmt.Fprintf(w, "────\t ──────\t ──────────\t ──────\t ────────\t ────\t\n")
	for _, d := range daily {
		fmt.Fprintf(w, "%s\t %s\t %s\t %s\t %d\t $%.4f\t\n",
			d.Date, humanTokens(d.PromptTokens), humanTokens(d.CompletionTokens),
			humanTokens(d.CachedTokens), d.Requests, d.TotalCost)
	}
	fmt.Fprintf(w, "Total\t %s\t %s\t %s\t %d\t $%.4f\t\n",
		humanTokens(totals.PromptTokens), humanTokens(totals.CompletionTokens),
		humanTokens(totals.CachedTokens), totals.Requests, totals.TotalCost)
	if err := w.Flush(); err != nil {
		return err
	}
	if len(totals.ModelsUsed) > 0 {
		fmt.Printf("\nModels: %s\n", strings.Join(totals.ModelsUsed, ", "))
	}

	if usageByModel {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(w, "Model\t Prompt\t Completion\t Requests\t Cost\t\n")
		for _, m := range usage.ByModel(turns) {
			fmt.Fprintf(w, "%s\t %s\t %s\t %d\t $%.4f\t\n",
				m.Model, humanTokens(m.PromptTokens), humanTokens(m.CompletionTokens),
				m.Requests, m.Cost)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if usageByTool {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(w, "Tool\t Calls\t Failures\t Total time\t\n")
		for _, t := range usage.ByTool(calls) {
			fmt.Fprintf(w, "%s\t %d\t %d\t %s\t\n",
				t.Tool, t.Calls, t.Failures, t.TotalDuration.Round(time.Millisecond))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// humanTokens renders token counts compactly (1234567 -> 1.2M).
func humanTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
