package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "agentloop",
	Short: "Run tool-using conversations against an LLM provider",
	Long: `agentloop drives an agentic conversation loop: it streams model output,
reassembles tool calls from the wire, executes registered tools under rate
and quota limits, feeds results back, and repeats until the model answers.

Examples:
  agentloop run "summarize the open issues in this repo"
  agentloop run --provider openai --max-rounds 5 "what time is it in Tokyo?"
  agentloop tools                       # registered tools and their limits
  agentloop usage --since 20260801      # token and cost history
  agentloop mcp list                    # configured MCP servers`,
	Version:           Version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
