package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/llm"
	"github.com/agentloop/agentloop/internal/mcptools"
	"github.com/agentloop/agentloop/internal/metrics"
	"github.com/agentloop/agentloop/internal/notify"
	"github.com/agentloop/agentloop/internal/sandbox"
	"github.com/agentloop/agentloop/internal/usage"
)

var (
	runProvider      string
	runModel         string
	runSystem        string
	runMaxRounds     int
	runStreamTimeout time.Duration
	runToolTimeout   time.Duration
	runNoTools       bool
	runJSON          bool
	runDebug         bool
	runStats         bool
)

var runCmd = &cobra.Command{
	Use:   "run \"prompt\"",
	Short: "Run a one-shot agentic conversation",
	Long: `Send a prompt to the configured provider and loop over tool rounds
until the model produces a final answer.

Text streams to stdout as it arrives. On a terminal the final answer is
rendered as markdown instead.

Examples:
  agentloop run "what changed in the last release?"
  agentloop run --provider gemini --max-rounds 3 "plot sin(x) with run_code"
  agentloop run --json "list the configured MCP tools and call one"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runProvider, "provider", "p", "", "Provider (anthropic, openai, gemini)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model id override for the active provider")
	runCmd.Flags().StringVar(&runSystem, "system", "", "System prompt")
	runCmd.Flags().IntVar(&runMaxRounds, "max-rounds", 0, "Tool round cap (0 uses config)")
	runCmd.Flags().DurationVar(&runStreamTimeout, "stream-timeout", 0, "Per-turn stream timeout (0 uses config)")
	runCmd.Flags().DurationVar(&runToolTimeout, "tool-timeout", 0, "Per-tool-call timeout (0 uses config)")
	runCmd.Flags().BoolVar(&runNoTools, "no-tools", false, "Advertise no tools (plain completion)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Emit the result as JSON")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Verbose engine logging to stderr")
	runCmd.Flags().BoolVar(&runStats, "stats", false, "Print token and cost totals after the run")
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return fmt.Errorf("empty prompt")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(runProvider, runModel)
	if runMaxRounds > 0 {
		cfg.Engine.MaxRounds = runMaxRounds
	}
	if runStreamTimeout > 0 {
		cfg.Engine.StreamTimeout = runStreamTimeout
	}
	if runToolTimeout > 0 {
		cfg.Engine.ToolTimeout = runToolTimeout
	}

	providerName, providerCfg := cfg.ActiveProvider()
	provider, err := llm.NewProvider(providerName, providerCfg.APIKey, providerCfg.Model)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := llm.NewRegistry()
	if !runNoTools {
		cleanup, err := populateRegistry(ctx, cfg, registry)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	sink, err := sinkFromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Printf("warning: closing metrics sink: %v", err)
		}
	}()

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	streaming := !runJSON && !isTTY

	pricing := usage.NewTable()
	opts := llm.Options{
		MaxRounds:     cfg.Engine.MaxRounds,
		StreamTimeout: cfg.Engine.StreamTimeout,
		ToolTimeout:   cfg.Engine.ToolTimeout,
		Price:         pricing.Cost,
		Notifier:      notify.ForEngine(notifierFromConfig(cfg)),
		Sink:          sink,
		Logger:        runLogger(),
	}
	if streaming {
		opts.Hooks.Text = func(fragment string) {
			fmt.Print(fragment)
		}
	}
	if !runJSON {
		opts.Hooks.ToolStart = func(call llm.ToolCall) {
			fmt.Fprintf(os.Stderr, "· %s(%s)\n", call.Name, compactArgs(call.Arguments))
		}
		opts.Hooks.ToolEnd = func(call llm.ToolCall, result llm.ToolResult, took time.Duration) {
			status := "ok"
			if result.IsError {
				status = "error"
			}
			fmt.Fprintf(os.Stderr, "· %s %s in %s\n", call.Name, status, took.Round(time.Millisecond))
		}
	}

	engine := llm.NewEngine(provider, registry, opts)

	req := llm.Request{Model: providerCfg.Model}
	if runSystem != "" {
		req.Messages = append(req.Messages, llm.SystemText(runSystem))
	}
	req.Messages = append(req.Messages, llm.UserText(prompt))

	res, runErr := engine.Run(ctx, req)

	switch {
	case runJSON:
		if err := printRunJSON(os.Stdout, res, runErr); err != nil {
			return err
		}
	case streaming:
		if res != nil && res.Text != "" && !strings.HasSuffix(res.Text, "\n") {
			fmt.Println()
		}
	default:
		if res != nil && res.Text != "" {
			fmt.Println(renderFinal(res.Text))
		}
	}

	if runStats && !runJSON {
		printStats(os.Stderr, engine.Usage(), res)
	}
	return runErr
}

// populateRegistry registers the locally configured tools and every tool the
// configured MCP servers export. The returned cleanup stops the servers.
func populateRegistry(ctx context.Context, cfg *config.Config, registry *llm.Registry) (func(), error) {
	if cfg.Sandbox.Enabled {
		session := sandbox.NewSession(&sandbox.LocalRunner{Interpreter: cfg.Sandbox.Interpreter})
		if err := registry.Register(sandbox.NewRunCodeTool(session)); err != nil {
			return nil, err
		}
	}

	if len(cfg.MCP.Servers) == 0 {
		return func() {}, nil
	}
	servers, err := mcpServers(cfg)
	if err != nil {
		return nil, err
	}
	manager := mcptools.NewManager(servers)
	if err := manager.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp servers: %w", err)
	}
	if _, err := manager.Register(registry); err != nil {
		manager.Close()
		return nil, err
	}
	return func() {
		if err := manager.Close(); err != nil {
			log.Printf("warning: closing mcp servers: %v", err)
		}
	}, nil
}

func mcpServers(cfg *config.Config) (map[string]mcptools.ServerConfig, error) {
	servers := make(map[string]mcptools.ServerConfig, len(cfg.MCP.Servers))
	for name, srv := range cfg.MCP.Servers {
		limits, err := srv.Limits.ToolLimits()
		if err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", name, err)
		}
		servers[name] = mcptools.ServerConfig{
			Command: srv.Command,
			Args:    srv.Args,
			Env:     srv.Env,
			Limits:  limits,
		}
	}
	return servers, nil
}

func sinkFromConfig(cfg *config.Config) (metrics.Sink, error) {
	return metrics.NewSink(metrics.Config{
		Enabled:    cfg.Metrics.Enabled,
		Path:       cfg.Metrics.Path,
		JSONLDir:   cfg.Metrics.JSONLDir,
		MaxAgeDays: cfg.Metrics.MaxAgeDays,
	})
}

// notifierFromConfig builds the best-effort notifier chain from whatever
// channels the config enables. No channel configured means a no-op.
func notifierFromConfig(cfg *config.Config) notify.Notifier {
	var chain notify.Multi
	if cfg.Notify.Telegram.Enabled() {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID)
		if err != nil {
			log.Printf("warning: telegram notifier disabled: %v", err)
		} else {
			chain = append(chain, tg)
		}
	}
	if cfg.Notify.WebPush.Enabled() {
		wp, err := notify.NewWebPush(
			cfg.Notify.WebPush.Subscriber,
			cfg.Notify.WebPush.VAPIDPublicKey,
			cfg.Notify.WebPush.VAPIDPrivateKey,
			cfg.Notify.WebPush.Subscriptions,
		)
		if err != nil {
			log.Printf("warning: webpush notifier disabled: %v", err)
		} else {
			chain = append(chain, wp)
		}
	}
	if len(chain) == 0 {
		return notify.Nop{}
	}
	return chain
}

func runLogger() *slog.Logger {
	if !runDebug {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// renderFinal renders markdown for a terminal, falling back to the raw text.
func renderFinal(text string) string {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(rendered)
}

type runJSONOutput struct {
	Text       string         `json:"text"`
	State      llm.State      `json:"state"`
	StopReason llm.StopReason `json:"stop_reason,omitempty"`
	Rounds     int            `json:"rounds"`
	Usage      llm.Usage      `json:"usage"`
	CostUSD    float64        `json:"cost_usd"`
	Error      string         `json:"error,omitempty"`
}

func printRunJSON(w io.Writer, res *llm.Result, runErr error) error {
	out := runJSONOutput{}
	if res != nil {
		out.Text = res.Text
		out.State = res.State
		out.StopReason = res.StopReason
		out.Rounds = res.Rounds
		out.Usage = res.Usage
		out.CostUSD = res.CostUSD
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStats(w *os.File, stats llm.UsageStats, res *llm.Result) {
	rounds := 0
	if res != nil {
		rounds = res.Rounds
	}
	fmt.Fprintf(w, "\n%d request(s), %d tool round(s), %d in / %d out tokens, $%.4f\n",
		stats.Requests, rounds, stats.PromptTokens, stats.CompletionTokens, stats.CostUSD)
}

// compactArgs shortens a call's argument document for the progress line.
func compactArgs(args json.RawMessage) string {
	s := string(args)
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
