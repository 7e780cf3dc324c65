package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentloop/agentloop/internal/llm"
)

type Config struct {
	Provider  string          `mapstructure:"provider"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	MCP       MCPConfig       `mapstructure:"mcp"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Gemini    ProviderConfig `mapstructure:"gemini"`
}

type ProviderConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// EngineConfig bounds a run. Durations accept Go syntax ("90s", "5m").
type EngineConfig struct {
	MaxRounds     int           `mapstructure:"max_rounds"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`         // sqlite path, empty = default data dir
	JSONLDir   string `mapstructure:"jsonl_dir"`    // empty disables jsonl mirroring
	MaxAgeDays int    `mapstructure:"max_age_days"` // 0 keeps everything
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	WebPush  WebPushConfig  `mapstructure:"webpush"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// Enabled reports whether the block carries enough to build the notifier.
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

type WebPushConfig struct {
	Subscriber      string   `mapstructure:"subscriber"`
	VAPIDPublicKey  string   `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string   `mapstructure:"vapid_private_key"`
	Subscriptions   []string `mapstructure:"subscriptions"` // JSON subscription objects
}

func (w WebPushConfig) Enabled() bool {
	return len(w.Subscriptions) > 0
}

// SandboxConfig controls the run_code tool. Disabled by default: enabling
// it lets the model execute code on this machine.
type SandboxConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Interpreter string `mapstructure:"interpreter"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `mapstructure:"servers"`
}

// MCPServerConfig describes one stdio MCP server.
type MCPServerConfig struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Limits  LimitsConfig      `mapstructure:"limits"`
}

// LimitsConfig is the config-file shape of llm.Limits.
type LimitsConfig struct {
	MaxCalls       int           `mapstructure:"max_calls"`
	CallsPerMinute int           `mapstructure:"calls_per_minute"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	CostPerCall    float64       `mapstructure:"cost_per_call"`
	Reset          string        `mapstructure:"reset"` // none, hourly, daily, monthly
}

// ToolLimits converts to the registry's limit type.
func (l LimitsConfig) ToolLimits() (llm.Limits, error) {
	var reset llm.ResetInterval
	switch strings.ToLower(l.Reset) {
	case "", string(llm.ResetNone):
		reset = llm.ResetNone
	case string(llm.ResetHourly):
		reset = llm.ResetHourly
	case string(llm.ResetDaily):
		reset = llm.ResetDaily
	case string(llm.ResetMonthly):
		reset = llm.ResetMonthly
	default:
		return llm.Limits{}, fmt.Errorf("unknown reset interval %q (valid: none, hourly, daily, monthly)", l.Reset)
	}
	return llm.Limits{
		MaxCalls:       l.MaxCalls,
		CallsPerMinute: l.CallsPerMinute,
		Cooldown:       l.Cooldown,
		CostPerCall:    l.CostPerCall,
		Reset:          reset,
	}, nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("AGENTLOOP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("provider", "anthropic")
	viper.SetDefault("providers.anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("providers.openai.model", "gpt-5.2")
	viper.SetDefault("providers.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("engine.max_rounds", llm.DefaultMaxRounds)
	viper.SetDefault("engine.stream_timeout", "5m")
	viper.SetDefault("engine.tool_timeout", "1m")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("sandbox.enabled", false)
	viper.SetDefault("sandbox.interpreter", "python3")

	// Read config file (optional - won't error if missing)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveProviderCredentials(&cfg.Providers.Anthropic, "ANTHROPIC_API_KEY")
	resolveProviderCredentials(&cfg.Providers.OpenAI, "OPENAI_API_KEY")
	resolveProviderCredentials(&cfg.Providers.Gemini, "GEMINI_API_KEY")
	resolveNotifyCredentials(&cfg.Notify)
	for _, srv := range cfg.MCP.Servers {
		for k, v := range srv.Env {
			srv.Env[k] = expandEnv(v)
		}
	}

	return &cfg, nil
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch strings.ToLower(c.Provider) {
		case "anthropic":
			c.Providers.Anthropic.Model = model
		case "openai":
			c.Providers.OpenAI.Model = model
		case "gemini", "google":
			c.Providers.Gemini.Model = model
		}
	}
}

// ActiveProvider returns the selected provider name and its block. Unknown
// names fall through to the anthropic block; llm.NewProvider rejects the
// name itself.
func (c *Config) ActiveProvider() (string, ProviderConfig) {
	name := strings.ToLower(c.Provider)
	switch name {
	case "openai":
		return name, c.Providers.OpenAI
	case "gemini", "google":
		return name, c.Providers.Gemini
	default:
		return name, c.Providers.Anthropic
	}
}

// resolveProviderCredentials expands the configured key and falls back to
// the provider's environment variable.
func resolveProviderCredentials(cfg *ProviderConfig, envVar string) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(envVar)
	}
}

func resolveNotifyCredentials(cfg *NotifyConfig) {
	cfg.Telegram.Token = expandEnv(cfg.Telegram.Token)
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	cfg.WebPush.Subscriber = expandEnv(cfg.WebPush.Subscriber)
	cfg.WebPush.VAPIDPublicKey = expandEnv(cfg.WebPush.VAPIDPublicKey)
	cfg.WebPush.VAPIDPrivateKey = expandEnv(cfg.WebPush.VAPIDPrivateKey)
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for agentloop.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "agentloop"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "agentloop"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes the config to disk
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# Any key below can be overridden with an AGENTLOOP_* environment variable,
# e.g. AGENTLOOP_PROVIDER or AGENTLOOP_ENGINE_MAX_ROUNDS.
provider: %s

providers:
  anthropic:
    model: %s
    # api_key: ${ANTHROPIC_API_KEY}
  openai:
    model: %s
    # api_key: ${OPENAI_API_KEY}
  gemini:
    model: %s
    # api_key: ${GEMINI_API_KEY}

engine:
  max_rounds: %d
  stream_timeout: %s
  tool_timeout: %s

metrics:
  enabled: %t
  # jsonl_dir: ~/agentloop-logs

sandbox:
  # Enabling this lets the model run code locally via the interpreter below.
  enabled: %t
  interpreter: %s

# notify:
#   telegram:
#     token: ${TELEGRAM_BOT_TOKEN}
#     chat_id: 123456789

# mcp:
#   servers:
#     github:
#       command: github-mcp-server
#       args: ["stdio"]
#       env:
#         GITHUB_TOKEN: ${GITHUB_TOKEN}
#       limits:
#         max_calls: 50
#         reset: daily
`, cfg.Provider,
		cfg.Providers.Anthropic.Model, cfg.Providers.OpenAI.Model, cfg.Providers.Gemini.Model,
		cfg.Engine.MaxRounds, cfg.Engine.StreamTimeout, cfg.Engine.ToolTimeout,
		cfg.Metrics.Enabled, cfg.Sandbox.Enabled, cfg.Sandbox.Interpreter)

	return os.WriteFile(path, []byte(content), 0600)
}
