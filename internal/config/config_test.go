package config

import (
	"os"
	"testing"
	"time"

	"github.com/agentloop/agentloop/internal/llm"
)

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{
		Provider: "anthropic",
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{Model: "claude-sonnet-4-5"},
			OpenAI:    ProviderConfig{Model: "gpt-5.2"},
			Gemini:    ProviderConfig{Model: "gemini-2.5-flash"},
		},
	}

	cfg.ApplyOverrides("openai", "gpt-4o")
	if cfg.Provider != "openai" {
		t.Fatalf("provider=%q, want %q", cfg.Provider, "openai")
	}
	if cfg.Providers.OpenAI.Model != "gpt-4o" {
		t.Fatalf("openai model=%q, want %q", cfg.Providers.OpenAI.Model, "gpt-4o")
	}
	if cfg.Providers.Anthropic.Model != "claude-sonnet-4-5" {
		t.Fatalf("anthropic model changed unexpectedly: %q", cfg.Providers.Anthropic.Model)
	}

	cfg.ApplyOverrides("", "gpt-4o-mini")
	if cfg.Provider != "openai" {
		t.Fatalf("provider changed unexpectedly: %q", cfg.Provider)
	}
	if cfg.Providers.OpenAI.Model != "gpt-4o-mini" {
		t.Fatalf("openai model=%q, want %q", cfg.Providers.OpenAI.Model, "gpt-4o-mini")
	}
}

func TestActiveProvider(t *testing.T) {
	cfg := &Config{
		Provider: "gemini",
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{Model: "a"},
			OpenAI:    ProviderConfig{Model: "o"},
			Gemini:    ProviderConfig{Model: "g"},
		},
	}

	tests := []struct {
		provider  string
		wantModel string
	}{
		{"anthropic", "a"},
		{"openai", "o"},
		{"gemini", "g"},
		{"google", "g"},
		{"ANTHROPIC", "a"},
	}
	for _, tt := range tests {
		cfg.Provider = tt.provider
		_, pc := cfg.ActiveProvider()
		if pc.Model != tt.wantModel {
			t.Errorf("ActiveProvider() with %q = model %q, want %q", tt.provider, pc.Model, tt.wantModel)
		}
	}
}

func TestLimitsConfigToolLimits(t *testing.T) {
	lc := LimitsConfig{
		MaxCalls:       10,
		CallsPerMinute: 3,
		Cooldown:       2 * time.Second,
		CostPerCall:    0.05,
		Reset:          "Hourly",
	}
	limits, err := lc.ToolLimits()
	if err != nil {
		t.Fatalf("ToolLimits() error = %v", err)
	}
	if limits.MaxCalls != 10 || limits.CallsPerMinute != 3 || limits.Cooldown != 2*time.Second {
		t.Errorf("ToolLimits() = %+v", limits)
	}
	if limits.Reset != llm.ResetHourly {
		t.Errorf("Reset = %q, want %q", limits.Reset, llm.ResetHourly)
	}

	if _, err := (LimitsConfig{Reset: "weekly"}).ToolLimits(); err == nil {
		t.Error("ToolLimits() with unknown reset interval should fail")
	}

	limits, err = LimitsConfig{}.ToolLimits()
	if err != nil {
		t.Fatalf("ToolLimits() zero value error = %v", err)
	}
	if limits.Reset != llm.ResetNone {
		t.Errorf("zero-value Reset = %q, want %q", limits.Reset, llm.ResetNone)
	}
}

func TestExpandEnv(t *testing.T) {
	os.Setenv("AGENTLOOP_TEST_SECRET", "s3cret")
	defer os.Unsetenv("AGENTLOOP_TEST_SECRET")

	tests := []struct {
		in   string
		want string
	}{
		{"${AGENTLOOP_TEST_SECRET}", "s3cret"},
		{"$AGENTLOOP_TEST_SECRET", "s3cret"},
		{"literal", "literal"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
