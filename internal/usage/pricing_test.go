package usage

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentloop/agentloop/internal/llm"
)

func TestTable_Lookup(t *testing.T) {
	table := NewTable()

	tests := []struct {
		name  string
		model string
		found bool
	}{
		{"exact", "claude-sonnet-4-5", true},
		{"dated variant", "claude-sonnet-4-5-20250929", true},
		{"provider prefixed", "anthropic/claude-sonnet-4-5", true},
		{"openai default", "gpt-5.2", true},
		{"gemini default", "gemini-2.5-flash", true},
		{"unknown", "llama-9000", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := table.Lookup(tt.model)
			if ok != tt.found {
				t.Errorf("Lookup(%q) found = %v, want %v", tt.model, ok, tt.found)
			}
		})
	}
}

func TestTable_LookupPrefersLongestPrefix(t *testing.T) {
	table := NewTable()
	table.models["gpt-5"] = ModelPricing{InputPerMTok: 1}
	table.models["gpt-5-mini"] = ModelPricing{InputPerMTok: 2}

	p, ok := table.Lookup("gpt-5-mini-2025-08-07")
	if !ok {
		t.Fatal("Lookup failed")
	}
	if p.InputPerMTok != 2 {
		t.Errorf("matched the short key, InputPerMTok = %v", p.InputPerMTok)
	}
}

func TestTable_Cost(t *testing.T) {
	table := NewTable()
	table.models["test-model"] = ModelPricing{
		InputPerMTok:       2,
		OutputPerMTok:      8,
		CachedInputPerMTok: 1,
	}

	cost := table.Cost("test-model", llm.Usage{
		InputTokens:       1_000_000,
		OutputTokens:      500_000,
		CachedInputTokens: 250_000,
	})
	if want := 2.0 + 4.0 + 0.25; cost != want {
		t.Errorf("Cost = %v, want %v", cost, want)
	}

	if got := table.Cost("llama-9000", llm.Usage{InputTokens: 1_000_000}); got != 0 {
		t.Errorf("unknown model cost = %v, want 0", got)
	}
	if got := table.Cost("test-model", llm.Usage{}); got != 0 {
		t.Errorf("zero usage cost = %v, want 0", got)
	}
}

func TestTable_MergeSheet(t *testing.T) {
	table := NewTable()
	sheet := `{
		"sample_spec": {"comment": "schema entry with no prices"},
		"acme/frontier-1": {"input_cost_per_token": 0.000003, "output_cost_per_token": 0.000015, "cache_read_input_token_cost": 0.0000003},
		"acme/free-model": {"input_cost_per_token": 0, "output_cost_per_token": 0}
	}`
	if err := table.mergeSheet([]byte(sheet)); err != nil {
		t.Fatalf("mergeSheet error = %v", err)
	}

	p, ok := table.Lookup("acme/frontier-1")
	if !ok {
		t.Fatal("merged model not found")
	}
	if math.Abs(p.InputPerMTok-3) > 1e-9 || math.Abs(p.OutputPerMTok-15) > 1e-9 {
		t.Errorf("rates = %+v, want 3/15 per MTok", p)
	}
	if _, ok := table.Lookup("acme/free-model"); ok {
		t.Error("zero-rate entry should be skipped")
	}
	// Built-ins survive the merge.
	if _, ok := table.Lookup("claude-sonnet-4-5"); !ok {
		t.Error("built-in entry lost after merge")
	}
}

func TestTable_RefreshFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"acme/frontier-2": {"input_cost_per_token": 0.000001, "output_cost_per_token": 0.000002}}`))
	}))
	defer srv.Close()

	table := NewTable()
	table.url = srv.URL
	table.cacheDir = t.TempDir()

	if err := table.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error = %v", err)
	}
	if _, ok := table.Lookup("acme/frontier-2"); !ok {
		t.Error("refreshed model not found")
	}

	// Within the TTL a second refresh never hits the network.
	srv.Close()
	if err := table.Refresh(context.Background()); err != nil {
		t.Errorf("cached Refresh error = %v", err)
	}
}

func TestTable_RefreshServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	table := NewTable()
	table.url = srv.URL
	table.cacheDir = t.TempDir()

	if err := table.Refresh(context.Background()); err == nil {
		t.Error("expected error on HTTP 502")
	}
	// Built-ins still answer.
	if _, ok := table.Lookup("gpt-5.2"); !ok {
		t.Error("built-in entry unavailable after failed refresh")
	}
}
