package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentloop/agentloop/internal/llm"
)

const (
	liteLLMPricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"
	pricingCacheTTL   = 24 * time.Hour
)

// ModelPricing holds USD rates per million tokens.
type ModelPricing struct {
	InputPerMTok       float64
	OutputPerMTok      float64
	CachedInputPerMTok float64
}

// defaultPricing seeds the table so cost accounting works offline. Rates are
// per million tokens.
var defaultPricing = map[string]ModelPricing{
	"claude-opus-4-1":   {InputPerMTok: 15, OutputPerMTok: 75, CachedInputPerMTok: 1.50},
	"claude-sonnet-4-5": {InputPerMTok: 3, OutputPerMTok: 15, CachedInputPerMTok: 0.30},
	"claude-haiku-4-5":  {InputPerMTok: 1, OutputPerMTok: 5, CachedInputPerMTok: 0.10},
	"gpt-5.2":           {InputPerMTok: 1.25, OutputPerMTok: 10, CachedInputPerMTok: 0.125},
	"gpt-5-mini":        {InputPerMTok: 0.25, OutputPerMTok: 2, CachedInputPerMTok: 0.025},
	"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10, CachedInputPerMTok: 1.25},
	"gemini-2.5-pro":    {InputPerMTok: 1.25, OutputPerMTok: 10, CachedInputPerMTok: 0.31},
	"gemini-2.5-flash":  {InputPerMTok: 0.30, OutputPerMTok: 2.50, CachedInputPerMTok: 0.075},
}

// providerPrefixes are tried when a model name has no exact table entry.
var providerPrefixes = []string{
	"anthropic/",
	"openai/",
	"google/",
	"gemini/",
}

// Table maps model names to pricing. It starts from the built-in rates and
// can be refreshed from the LiteLLM price sheet.
type Table struct {
	mu         sync.RWMutex
	models     map[string]ModelPricing
	lastFetch  time.Time
	cacheDir   string
	httpClient *http.Client
	url        string
}

// NewTable returns a table seeded with the built-in rates.
func NewTable() *Table {
	cacheDir := filepath.Join(os.TempDir(), "agentloop-pricing")
	os.MkdirAll(cacheDir, 0755)

	models := make(map[string]ModelPricing, len(defaultPricing))
	for name, p := range defaultPricing {
		models[name] = p
	}
	return &Table{
		models:     models,
		cacheDir:   cacheDir,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        liteLLMPricingURL,
	}
}

// Lookup resolves pricing for a model name. It tries an exact match, then
// provider-prefixed keys, then a prefix match so dated variants like
// claude-sonnet-4-5-20250929 land on their base entry.
func (t *Table) Lookup(model string) (ModelPricing, bool) {
	if model == "" {
		return ModelPricing{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.models[model]; ok {
		return p, true
	}
	for _, prefix := range providerPrefixes {
		if p, ok := t.models[prefix+model]; ok {
			return p, true
		}
		if trimmed, found := strings.CutPrefix(model, prefix); found {
			if p, ok := t.models[trimmed]; ok {
				return p, true
			}
		}
	}

	// Longest key that prefixes the requested name wins.
	var best string
	for key := range t.models {
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return t.models[best], true
	}
	return ModelPricing{}, false
}

// Cost prices one turn's token usage. Unknown models cost zero; the three
// counters are disjoint buckets, each billed at its own rate.
func (t *Table) Cost(model string, u llm.Usage) float64 {
	p, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	cost := float64(u.InputTokens) / 1e6 * p.InputPerMTok
	cost += float64(u.OutputTokens) / 1e6 * p.OutputPerMTok
	cost += float64(u.CachedInputTokens) / 1e6 * p.CachedInputPerMTok
	return cost
}

// Refresh pulls current rates from the LiteLLM price sheet, falling back to a
// cached copy on disk when the network is out. Built-in entries survive a
// refresh unless the sheet overrides them.
func (t *Table) Refresh(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastFetch.IsZero() && time.Since(t.lastFetch) < pricingCacheTTL {
		return nil
	}

	cacheFile := filepath.Join(t.cacheDir, "pricing.json")
	if info, err := os.Stat(cacheFile); err == nil && time.Since(info.ModTime()) < pricingCacheTTL {
		if data, err := os.ReadFile(cacheFile); err == nil {
			if err := t.mergeSheet(data); err == nil {
				return nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		// Stale cache beats no data.
		if data, rerr := os.ReadFile(cacheFile); rerr == nil {
			if merr := t.mergeSheet(data); merr == nil {
				return nil
			}
		}
		return fmt.Errorf("fetch pricing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch pricing: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read pricing: %w", err)
	}
	if err := t.mergeSheet(data); err != nil {
		return err
	}
	os.WriteFile(cacheFile, data, 0644)
	return nil
}

// mergeSheet folds LiteLLM's per-token rates into the table as per-MTok
// rates. Callers hold the write lock.
func (t *Table) mergeSheet(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse pricing sheet: %w", err)
	}

	type sheetEntry struct {
		InputCostPerToken    float64 `json:"input_cost_per_token"`
		OutputCostPerToken   float64 `json:"output_cost_per_token"`
		CacheReadInputPerTok float64 `json:"cache_read_input_token_cost"`
	}
	for key, value := range raw {
		var e sheetEntry
		if err := json.Unmarshal(value, &e); err != nil {
			continue
		}
		if e.InputCostPerToken == 0 && e.OutputCostPerToken == 0 {
			continue
		}
		t.models[key] = ModelPricing{
			InputPerMTok:       e.InputCostPerToken * 1e6,
			OutputPerMTok:      e.OutputCostPerToken * 1e6,
			CachedInputPerMTok: e.CacheReadInputPerTok * 1e6,
		}
	}
	t.lastFetch = time.Now()
	return nil
}
