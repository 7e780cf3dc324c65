package usage

import (
	"sort"
	"time"

	"github.com/agentloop/agentloop/internal/llm"
)

// DailyUsage aggregates turn records for one calendar day.
type DailyUsage struct {
	Date             string // YYYY-MM-DD
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
	Requests         int
	TotalCost        float64
	ModelsUsed       []string
}

// TotalTokens returns the sum of all token buckets for the day.
func (d DailyUsage) TotalTokens() int {
	return d.PromptTokens + d.CompletionTokens + d.CachedTokens
}

// ModelBreakdown aggregates turn records by model.
type ModelBreakdown struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
	Requests         int
	Cost             float64
}

// ToolBreakdown aggregates call records by tool.
type ToolBreakdown struct {
	Tool          string
	Calls         int
	Failures      int
	TotalDuration time.Duration
}

// AggregateDaily groups turns by day, sorted by date ascending.
func AggregateDaily(turns []llm.TurnRecord) []DailyUsage {
	if len(turns) == 0 {
		return nil
	}

	byDate := make(map[string]*DailyUsage)
	for _, t := range turns {
		date := t.StartedAt.Format("2006-01-02")
		daily, ok := byDate[date]
		if !ok {
			daily = &DailyUsage{Date: date}
			byDate[date] = daily
		}

		daily.PromptTokens += t.Usage.InputTokens
		daily.CompletionTokens += t.Usage.OutputTokens
		daily.CachedTokens += t.Usage.CachedInputTokens
		daily.Requests++
		daily.TotalCost += t.CostUSD

		found := false
		for _, m := range daily.ModelsUsed {
			if m == t.Model {
				found = true
				break
			}
		}
		if !found && t.Model != "" {
			daily.ModelsUsed = append(daily.ModelsUsed, t.Model)
		}
	}

	result := make([]DailyUsage, 0, len(byDate))
	for _, daily := range byDate {
		sort.Strings(daily.ModelsUsed)
		result = append(result, *daily)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result
}

// ByModel breaks turns down per model, sorted by total tokens descending.
func ByModel(turns []llm.TurnRecord) []ModelBreakdown {
	byModel := make(map[string]*ModelBreakdown)
	for _, t := range turns {
		model := t.Model
		if model == "" {
			model = "unknown"
		}
		mb, ok := byModel[model]
		if !ok {
			mb = &ModelBreakdown{Model: model}
			byModel[model] = mb
		}
		mb.PromptTokens += t.Usage.InputTokens
		mb.CompletionTokens += t.Usage.OutputTokens
		mb.CachedTokens += t.Usage.CachedInputTokens
		mb.Requests++
		mb.Cost += t.CostUSD
	}

	result := make([]ModelBreakdown, 0, len(byModel))
	for _, mb := range byModel {
		result = append(result, *mb)
	}
	sort.Slice(result, func(i, j int) bool {
		iTotal := result[i].PromptTokens + result[i].CompletionTokens
		jTotal := result[j].PromptTokens + result[j].CompletionTokens
		if iTotal != jTotal {
			return iTotal > jTotal
		}
		return result[i].Model < result[j].Model
	})
	return result
}

// ByTool breaks call records down per tool, sorted by call count descending.
func ByTool(calls []llm.ToolCallRecord) []ToolBreakdown {
	byTool := make(map[string]*ToolBreakdown)
	for _, c := range calls {
		tool := c.Tool
		if tool == "" {
			tool = "unknown"
		}
		tb, ok := byTool[tool]
		if !ok {
			tb = &ToolBreakdown{Tool: tool}
			byTool[tool] = tb
		}
		tb.Calls++
		if !c.Success {
			tb.Failures++
		}
		tb.TotalDuration += c.Duration
	}

	result := make([]ToolBreakdown, 0, len(byTool))
	for _, tb := range byTool {
		result = append(result, *tb)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Calls != result[j].Calls {
			return result[i].Calls > result[j].Calls
		}
		return result[i].Tool < result[j].Tool
	})
	return result
}

// Totals folds daily rows into one summary row.
func Totals(daily []DailyUsage) DailyUsage {
	total := DailyUsage{Date: "Total"}
	modelSet := make(map[string]bool)

	for _, d := range daily {
		total.PromptTokens += d.PromptTokens
		total.CompletionTokens += d.CompletionTokens
		total.CachedTokens += d.CachedTokens
		total.Requests += d.Requests
		total.TotalCost += d.TotalCost
		for _, m := range d.ModelsUsed {
			modelSet[m] = true
		}
	}
	for m := range modelSet {
		total.ModelsUsed = append(total.ModelsUsed, m)
	}
	sort.Strings(total.ModelsUsed)
	return total
}

// DefaultDateRange covers the last 7 days including today.
func DefaultDateRange() (since, until time.Time) {
	now := time.Now()
	until = time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	since = until.AddDate(0, 0, -6)
	since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, since.Location())
	return since, until
}

// ParseDateYYYYMMDD parses a date in YYYYMMDD format.
func ParseDateYYYYMMDD(s string) (time.Time, error) {
	return time.Parse("20060102", s)
}
