package llm

import (
	"context"
	"sync"
	"time"
)

// ToolCallRecord is emitted to the metrics sink after every dispatch attempt,
// including rejected and malformed ones.
type ToolCallRecord struct {
	CallID    string                 `json:"call_id"`
	Tool      string                 `json:"tool"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
	UsageInfo map[string]interface{} `json:"usage_info,omitempty"`
}

// TurnRecord is emitted to the metrics sink once per completed model turn.
type TurnRecord struct {
	Model      string        `json:"model"`
	Round      int           `json:"round"`
	StartedAt  time.Time     `json:"started_at"`
	Latency    time.Duration `json:"latency"`
	Usage      Usage         `json:"usage"`
	CostUSD    float64       `json:"cost_usd"`
	StopReason StopReason    `json:"stop_reason"`
	Prompt     string        `json:"prompt,omitempty"`
	Text       string        `json:"text,omitempty"`
}

// Sink receives usage records. Persistence format and location are the
// implementation's concern; the engine only emits.
type Sink interface {
	RecordToolCall(rec ToolCallRecord)
	RecordTurn(rec TurnRecord)
}

// toolUsageCarrierKey carries the per-call usage collector to handlers.
const toolUsageCarrierKey contextKey = "tool_usage_carrier"

type usageCarrier struct {
	mu     sync.Mutex
	values map[string]interface{}
}

func withUsageCarrier(ctx context.Context) (context.Context, *usageCarrier) {
	c := &usageCarrier{}
	return context.WithValue(ctx, toolUsageCarrierKey, c), c
}

func (c *usageCarrier) snapshot() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.values) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// ReportToolUsage attaches a tool-specific usage value (result counts, bytes
// fetched, upstream API cost) to the metrics record for the current call.
// No-op outside a dispatched handler.
func ReportToolUsage(ctx context.Context, key string, value interface{}) {
	c, ok := ctx.Value(toolUsageCarrierKey).(*usageCarrier)
	if !ok || c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]interface{})
	}
	c.values[key] = value
}
