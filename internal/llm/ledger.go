package llm

import (
	"sync"
	"time"
)

// Ledger accumulates token and cost statistics across turns. Counters only
// grow; one update lands per completed turn, so a cancelled run still keeps
// everything that finished before the cancel.
type Ledger struct {
	mu          sync.Mutex
	prompt      int
	completion  int
	cached      int
	requests    int
	costUSD     float64
	lastRequest time.Time
}

// UsageStats is a point-in-time view of a Ledger.
type UsageStats struct {
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
	Requests         int
	CostUSD          float64
	LastRequest      time.Time
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Record folds one completed turn into the ledger.
func (l *Ledger) Record(u Usage, costUSD float64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompt += u.InputTokens
	l.completion += u.OutputTokens
	l.cached += u.CachedInputTokens
	l.requests++
	l.costUSD += costUSD
	if at.After(l.lastRequest) {
		l.lastRequest = at
	}
}

// Stats returns a snapshot of the counters.
func (l *Ledger) Stats() UsageStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return UsageStats{
		PromptTokens:     l.prompt,
		CompletionTokens: l.completion,
		CachedTokens:     l.cached,
		Requests:         l.requests,
		CostUSD:          l.costUSD,
		LastRequest:      l.lastRequest,
	}
}
