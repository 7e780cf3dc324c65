package metrics

import "github.com/agentloop/agentloop/internal/llm"

// Nop discards all records.
type Nop struct{}

func (Nop) RecordToolCall(llm.ToolCallRecord) {}
func (Nop) RecordTurn(llm.TurnRecord)         {}
func (Nop) Close() error                      { return nil }
