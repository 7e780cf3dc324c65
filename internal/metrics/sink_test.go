package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentloop/agentloop/internal/llm"
)

type countingSink struct {
	calls int
	turns int
}

func (c *countingSink) RecordToolCall(llm.ToolCallRecord) { c.calls++ }
func (c *countingSink) RecordTurn(llm.TurnRecord)         { c.turns++ }
func (c *countingSink) Close() error                      { return nil }

func TestJSONLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONL(dir)
	if err != nil {
		t.Fatalf("NewJSONL error = %v", err)
	}

	sink.RecordToolCall(llm.ToolCallRecord{
		CallID:    "c1",
		Tool:      "search",
		StartedAt: time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC),
		Duration:  10 * time.Millisecond,
		Success:   true,
	})
	sink.RecordTurn(llm.TurnRecord{
		Model:      "claude-sonnet-4-5",
		StartedAt:  time.Date(2026, 8, 14, 9, 0, 1, 0, time.UTC),
		Usage:      llm.Usage{InputTokens: 100, OutputTokens: 20},
		StopReason: llm.StopEndTurn,
	})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	var call llm.ToolCallRecord
	readOneJSONL(t, filepath.Join(dir, "tool_calls.jsonl"), &call)
	if call.CallID != "c1" || call.Tool != "search" || !call.Success {
		t.Errorf("call = %+v", call)
	}
	if call.Duration != 10*time.Millisecond {
		t.Errorf("Duration = %v", call.Duration)
	}

	var turn llm.TurnRecord
	readOneJSONL(t, filepath.Join(dir, "llm_turns.jsonl"), &turn)
	if turn.Model != "claude-sonnet-4-5" || turn.Usage.InputTokens != 100 {
		t.Errorf("turn = %+v", turn)
	}
}

func readOneJSONL(t *testing.T, path string, v interface{}) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatalf("%s is empty", path)
	}
	if err := json.Unmarshal(scanner.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %s: %v", path, err)
	}
	if scanner.Scan() {
		t.Fatalf("%s has more than one line", path)
	}
}

func TestJSONLAppends(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		sink, err := NewJSONL(dir)
		if err != nil {
			t.Fatalf("NewJSONL error = %v", err)
		}
		sink.RecordToolCall(llm.ToolCallRecord{CallID: "c", Tool: "echo", StartedAt: time.Now()})
		sink.Close()
	}

	data, err := os.ReadFile(filepath.Join(dir, "tool_calls.jsonl"))
	if err != nil {
		t.Fatalf("read tool_calls.jsonl: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("got %d lines, want 2", lines)
	}
}

func TestMultiFansOut(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	m := Multi{a, b}

	m.RecordToolCall(llm.ToolCallRecord{Tool: "x", StartedAt: time.Now()})
	m.RecordTurn(llm.TurnRecord{StartedAt: time.Now()})
	m.RecordTurn(llm.TurnRecord{StartedAt: time.Now()})

	for _, s := range []*countingSink{a, b} {
		if s.calls != 1 || s.turns != 2 {
			t.Errorf("sink saw %d calls, %d turns", s.calls, s.turns)
		}
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
}

func TestNop(t *testing.T) {
	var sink Sink = Nop{}
	sink.RecordToolCall(llm.ToolCallRecord{})
	sink.RecordTurn(llm.TurnRecord{})
	if err := sink.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
}

func TestNewSink(t *testing.T) {
	if sink, err := NewSink(Config{Enabled: false}); err != nil {
		t.Fatalf("NewSink disabled error = %v", err)
	} else if _, ok := sink.(Nop); !ok {
		t.Errorf("disabled sink = %T, want Nop", sink)
	}

	dir := t.TempDir()
	sink, err := NewSink(Config{
		Enabled:  true,
		Path:     filepath.Join(dir, "metrics.db"),
		JSONLDir: filepath.Join(dir, "jsonl"),
	})
	if err != nil {
		t.Fatalf("NewSink error = %v", err)
	}
	defer sink.Close()

	if _, ok := sink.(Multi); !ok {
		t.Errorf("sink = %T, want Multi", sink)
	}
	sink.RecordTurn(llm.TurnRecord{Model: "gpt-5.2", StartedAt: time.Now()})

	if _, err := os.Stat(filepath.Join(dir, "jsonl", "llm_turns.jsonl")); err != nil {
		t.Errorf("jsonl file missing: %v", err)
	}
}
