package metrics

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentloop/agentloop/internal/llm"
)

// JSONL appends records to tool_calls.jsonl and llm_turns.jsonl in a
// directory, one JSON object per line.
type JSONL struct {
	mu        sync.Mutex
	toolCalls *os.File
	turns     *os.File
}

// NewJSONL opens (creating if needed) the record files under dir.
func NewJSONL(dir string) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create metrics directory: %w", err)
	}
	toolCalls, err := os.OpenFile(filepath.Join(dir, "tool_calls.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open tool_calls.jsonl: %w", err)
	}
	turns, err := os.OpenFile(filepath.Join(dir, "llm_turns.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		toolCalls.Close()
		return nil, fmt.Errorf("open llm_turns.jsonl: %w", err)
	}
	return &JSONL{toolCalls: toolCalls, turns: turns}, nil
}

func (j *JSONL) RecordToolCall(rec llm.ToolCallRecord) {
	j.append(j.toolCalls, rec)
}

func (j *JSONL) RecordTurn(rec llm.TurnRecord) {
	j.append(j.turns, rec)
}

func (j *JSONL) append(f *os.File, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("warning: metrics record marshal failed: %v", err)
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("warning: metrics record write failed: %v", err)
	}
}

// Close closes both files, returning the first error.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.toolCalls.Close()
	if terr := j.turns.Close(); terr != nil && err == nil {
		err = terr
	}
	return err
}
