package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentloop/agentloop/internal/llm"
)

// Sink is a closable record sink. The engine only sees llm.Sink; Close exists
// so files and database handles let go cleanly at the end of a run.
type Sink interface {
	llm.Sink
	Close() error
}

// Config selects which sinks a run records into.
type Config struct {
	Enabled    bool   // master switch; false means a no-op sink
	Path       string // sqlite database path; empty uses the default under DataDir
	JSONLDir   string // directory for append-only jsonl files; empty disables jsonl
	MaxAgeDays int    // prune rows older than this many days; 0 keeps everything
}

// DefaultConfig records into the default sqlite database only.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// DataDir returns the XDG data directory for agentloop.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func DataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "agentloop"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "agentloop"), nil
}

// DBPath returns the path to the metrics database.
func DBPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "metrics.db"), nil
}

// NewSink assembles the configured sinks. Disabled metrics get a no-op.
func NewSink(cfg Config) (Sink, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}

	var sinks []Sink

	path := cfg.Path
	if path == "" {
		p, err := DBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	store, err := NewSQLiteStore(path, cfg.MaxAgeDays)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, store)

	if cfg.JSONLDir != "" {
		jl, err := NewJSONL(cfg.JSONLDir)
		if err != nil {
			store.Close()
			return nil, err
		}
		sinks = append(sinks, jl)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return Multi(sinks), nil
}

// Multi fans records out to every member sink.
type Multi []Sink

func (m Multi) RecordToolCall(rec llm.ToolCallRecord) {
	for _, s := range m {
		s.RecordToolCall(rec)
	}
}

func (m Multi) RecordTurn(rec llm.TurnRecord) {
	for _, s := range m {
		s.RecordTurn(rec)
	}
}

// Close closes every member, returning the first error.
func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
