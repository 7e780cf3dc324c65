package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentloop/agentloop/internal/llm"
)

// SQLiteStore persists records in SQLite and answers the queries behind the
// usage command.
type SQLiteStore struct {
	db         *sql.DB
	maxAgeDays int
}

// Schema for the metrics database.
const schema = `
CREATE TABLE IF NOT EXISTS tool_calls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    call_id TEXT,
    tool TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    success BOOLEAN NOT NULL DEFAULT TRUE,
    error TEXT,
    metadata TEXT,
    usage_info TEXT
);

CREATE TABLE IF NOT EXISTS llm_turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model TEXT,
    round INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cached_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    stop_reason TEXT,
    prompt TEXT,
    text TEXT
);

CREATE INDEX IF NOT EXISTS idx_tool_calls_started_at ON tool_calls(started_at);
CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool);
CREATE INDEX IF NOT EXISTS idx_llm_turns_started_at ON llm_turns(started_at);
`

// schemaVersion is the current schema version.
// - Fresh databases get the full schema from the schema const and start here
// - Existing databases run migrations to reach this version
// Increment when adding new migrations.
const schemaVersion = 1

// migration represents a schema migration.
type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

// migrations upgrade databases created before a schema change. The schema
// const always contains the FULL current schema, so a fresh database never
// runs these.
//
// To add a new migration:
// 1. Update the schema const with the new columns/tables
// 2. Increment schemaVersion
// 3. Add a migration that transforms old databases to match the new schema
var migrations = []migration{}

// NewSQLiteStore opens (creating if needed) the metrics database at path.
// maxAgeDays > 0 prunes rows older than that many days on open.
func NewSQLiteStore(path string, maxAgeDays int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, maxAgeDays: maxAgeDays}
	if err := store.cleanup(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: metrics cleanup failed: %v\n", err)
	}
	return store, nil
}

// initSchema initializes the database schema and runs any pending migrations.
// Optimized for the common case: schema already current = single SELECT.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	err = db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == sql.ErrNoRows {
		currentVersion = schemaVersion
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.version > currentVersion {
			if err := m.up(db); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
			if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
				return fmt.Errorf("update version to %d: %w", m.version, err)
			}
		}
	}
	return nil
}

// cleanup prunes rows older than the configured horizon.
func (s *SQLiteStore) cleanup() error {
	if s.maxAgeDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.maxAgeDays).UTC()
	if _, err := s.db.Exec("DELETE FROM tool_calls WHERE started_at < ?", cutoff); err != nil {
		return fmt.Errorf("prune tool_calls: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM llm_turns WHERE started_at < ?", cutoff); err != nil {
		return fmt.Errorf("prune llm_turns: %w", err)
	}
	return nil
}

// RecordToolCall inserts one call record. Insert failures are logged, not
// surfaced: recording must never break a run.
func (s *SQLiteStore) RecordToolCall(rec llm.ToolCallRecord) {
	metadata := marshalOrEmpty(rec.Metadata)
	usageInfo := marshalOrEmpty(rec.UsageInfo)

	_, err := s.db.Exec(`
		INSERT INTO tool_calls (call_id, tool, started_at, duration_ms, success, error, metadata, usage_info)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.Tool, rec.StartedAt.UTC(), rec.Duration.Milliseconds(),
		rec.Success, nullString(rec.Error), nullString(metadata), nullString(usageInfo))
	if err != nil {
		log.Printf("warning: record tool call failed: %v", err)
	}
}

// RecordTurn inserts one turn record.
func (s *SQLiteStore) RecordTurn(rec llm.TurnRecord) {
	_, err := s.db.Exec(`
		INSERT INTO llm_turns (model, round, started_at, latency_ms, input_tokens, output_tokens, cached_tokens, cost_usd, stop_reason, prompt, text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Model, rec.Round, rec.StartedAt.UTC(), rec.Latency.Milliseconds(),
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.CachedInputTokens,
		rec.CostUSD, string(rec.StopReason), nullString(rec.Prompt), nullString(rec.Text))
	if err != nil {
		log.Printf("warning: record turn failed: %v", err)
	}
}

// QueryTurns returns turn records in [since, until], oldest first.
func (s *SQLiteStore) QueryTurns(ctx context.Context, since, until time.Time) ([]llm.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, round, started_at, latency_ms, input_tokens, output_tokens, cached_tokens, cost_usd, stop_reason, prompt, text
		FROM llm_turns
		WHERE started_at >= ? AND started_at <= ?
		ORDER BY started_at ASC, id ASC`,
		since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []llm.TurnRecord
	for rows.Next() {
		var rec llm.TurnRecord
		var latencyMS int64
		var stopReason string
		var prompt, text sql.NullString
		if err := rows.Scan(&rec.Model, &rec.Round, &rec.StartedAt, &latencyMS,
			&rec.Usage.InputTokens, &rec.Usage.OutputTokens, &rec.Usage.CachedInputTokens,
			&rec.CostUSD, &stopReason, &prompt, &text); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		rec.StopReason = llm.StopReason(stopReason)
		rec.Prompt = prompt.String
		rec.Text = text.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// QueryToolCalls returns call records in [since, until], oldest first.
func (s *SQLiteStore) QueryToolCalls(ctx context.Context, since, until time.Time) ([]llm.ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, tool, started_at, duration_ms, success, error, metadata, usage_info
		FROM tool_calls
		WHERE started_at >= ? AND started_at <= ?
		ORDER BY started_at ASC, id ASC`,
		since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var out []llm.ToolCallRecord
	for rows.Next() {
		var rec llm.ToolCallRecord
		var durationMS int64
		var errText, metadata, usageInfo sql.NullString
		if err := rows.Scan(&rec.CallID, &rec.Tool, &rec.StartedAt, &durationMS,
			&rec.Success, &errText, &metadata, &usageInfo); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Error = errText.String
		if metadata.Valid && metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &rec.Metadata)
		}
		if usageInfo.Valid && usageInfo.String != "" {
			json.Unmarshal([]byte(usageInfo.String), &rec.UsageInfo)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalOrEmpty(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	text := string(data)
	if text == "null" || text == "{}" {
		return ""
	}
	return text
}

// nullString converts empty strings to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
