package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Event is one role-tagged message inside a turn.
type Event struct {
	ID          string
	Role        string // user, assistant, tool
	Content     string
	ToolCallID  string
	ToolName    string
	Metadata    map[string]string
	CreatedAtMS int64
}

// Turn is one user input plus the full model/tool exchange that
// produced the assistant reply. Turns are immutable once saved.
type Turn struct {
	ID          string
	ThreadID    string
	Seq         int64
	CreatedAtMS int64
	Events      []Event
}

// ephemeralPrefixes mark system-generated threads that are deleted
// wholesale once older than the retention window.
var ephemeralPrefixes = []string{
	"daily_report_",
	"debrief_",
	"recap_",
	"consolidate_",
	"calendar_task_",
}

// IsEphemeralThread reports whether a thread id names a dated
// system-generated thread.
func IsEphemeralThread(threadID string) bool {
	for _, prefix := range ephemeralPrefixes {
		if strings.HasPrefix(threadID, prefix) {
			return true
		}
	}
	return false
}

// Store is the durable per-thread conversation log.
type Store struct {
	db    *sql.DB
	locks *threadLocks
}

// Open creates/opens the checkpoint database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, locks: newThreadLocks()}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			turn_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS turns_thread_seq_idx ON turns(thread_id, seq);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_call_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS events_turn_idx ON events(turn_id, seq);`,
		`CREATE INDEX IF NOT EXISTS events_thread_idx ON events(thread_id, created_at_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init checkpoint schema: %w", err)
		}
	}
	return nil
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

func encodeMeta(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeMeta(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// SaveTurn commits a finalized turn to a thread in a single
// transaction: the thread row is upserted, the turn gets the next
// sequence number, and every event goes in with it. A failed or
// cancelled turn is simply never saved, so the store cannot hold a
// half-written one.
func (s *Store) SaveTurn(ctx context.Context, threadID string, events []Event) (string, error) {
	if threadID == "" {
		return "", fmt.Errorf("checkpoint: thread id is required")
	}
	if len(events) == 0 {
		return "", fmt.Errorf("checkpoint: turn has no events")
	}

	kind := "persistent"
	if IsEphemeralThread(threadID) {
		kind = "ephemeral"
	}
	now := nowMS()
	turnID := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("checkpoint: begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO threads (thread_id, kind, created_at_ms, updated_at_ms, turn_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(thread_id) DO UPDATE SET
			updated_at_ms = excluded.updated_at_ms,
			turn_count = turn_count + 1`,
		threadID, kind, now, now); err != nil {
		return "", fmt.Errorf("checkpoint: upsert thread: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE thread_id = ?`,
		threadID).Scan(&seq); err != nil {
		return "", fmt.Errorf("checkpoint: next seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (id, thread_id, seq, created_at_ms) VALUES (?, ?, ?, ?)`,
		turnID, threadID, seq, now); err != nil {
		return "", fmt.Errorf("checkpoint: insert turn: %w", err)
	}

	for i, ev := range events {
		id := ev.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := ev.CreatedAtMS
		if createdAt == 0 {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, turn_id, thread_id, seq, role, content, tool_call_id, tool_name, metadata_json, created_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, turnID, threadID, i, ev.Role, ev.Content, ev.ToolCallID, ev.ToolName, encodeMeta(ev.Metadata), createdAt); err != nil {
			return "", fmt.Errorf("checkpoint: insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("checkpoint: commit turn: %w", err)
	}
	return turnID, nil
}

// History returns a thread's turns in order, newest-limited, each with
// its events in order. limit <= 0 returns all turns.
func (s *Store) History(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	query := `SELECT id, thread_id, seq, created_at_ms FROM turns WHERE thread_id = ? ORDER BY seq`
	args := []interface{}{threadID}
	if limit > 0 {
		// Newest N turns, still returned oldest-first.
		query = `SELECT id, thread_id, seq, created_at_ms FROM (
			SELECT id, thread_id, seq, created_at_ms FROM turns
			WHERE thread_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ThreadID, &t.Seq, &t.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("checkpoint: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range turns {
		events, err := s.turnEvents(ctx, turns[i].ID)
		if err != nil {
			return nil, err
		}
		turns[i].Events = events
	}
	return turns, nil
}

func (s *Store) turnEvents(ctx context.Context, turnID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, tool_call_id, tool_name, metadata_json, created_at_ms
		FROM events WHERE turn_id = ? ORDER BY seq`, turnID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var meta string
		if err := rows.Scan(&ev.ID, &ev.Role, &ev.Content, &ev.ToolCallID, &ev.ToolName, &meta, &ev.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("checkpoint: scan event: %w", err)
		}
		ev.Metadata = decodeMeta(meta)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// TurnCount returns how many turns a thread holds.
func (s *Store) TurnCount(ctx context.Context, threadID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE thread_id = ?`, threadID).Scan(&count)
	return count, err
}

// Threads returns all thread ids of the given kind ("" for all).
func (s *Store) Threads(ctx context.Context, kind string) ([]string, error) {
	query := `SELECT thread_id FROM threads ORDER BY thread_id`
	args := []interface{}{}
	if kind != "" {
		query = `SELECT thread_id FROM threads WHERE kind = ? ORDER BY thread_id`
		args = append(args, kind)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LockThread takes the per-thread exclusion shared between the agent
// loop and the pruner and returns a release func.
func (s *Store) LockThread(threadID string) func() {
	return s.locks.lock(threadID)
}
