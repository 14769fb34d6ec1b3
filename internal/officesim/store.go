package officesim

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iambrandonn/bmoffice/internal/protocol"
)

// MemoryDSN keeps the log store in memory
const MemoryDSN = ":memory:"

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// LogStore keeps company event logs in sqlite
type LogStore struct {
	db *sql.DB
}

// OpenLogStore opens (and creates) the store at path, or in memory for
// MemoryDSN
func OpenLogStore(path string) (*LogStore, error) {
	if path == "" {
		path = MemoryDSN
	}
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log store: %w", err)
	}
	// one connection: every :memory: connection is its own database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db, path != MemoryDSN); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LogStore{db: db}, nil
}

func initSchema(db *sql.DB, onDisk bool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			company_id TEXT NOT NULL,
			ts         INTEGER NOT NULL,
			agent_id   TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			message    TEXT NOT NULL,
			metadata   TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS logs_company_ts ON logs(company_id, ts);`,
	}
	if onDisk {
		stmts = append([]string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"}, stmts...)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to init log store (%s): %w", strings.Fields(stmt)[0], err)
		}
	}
	return nil
}

// Append stores one entry
func (s *LogStore) Append(ctx context.Context, companyID string, entry protocol.LogEntry) error {
	var meta sql.NullString
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal log metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (id, company_id, ts, agent_id, event_type, message, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, companyID, entry.Timestamp.UnixNano(), entry.AgentID, entry.EventType, entry.Message, meta)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

// Query returns a company's entries newest first, filtered and paginated.
// Total counts every entry matching the filters.
func (s *LogStore) Query(ctx context.Context, companyID string, q protocol.LogQuery) (*protocol.LogPage, error) {
	where := []string{"company_id = ?"}
	args := []any{companyID}
	if q.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, q.EventType)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count log entries: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	limit = min(limit, maxLogLimit)
	offset := max(q.Offset, 0)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ts, agent_id, event_type, message, metadata FROM logs WHERE "+cond+" ORDER BY ts DESC, seq DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	page := &protocol.LogPage{Logs: []protocol.LogEntry{}, Total: total}
	for rows.Next() {
		var (
			entry protocol.LogEntry
			ts    int64
			meta  sql.NullString
		)
		if err := rows.Scan(&entry.ID, &ts, &entry.AgentID, &entry.EventType, &entry.Message, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entry.Timestamp = time.Unix(0, ts).UTC()
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of %s: %w", entry.ID, err)
			}
		}
		page.Logs = append(page.Logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log entries: %w", err)
	}
	return page, nil
}

// Close closes the database
func (s *LogStore) Close() error {
	return s.db.Close()
}
