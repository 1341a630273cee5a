package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"codetapasya-backend/internal/domain"
)

// SQLiteTurnStore is the local-development turn store. It enforces the same
// per-conversation cap as DynamoTurnStore.
type SQLiteTurnStore struct {
	db       *sql.DB
	maxTurns int
	now      func() time.Time
}

func NewSQLiteTurnStore(dbPath string, maxTurns int) (*SQLiteTurnStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY on the evict-then-insert transaction.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping database: %w", err)
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	s := &SQLiteTurnStore{db: db, maxTurns: maxTurns, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTurnStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversation_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		ts INTEGER NOT NULL,
		metadata_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation
		ON conversation_turns(subject_id, conversation_id, ts, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("repository: create schema: %w", err)
	}
	return nil
}

func (s *SQLiteTurnStore) Close() error {
	return s.db.Close()
}

// Append inserts turn and, in the same transaction, deletes the oldest turns
// beyond the cap.
func (s *SQLiteTurnStore) Append(ctx context.Context, turn domain.ConversationTurn) error {
	if turn.SubjectID == "" || turn.ConversationID == "" {
		return errors.New("repository: Append: subject and conversation are required")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}
	var metadata any
	if len(turn.Metadata) > 0 {
		raw, err := json.Marshal(turn.Metadata)
		if err != nil {
			return fmt.Errorf("repository: Append encode metadata: %w", err)
		}
		metadata = string(raw)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: Append begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_turns (subject_id, conversation_id, role, content, ts, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		turn.SubjectID, turn.ConversationID, string(turn.Role), turn.Content, turn.Timestamp.UTC().UnixNano(), metadata,
	); err != nil {
		return fmt.Errorf("repository: Append insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_turns
		WHERE id IN (
			SELECT id FROM conversation_turns
			WHERE subject_id = ? AND conversation_id = ?
			ORDER BY ts DESC, id DESC
			LIMIT -1 OFFSET ?
		)`,
		turn.SubjectID, turn.ConversationID, s.maxTurns,
	); err != nil {
		return fmt.Errorf("repository: Append evict: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: Append commit: %w", err)
	}
	return nil
}

// QueryRecent returns up to limit of the newest turns, oldest first.
func (s *SQLiteTurnStore) QueryRecent(ctx context.Context, subjectID, conversationID string, limit int) ([]domain.ConversationTurn, error) {
	if limit <= 0 || limit > s.maxTurns {
		limit = s.maxTurns
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, ts, metadata_json FROM (
			SELECT id, role, content, ts, metadata_json FROM conversation_turns
			WHERE subject_id = ? AND conversation_id = ?
			ORDER BY ts DESC, id DESC
			LIMIT ?
		) ORDER BY ts ASC, id ASC`,
		subjectID, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: QueryRecent: %w", err)
	}
	defer rows.Close()

	var turns []domain.ConversationTurn
	for rows.Next() {
		var (
			role, content string
			ts            int64
			metadata      sql.NullString
		)
		if err := rows.Scan(&role, &content, &ts, &metadata); err != nil {
			return nil, fmt.Errorf("repository: QueryRecent scan: %w", err)
		}
		turn := domain.ConversationTurn{
			SubjectID:      subjectID,
			ConversationID: conversationID,
			Role:           domain.Role(role),
			Content:        content,
			Timestamp:      time.Unix(0, ts).UTC(),
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &turn.Metadata); err != nil {
				return nil, fmt.Errorf("repository: QueryRecent decode metadata: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: QueryRecent rows: %w", err)
	}
	return turns, nil
}

// Count returns the stored turn count for a conversation.
func (s *SQLiteTurnStore) Count(ctx context.Context, subjectID, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_turns WHERE subject_id = ? AND conversation_id = ?`,
		subjectID, conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository: Count: %w", err)
	}
	return n, nil
}
