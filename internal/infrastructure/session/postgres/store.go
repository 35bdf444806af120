package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/expenseops/invoice-assistant/internal/core/domain"
)

// Store persists conversation history in Postgres. Append inserts and trims
// in one transaction so the history cap holds under concurrent writers.
type Store struct {
	db         *sql.DB
	maxHistory int
}

func New(db *sql.DB, maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &Store{db: db, maxHistory: maxHistory}
}

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS chat_messages (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages (session_id, id)
`)
	if err != nil {
		return fmt.Errorf("ensure chat schema: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT role, content, created_at
FROM chat_messages
WHERE session_id = $1
ORDER BY id
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (s *Store) Append(ctx context.Context, sessionID string, messages ...domain.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	for _, msg := range messages {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO chat_messages (session_id, role, content, created_at)
VALUES ($1, $2, $3, $4)
`, sessionID, string(msg.Role), msg.Content, ts)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := s.trim(ctx, tx, sessionID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// trim drops the oldest rows above the cap, moving the cut forward one row
// when it would split a user/assistant exchange.
func (s *Store) trim(ctx context.Context, tx *sql.Tx, sessionID string) error {
	rows, err := tx.QueryContext(ctx, `
SELECT id, role FROM chat_messages WHERE session_id = $1 ORDER BY id
`, sessionID)
	if err != nil {
		return fmt.Errorf("list for trim: %w", err)
	}

	type row struct {
		id   int64
		role string
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.role); err != nil {
			rows.Close()
			return fmt.Errorf("scan trim row: %w", err)
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate trim rows: %w", err)
	}

	if len(all) <= s.maxHistory {
		return nil
	}
	cut := len(all) - s.maxHistory
	if all[cut].role == string(domain.RoleAssistant) && cut+1 < len(all) {
		cut++
	}

	_, err = tx.ExecContext(ctx, `
DELETE FROM chat_messages WHERE session_id = $1 AND id < $2
`, sessionID, all[cut].id)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM chat_messages ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}
