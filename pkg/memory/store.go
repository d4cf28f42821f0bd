package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"agentcore/pkg/logx"
)

// TodoStatus is the lifecycle state of a planning item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Valid reports whether s is a known status.
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoPending, TodoInProgress, TodoCompleted:
		return true
	default:
		return false
	}
}

// Todo is one planning item.
type Todo struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// Checkpoint is a snapshot of agent progress after one step.
type Checkpoint struct {
	ID           string            `json:"id"`
	Step         int               `json:"step"`
	Label        string            `json:"label,omitempty"`
	MessageCount int               `json:"message_count"`
	Todos        []Todo            `json:"todos,omitempty"`
	Files        map[string]string `json:"files,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Attachment is a stored message attachment.
type Attachment struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
	Name      string `json:"name,omitempty"`
}

// Message is one stored conversation turn.
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Reasoning   string       `json:"reasoning,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Store is the SQLite-backed memory store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
	now    func() time.Time
}

// Open opens (creating if necessary) the database at path and brings its schema up to date.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite supports a single writer; one connection also keeps :memory: consistent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{db: db, logger: logx.NewLogger("memory"), now: time.Now}
	s.logger.Debug("Memory store opened: %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close memory store: %w", err)
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// SaveTodos replaces the todo list for sessionID.
func (s *Store) SaveTodos(ctx context.Context, sessionID string, todos []Todo) error {
	if todos == nil {
		todos = []Todo{}
	}
	return s.upsertList(ctx, "todos", sessionID, todos)
}

// LoadTodos returns the todo list for sessionID, or an empty list.
func (s *Store) LoadTodos(ctx context.Context, sessionID string) ([]Todo, error) {
	out := []Todo{}
	if err := s.loadList(ctx, "todos", sessionID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveConversation replaces the conversation snapshot for sessionID.
func (s *Store) SaveConversation(ctx context.Context, sessionID string, msgs []Message) error {
	if msgs == nil {
		msgs = []Message{}
	}
	return s.upsertList(ctx, "conversations", sessionID, msgs)
}

// LoadConversation returns the conversation snapshot for sessionID, or an empty list.
func (s *Store) LoadConversation(ctx context.Context, sessionID string) ([]Message, error) {
	out := []Message{}
	if err := s.loadList(ctx, "conversations", sessionID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// upsertList and loadList only ever receive the constant table names above.
func (s *Store) upsertList(ctx context.Context, table, sessionID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", table, err)
	}
	//nolint:gosec // table is one of a fixed set
	query := fmt.Sprintf(`INSERT INTO %s (session_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, table)
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(data), s.timestamp()); err != nil {
		return fmt.Errorf("failed to save %s for session %s: %w", table, sessionID, err)
	}
	return nil
}

func (s *Store) loadList(ctx context.Context, table, sessionID string, out any) error {
	var data string
	//nolint:gosec // table is one of a fixed set
	query := fmt.Sprintf("SELECT data FROM %s WHERE session_id = ?", table)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s for session %s: %w", table, sessionID, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to decode %s for session %s: %w", table, sessionID, err)
	}
	return nil
}

// SaveCheckpoint appends cp to the session's checkpoints. Missing ID and CreatedAt are filled in.
func (s *Store) SaveCheckpoint(ctx context.Context, sessionID string, cp Checkpoint) (Checkpoint, error) {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO checkpoints (id, session_id, step, data, created_at) VALUES (?, ?, ?, ?, ?)",
		cp.ID, sessionID, cp.Step, string(data), cp.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to save checkpoint for session %s: %w", sessionID, err)
	}
	return cp, nil
}

// LoadCheckpoints returns the session's checkpoints oldest first, or an empty list.
func (s *Store) LoadCheckpoints(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM checkpoints WHERE session_id = ? ORDER BY seq", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Checkpoint{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		var cp Checkpoint
		if err := json.Unmarshal([]byte(data), &cp); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return out, nil
}

// PruneCheckpoints keeps only the keep most recent checkpoints of the session and
// returns how many were removed.
func (s *Store) PruneCheckpoints(ctx context.Context, sessionID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ? AND seq NOT IN (
		SELECT seq FROM checkpoints WHERE session_id = ? ORDER BY seq DESC LIMIT ?)`,
		sessionID, sessionID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned checkpoints: %w", err)
	}
	return int(n), nil
}

// SaveMetadata stores value (JSON-encoded) under key for the session.
func (s *Store) SaveMetadata(ctx context.Context, sessionID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO metadata (session_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		sessionID, key, string(data), s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to save metadata %s: %w", key, err)
	}
	return nil
}

// LoadMetadata returns the raw JSON stored under key, or nil when absent.
func (s *Store) LoadMetadata(ctx context.Context, sessionID, key string) (json.RawMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE session_id = ? AND key = ?", sessionID, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata %s: %w", key, err)
	}
	return json.RawMessage(data), nil
}

// Clear removes every record of sessionID in one transaction.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"todos", "checkpoints", "conversations", "metadata"} {
			//nolint:gosec // fixed table names
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", table), sessionID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// ClearAll removes every record of every session.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"todos", "checkpoints", "conversations", "metadata"} {
			//nolint:gosec // fixed table names
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
