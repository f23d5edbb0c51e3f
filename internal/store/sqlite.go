package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database at dbPath, creating it and its schema if needed.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initialize schema")
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		assistant_key TEXT NOT NULL,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(user_id, assistant_key, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_assistants (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		assistant_key TEXT NOT NULL,
		PRIMARY KEY (user_id, assistant_key)
	);

	CREATE TABLE IF NOT EXISTS auth_tokens (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auth_tokens_expiry ON auth_tokens(expires_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return errors.Wrap(err, "create schema")
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session chat.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, assistant_key, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.AssistantKey, session.UserID, session.Title,
		toMillis(session.CreatedAt), toMillis(session.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return errors.Wrapf(ErrConflict, "session %s", session.ID)
	}
	if err != nil {
		return errors.Wrap(err, "insert session")
	}
	return nil
}

// GetSession retrieves a session and its transcript.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, assistant_key, user_id, title, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, errors.Wrapf(ErrNotFound, "session %s", id)
	}
	if err != nil {
		return chat.Session{}, errors.Wrap(err, "scan session")
	}

	messages, err := s.loadMessages(ctx, []string{id})
	if err != nil {
		return chat.Session{}, err
	}
	session.Messages = orEmpty(messages[id])
	return session, nil
}

// ListSessions returns a user's sessions for one assistant, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID, assistantKey string) ([]chat.Session, error) {
	return s.querySessions(ctx, `
		SELECT id, assistant_key, user_id, title, created_at, updated_at
		FROM sessions WHERE user_id = ? AND assistant_key = ?
		ORDER BY updated_at DESC, created_at DESC`, userID, assistantKey)
}

// ListAllSessions returns every session, oldest first.
func (s *SQLiteStore) ListAllSessions(ctx context.Context) ([]chat.Session, error) {
	return s.querySessions(ctx, `
		SELECT id, assistant_key, user_id, title, created_at, updated_at
		FROM sessions ORDER BY created_at ASC, id ASC`)
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query sessions")
	}
	defer rows.Close()

	var (
		sessions []chat.Session
		ids      []string
	)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		sessions = append(sessions, session)
		ids = append(ids, session.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate sessions")
	}
	if len(sessions) == 0 {
		return []chat.Session{}, nil
	}

	messages, err := s.loadMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Messages = orEmpty(messages[sessions[i].ID])
	}
	return sessions, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, sessionIDs []string) (map[string][]chat.Message, error) {
	query := `SELECT session_id, role, content, created_at FROM messages
		WHERE session_id IN (` + placeholders(len(sessionIDs)) + `) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, stringArgs(sessionIDs)...)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	out := make(map[string][]chat.Message, len(sessionIDs))
	for rows.Next() {
		var (
			sessionID string
			role      string
			msg       chat.Message
			createdAt int64
		)
		if err := rows.Scan(&sessionID, &role, &msg.Content, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.Role = chat.Role(role)
		msg.CreatedAt = fromMillis(createdAt)
		out[sessionID] = append(out[sessionID], msg)
	}
	return out, errors.Wrap(rows.Err(), "iterate messages")
}

// UpdateSessionTitle renames a session.
func (s *SQLiteStore) UpdateSessionTitle(ctx context.Context, id, title string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = MAX(updated_at, ?) WHERE id = ?`,
		title, toMillis(at), id)
	if err != nil {
		return errors.Wrap(err, "update session title")
	}
	return requireRow(result, "session "+id)
}

// AppendMessage inserts msg and moves the session's updated_at forward.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg chat.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		toMillis(msg.CreatedAt), sessionID)
	if err != nil {
		return errors.Wrap(err, "touch session")
	}
	if err := requireRow(result, "session "+sessionID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Content, toMillis(msg.CreatedAt)); err != nil {
		return errors.Wrap(err, "insert message")
	}
	return errors.Wrap(tx.Commit(), "commit message")
}

// DeleteSessions removes sessions; messages cascade.
func (s *SQLiteStore) DeleteSessions(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return 0, errors.Wrap(err, "delete sessions")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "get rows affected")
	}
	log.Debug().Int64("deleted", n).Msg("sessions deleted")
	return n, nil
}

// CountUserSessions counts sessions owned by userID.
func (s *SQLiteStore) CountUserSessions(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID).Scan(&n)
	return n, errors.Wrap(err, "count sessions")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (chat.Session, error) {
	var (
		session              chat.Session
		createdAt, updatedAt int64
	)
	if err := row.Scan(&session.ID, &session.AssistantKey, &session.UserID, &session.Title, &createdAt, &updatedAt); err != nil {
		return chat.Session{}, err
	}
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return session, nil
}

func requireRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "get rows affected")
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, what)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func orEmpty(messages []chat.Message) []chat.Message {
	if messages == nil {
		return []chat.Message{}
	}
	return messages
}

var _ Repository = (*SQLiteStore)(nil)
