package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/ulink/backend/internal/model/user"
)

// CreateUser inserts u and its assistant grants atomically.
func (s *SQLiteStore) CreateUser(ctx context.Context, u user.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, string(u.Role), toMillis(u.CreatedAt), toMillis(u.UpdatedAt))
	if isUniqueViolation(err) {
		return errors.Wrapf(ErrConflict, "username %s", u.Username)
	}
	if err != nil {
		return errors.Wrap(err, "insert user")
	}

	if err := replaceGrants(ctx, tx, u.ID, u.AssistantIDs); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit user")
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by login name.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return s.getUser(ctx, `WHERE username = ?`, username)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at, updated_at FROM users `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, errors.Wrapf(ErrNotFound, "user %s", arg)
	}
	if err != nil {
		return user.User{}, errors.Wrap(err, "scan user")
	}

	grants, err := s.loadGrants(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}
	u.AssistantIDs = grants
	return u, nil
}

// ListUsers returns users with role, newest first.
func (s *SQLiteStore) ListUsers(ctx context.Context, role user.Role) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, created_at, updated_at
		FROM users WHERE role = ? ORDER BY created_at DESC`, string(role))
	if err != nil {
		return nil, errors.Wrap(err, "query users")
	}

	users := []user.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, "scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate users")
	}

	for i := range users {
		grants, err := s.loadGrants(ctx, users[i].ID)
		if err != nil {
			return nil, err
		}
		users[i].AssistantIDs = grants
	}
	return users, nil
}

// UpdateUser replaces name, password hash, and grants.
func (s *SQLiteStore) UpdateUser(ctx context.Context, u user.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET username = ?, password_hash = ?, updated_at = ? WHERE id = ?`,
		u.Username, u.PasswordHash, toMillis(u.UpdatedAt), u.ID)
	if isUniqueViolation(err) {
		return errors.Wrapf(ErrConflict, "username %s", u.Username)
	}
	if err != nil {
		return errors.Wrap(err, "update user")
	}
	if err := requireRow(result, "user "+u.ID); err != nil {
		return err
	}

	if err := replaceGrants(ctx, tx, u.ID, u.AssistantIDs); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit user")
}

// DeleteUser removes a user; grants and tokens cascade.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete user")
	}
	return requireRow(result, "user "+id)
}

// SaveToken stores a bearer token.
func (s *SQLiteStore) SaveToken(ctx context.Context, tok user.Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (token, user_id, expires_at) VALUES (?, ?, ?)`,
		tok.Value, tok.UserID, toMillis(tok.ExpiresAt))
	return errors.Wrap(err, "insert token")
}

// GetToken returns the token if it has not expired at now.
func (s *SQLiteStore) GetToken(ctx context.Context, value string, now time.Time) (user.Token, error) {
	var (
		tok       = user.Token{Value: value}
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM auth_tokens WHERE token = ? AND expires_at > ?`,
		value, toMillis(now)).Scan(&tok.UserID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return user.Token{}, errors.Wrap(ErrNotFound, "token")
	}
	if err != nil {
		return user.Token{}, errors.Wrap(err, "scan token")
	}
	tok.ExpiresAt = fromMillis(expiresAt)
	return tok, nil
}

// DeleteExpiredTokens prunes tokens that expired at or before now.
func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, errors.Wrap(err, "delete expired tokens")
	}
	n, err := result.RowsAffected()
	return n, errors.Wrap(err, "get rows affected")
}

func (s *SQLiteStore) loadGrants(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT assistant_key FROM user_assistants WHERE user_id = ? ORDER BY assistant_key`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query grants")
	}
	defer rows.Close()

	grants := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "scan grant")
		}
		grants = append(grants, key)
	}
	return grants, errors.Wrap(rows.Err(), "iterate grants")
}

func replaceGrants(ctx context.Context, tx *sql.Tx, userID string, keys []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_assistants WHERE user_id = ?`, userID); err != nil {
		return errors.Wrap(err, "clear grants")
	}
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_assistants (user_id, assistant_key) VALUES (?, ?)`, userID, key); err != nil {
			return errors.Wrap(err, "insert grant")
		}
	}
	return nil
}

func scanUser(row scanner) (user.User, error) {
	var (
		u                    user.User
		role                 string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &createdAt, &updatedAt); err != nil {
		return user.User{}, err
	}
	u.Role = user.Role(role)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}
