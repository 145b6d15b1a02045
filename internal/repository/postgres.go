package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	avatar        TEXT NOT NULL DEFAULT '',
	bio           TEXT NOT NULL DEFAULT '',
	last_seen     TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
	id               TEXT PRIMARY KEY,
	user_a           TEXT NOT NULL REFERENCES users(id),
	user_b           TEXT NOT NULL REFERENCES users(id),
	created_at       TIMESTAMPTZ NOT NULL,
	last_activity_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_a, user_b)
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	thread_id   TEXT NOT NULL REFERENCES threads(id),
	sender_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	text        TEXT,
	media       TEXT,
	media_kind  TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	is_read     BOOLEAN NOT NULL DEFAULT FALSE,
	edited      BOOLEAN NOT NULL DEFAULT FALSE,
	deleted     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS threads_user_b_idx ON threads (user_b);
CREATE INDEX IF NOT EXISTS messages_thread_created_idx ON messages (thread_id, created_at, id);
CREATE INDEX IF NOT EXISTS messages_unread_idx ON messages (thread_id, receiver_id) WHERE is_read = FALSE;
`

const (
	userCols    = `id, username, email, password_hash, avatar, bio, last_seen, created_at`
	threadCols  = `id, user_a, user_b, created_at, last_activity_at`
	messageCols = `id, thread_id, sender_id, receiver_id, text, media, media_kind, created_at, is_read, edited, deleted`
)

type PostgresStore struct {
	db        *sql.DB
	opTimeout time.Duration
}

type PostgresOptions struct {
	MaxOpenConns int
	MaxIdleConns int
	OpTimeout    time.Duration
}

func NewPostgresStore(ctx context.Context, dsn string, opts PostgresOptions) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &PostgresStore{db: db, opTimeout: opts.OpTimeout}, nil
}

func (s *PostgresStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.opTimeout)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close(context.Context) error { return s.db.Close() }

// classify maps driver errors onto the repository sentinels.
func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return ErrDuplicate
		case "23503": // foreign_key_violation
			return ErrNotFound
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*models.User, error) {
	var u models.User
	var lastSeen sql.NullTime
	if err := r.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Avatar, &u.Bio, &lastSeen, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	if lastSeen.Valid {
		t := lastSeen.Time.UTC()
		u.LastSeen = &t
	}
	return &u, nil
}

func scanThread(r rowScanner) (*models.Thread, error) {
	var t models.Thread
	if err := r.Scan(&t.ID, &t.UserA, &t.UserB, &t.CreatedAt, &t.LastActivityAt); err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.LastActivityAt = t.LastActivityAt.UTC()
	return &t, nil
}

func scanMessage(r rowScanner) (*models.Message, error) {
	var m models.Message
	var text, media, kind sql.NullString
	if err := r.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.ReceiverID, &text, &media, &kind,
		&m.CreatedAt, &m.IsRead, &m.Edited, &m.Deleted); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	if text.Valid {
		m.Text = &text.String
	}
	if media.Valid {
		m.Media = &media.String
	}
	if kind.Valid {
		k := models.MediaKind(kind.String)
		m.MediaKind = &k
	}
	return &m, nil
}

func nullable(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Avatar, u.Bio, u.LastSeen, u.CreatedAt)
	return classify(err)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	return u, classify(err)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
	return u, classify(err)
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (*models.User, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users SET
			username = COALESCE($2, username),
			avatar   = COALESCE($3, avatar),
			bio      = COALESCE($4, bio)
		WHERE id = $1
		RETURNING `+userCols,
		id, nullable(patch.Username), nullable(patch.Avatar), nullable(patch.Bio)))
	return u, classify(err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *PostgresStore) SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]models.User, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userCols+` FROM users
		WHERE id <> $1 AND ($2 = '' OR username ILIKE $3 OR email ILIKE $3)
		ORDER BY username, id
		LIMIT NULLIF($4, 0)`,
		excludeID, query, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetLastSeen(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `UPDATE users SET last_seen = $2 WHERE id = $1`, id, at)
}

func (s *PostgresStore) InsertThread(ctx context.Context, t *models.Thread) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (`+threadCols+`) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.UserA, t.UserB, t.CreatedAt, t.LastActivityAt)
	return classify(err)
}

func (s *PostgresStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	t, err := scanThread(s.db.QueryRowContext(ctx, `SELECT `+threadCols+` FROM threads WHERE id = $1`, id))
	return t, classify(err)
}

func (s *PostgresStore) GetThreadByPair(ctx context.Context, userA, userB string) (*models.Thread, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	t, err := scanThread(s.db.QueryRowContext(ctx,
		`SELECT `+threadCols+` FROM threads WHERE user_a = $1 AND user_b = $2`, userA, userB))
	return t, classify(err)
}

func (s *PostgresStore) ListThreadsByUser(ctx context.Context, userID string) ([]models.Thread, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadCols+` FROM threads
		WHERE user_a = $1 OR user_b = $1
		ORDER BY last_activity_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TouchThread(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `UPDATE threads SET last_activity_at = GREATEST(last_activity_at, $2) WHERE id = $1`, id, at)
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m *models.Message) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var kind sql.NullString
	if m.MediaKind != nil {
		kind = sql.NullString{String: string(*m.MediaKind), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.ThreadID, m.SenderID, m.ReceiverID, nullable(m.Text), nullable(m.Media), kind,
		m.CreatedAt, m.IsRead, m.Edited, m.Deleted)
	return classify(err)
}

func (s *PostgresStore) queryMessage(ctx context.Context, query string, args ...any) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, args...))
	return m, classify(err)
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return s.queryMessage(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id)
}

func (s *PostgresStore) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE thread_id = $1 ORDER BY created_at, id`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LastMessage(ctx context.Context, threadID string) (*models.Message, error) {
	return s.queryMessage(ctx,
		`SELECT `+messageCols+` FROM messages WHERE thread_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, threadID)
}

func (s *PostgresStore) CountUnread(ctx context.Context, threadID, receiverID string) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE thread_id = $1 AND receiver_id = $2 AND is_read = FALSE`,
		threadID, receiverID).Scan(&n)
	return n, err
}

func (s *PostgresStore) EditMessage(ctx context.Context, id, text string) (*models.Message, error) {
	return s.queryMessage(ctx,
		`UPDATE messages SET text = $2, edited = TRUE WHERE id = $1 AND deleted = FALSE RETURNING `+messageCols,
		id, text)
}

func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, id, tombstone string) (*models.Message, error) {
	return s.queryMessage(ctx, `
		UPDATE messages SET text = $2, media = NULL, media_kind = NULL, deleted = TRUE
		WHERE id = $1 AND deleted = FALSE
		RETURNING `+messageCols, id, tombstone)
}

func (s *PostgresStore) MarkRead(ctx context.Context, id string) (*models.Message, error) {
	return s.queryMessage(ctx, `UPDATE messages SET is_read = TRUE WHERE id = $1 RETURNING `+messageCols, id)
}

func (s *PostgresStore) MarkThreadRead(ctx context.Context, threadID, receiverID string, before time.Time) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE thread_id = $1 AND receiver_id = $2 AND is_read = FALSE AND created_at <= $3`,
		threadID, receiverID, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
