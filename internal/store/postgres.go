package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mytasks/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id                    TEXT PRIMARY KEY,
    email                 TEXT NOT NULL UNIQUE,
    password_hash         TEXT NOT NULL,
    notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    reminder_delay_ms     BIGINT NOT NULL DEFAULT 0,
    created_at            TIMESTAMPTZ NOT NULL,
    updated_at            TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    refresh_token TEXT NOT NULL UNIQUE,
    expires_at    TIMESTAMPTZ NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id);
CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    completed   BOOLEAN NOT NULL DEFAULT FALSE,
    priority    TEXT NOT NULL DEFAULT 'medium' CHECK (priority IN ('low', 'medium', 'high')),
    due_date    TIMESTAMPTZ NOT NULL,
    reminder_id TEXT,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_due ON tasks (user_id, due_date);
`

// EnsurePostgresSchema creates tables if they don't exist.
func EnsurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, postgresSchema)
	return err
}

type postgresRepo struct{ pool *pgxpool.Pool }

func NewPostgresRepo(pool *pgxpool.Pool) Repository { return &postgresRepo{pool: pool} }

// ConnectPostgres parses connURL, connects and pings within pingTimeout.
func ConnectPostgres(ctx context.Context, connURL string, connectTimeout, pingTimeout time.Duration) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func scanPgTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	var priority string
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.Description,
		&t.Completed,
		&priority,
		&t.DueDate,
		&t.ReminderID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(priority)
	return t, nil
}

func (r *postgresRepo) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t = prepareTask(t, time.Now().UTC())

	const insertTaskQuery = `
INSERT INTO tasks (id,
                   user_id,
                   title,
                   description,
                   completed,
                   priority,
                   due_date,
                   reminder_id,
                   created_at,
                   updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	_, err := r.pool.Exec(
		ctx,
		insertTaskQuery,
		t.ID,
		t.UserID,
		t.Title,
		t.Description,
		t.Completed,
		string(t.Priority),
		t.DueDate,
		t.ReminderID,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (r *postgresRepo) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	return scanPgTask(r.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, id, userID))
}

func (r *postgresRepo) FindTask(ctx context.Context, id string) (domain.Task, error) {
	return scanPgTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

func (r *postgresRepo) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE user_id = $1
ORDER BY due_date ASC, created_at ASC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *postgresRepo) UpdateTask(ctx context.Context, t domain.Task) error {
	const updateTaskQuery = `
UPDATE tasks
SET title = $1,
    description = $2,
    completed = $3,
    priority = $4,
    due_date = $5,
    reminder_id = $6,
    updated_at = $7
WHERE id = $8 AND user_id = $9
`
	tag, err := r.pool.Exec(
		ctx,
		updateTaskQuery,
		t.Title,
		t.Description,
		t.Completed,
		string(t.Priority),
		t.DueDate.UTC(),
		t.ReminderID,
		time.Now().UTC(),
		t.ID,
		t.UserID,
	)
	return affected(tag, err, domain.ErrTaskNotFound)
}

func (r *postgresRepo) SetTaskReminder(ctx context.Context, id string, reminderID *string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tasks SET reminder_id = $1 WHERE id = $2`, reminderID, id)
	return affected(tag, err, domain.ErrTaskNotFound)
}

func (r *postgresRepo) DeleteTask(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	return affected(tag, err, domain.ErrTaskNotFound)
}

func (r *postgresRepo) CreateUser(ctx context.Context, u domain.User) error {
	const insertUserQuery = `
INSERT INTO users (id,
                   email,
                   password_hash,
                   notifications_enabled,
                   reminder_delay_ms,
                   created_at,
                   updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := r.pool.Exec(
		ctx,
		insertUserQuery,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.NotificationsEnabled,
		u.ReminderDelay.Milliseconds(),
		u.CreatedAt.UTC(),
		u.UpdatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrUserAlreadyExists
		}
		return err
	}
	return nil
}

func scanPgUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var delayMs int64
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.NotificationsEnabled, &delayMs, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	u.ReminderDelay = time.Duration(delayMs) * time.Millisecond
	return u, nil
}

func (r *postgresRepo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanPgUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *postgresRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanPgUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *postgresRepo) UpdateUserSettings(ctx context.Context, u domain.User) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE users
SET notifications_enabled = $1,
    reminder_delay_ms = $2,
    updated_at = $3
WHERE id = $4
`, u.NotificationsEnabled, u.ReminderDelay.Milliseconds(), time.Now().UTC(), u.ID)
	return affected(tag, err, domain.ErrUserNotFound)
}

func (r *postgresRepo) CreateSession(ctx context.Context, s domain.Session) error {
	const insertSessionQuery = `
INSERT INTO sessions (id,
                      user_id,
                      refresh_token,
                      expires_at,
                      created_at,
                      updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := r.pool.Exec(
		ctx,
		insertSessionQuery,
		s.ID,
		s.UserID,
		s.RefreshToken,
		s.ExpiresAt.UTC(),
		s.CreatedAt.UTC(),
		s.UpdatedAt.UTC(),
	)
	return err
}

func scanPgSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s, err
}

func (r *postgresRepo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return scanPgSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

func (r *postgresRepo) GetSessionByRefreshToken(ctx context.Context, token string) (domain.Session, error) {
	return scanPgSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token = $1`, token))
}

func (r *postgresRepo) UpdateSession(ctx context.Context, s domain.Session) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE sessions
SET refresh_token = $1,
    expires_at = $2,
    updated_at = $3
WHERE id = $4
`, s.RefreshToken, s.ExpiresAt.UTC(), s.UpdatedAt.UTC(), s.ID)
	return affected(tag, err, domain.ErrSessionNotFound)
}

func (r *postgresRepo) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *postgresRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func affected(tag pgconn.CommandTag, err error, notFound error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}
