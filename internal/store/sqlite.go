package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"mytasks/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  notifications_enabled INTEGER NOT NULL DEFAULT 1,
  reminder_delay_ms INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  refresh_token TEXT NOT NULL UNIQUE,
  expires_at DATETIME NOT NULL,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  FOREIGN KEY(user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  completed INTEGER NOT NULL DEFAULT 0,
  priority TEXT NOT NULL CHECK(priority IN ('low','medium','high')) DEFAULT 'medium',
  due_date DATETIME NOT NULL,
  reminder_id TEXT,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_due ON tasks(user_id, due_date);
`
	_, err := db.Exec(schema)
	return err
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

const taskColumns = `id,user_id,title,description,completed,priority,due_date,reminder_id,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var reminder sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &t.Priority, &t.DueDate, &reminder, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	if reminder.Valid {
		s := reminder.String
		t.ReminderID = &s
	}
	return t, nil
}

func (r *sqliteRepo) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t = prepareTask(t, time.Now().UTC())
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, t.ID, t.UserID, t.Title, t.Description, t.Completed, string(t.Priority), t.DueDate, t.ReminderID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (r *sqliteRepo) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=? AND user_id=?`, id, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t, err
}

func (r *sqliteRepo) FindTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t, err
}

func (r *sqliteRepo) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+taskColumns+`
FROM tasks WHERE user_id=? ORDER BY due_date ASC, created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *sqliteRepo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET title=?,description=?,completed=?,priority=?,due_date=?,reminder_id=?,updated_at=?
WHERE id=? AND user_id=?`, t.Title, t.Description, t.Completed, string(t.Priority), t.DueDate.UTC(), t.ReminderID, time.Now().UTC(), t.ID, t.UserID)
	if err != nil {
		return err
	}
	return requireAffected(res, domain.ErrTaskNotFound)
}

func (r *sqliteRepo) SetTaskReminder(ctx context.Context, id string, reminderID *string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET reminder_id=? WHERE id=?`, reminderID, id)
	if err != nil {
		return err
	}
	return requireAffected(res, domain.ErrTaskNotFound)
}

func (r *sqliteRepo) DeleteTask(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	return requireAffected(res, domain.ErrTaskNotFound)
}

func (r *sqliteRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (id,email,password_hash,notifications_enabled,reminder_delay_ms,created_at,updated_at)
VALUES (?,?,?,?,?,?,?)`, u.ID, u.Email, u.PasswordHash, u.NotificationsEnabled, u.ReminderDelay.Milliseconds(), u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return domain.ErrUserAlreadyExists
	}
	return err
}

const userColumns = `id,email,password_hash,notifications_enabled,reminder_delay_ms,created_at,updated_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var delayMs int64
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.NotificationsEnabled, &delayMs, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	u.ReminderDelay = time.Duration(delayMs) * time.Millisecond
	return u, nil
}

func (r *sqliteRepo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r *sqliteRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
}

func (r *sqliteRepo) UpdateUserSettings(ctx context.Context, u domain.User) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE users SET notifications_enabled=?,reminder_delay_ms=?,updated_at=? WHERE id=?`,
		u.NotificationsEnabled, u.ReminderDelay.Milliseconds(), time.Now().UTC(), u.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, domain.ErrUserNotFound)
}

func (r *sqliteRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sessions (id,user_id,refresh_token,expires_at,created_at,updated_at)
VALUES (?,?,?,?,?,?)`, s.ID, s.UserID, s.RefreshToken, s.ExpiresAt.UTC(), s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	return err
}

const sessionColumns = `id,user_id,refresh_token,expires_at,created_at,updated_at`

func scanSession(row rowScanner) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s, err
}

func (r *sqliteRepo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
}

func (r *sqliteRepo) GetSessionByRefreshToken(ctx context.Context, token string) (domain.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token=?`, token))
}

func (r *sqliteRepo) UpdateSession(ctx context.Context, s domain.Session) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE sessions SET refresh_token=?,expires_at=?,updated_at=? WHERE id=?`,
		s.RefreshToken, s.ExpiresAt.UTC(), s.UpdatedAt.UTC(), s.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, domain.ErrSessionNotFound)
}

func (r *sqliteRepo) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sqliteRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
