// Package store persists tasks, users and sessions. Every task query is
// scoped by the owning user id except FindTask, which the reminder
// scheduler uses to re-read a task when its timer fires.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mytasks/internal/domain"
)

type TaskRepository interface {
	// CreateTask inserts t and returns it with ID and timestamps filled in.
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	GetTask(ctx context.Context, userID, id string) (domain.Task, error)
	FindTask(ctx context.Context, id string) (domain.Task, error)
	// ListTasks returns the user's tasks ordered by due date ascending.
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	SetTaskReminder(ctx context.Context, id string, reminderID *string) error
	DeleteTask(ctx context.Context, userID, id string) error
}

type UserRepository interface {
	// CreateUser returns domain.ErrUserAlreadyExists on a duplicate email.
	CreateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateUserSettings(ctx context.Context, u domain.User) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	GetSessionByRefreshToken(ctx context.Context, token string) (domain.Session, error)
	UpdateSession(ctx context.Context, s domain.Session) error
	DeleteUserSessions(ctx context.Context, userID string) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type Repository interface {
	TaskRepository
	UserRepository
	SessionRepository
}

func newTaskID() string { return "tsk_" + uuid.NewString() }

// prepareTask fills the fields every backend sets on insert.
func prepareTask(t domain.Task, now time.Time) domain.Task {
	if t.ID == "" {
		t.ID = newTaskID()
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.CreatedAt = t.CreatedAt.UTC()
	t.DueDate = t.DueDate.UTC()
	return t
}
