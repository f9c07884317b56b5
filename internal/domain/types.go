package domain

import (
	"errors"
	"time"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrPasswordMismatch  = errors.New("user password mismatch")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrReminderNotFound  = errors.New("reminder not found")
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the three known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Weight orders priorities high=3, medium=2, low=1.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	Priority    Priority  `json:"priority"`
	DueDate     time.Time `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ReminderID  *string   `json:"reminder_id,omitempty"`
}

// TaskPatch carries the fields of an edit; nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Completed   *bool
	Priority    *Priority
	DueDate     *time.Time
}

const (
	FilterAll = "all"

	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"

	SortByDueDate   = "dueDate"
	SortByCreatedAt = "createdAt"
	SortByPriority  = "priority"

	SortAsc  = "asc"
	SortDesc = "desc"
)

type TaskFilters struct {
	Priority  string `json:"priority,omitempty"`
	Status    string `json:"status,omitempty"`
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
}

type User struct {
	ID                   string
	Email                string
	PasswordHash         string
	NotificationsEnabled bool
	ReminderDelay        time.Duration
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Session struct {
	ID           string
	UserID       string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Reminder is a fired in-app banner. Notified means the notifier accepted
// the system notification; an asynchronous notifier may still fail to
// deliver it afterwards.
type Reminder struct {
	ID       string    `json:"id"`
	TaskID   string    `json:"task_id"`
	UserID   string    `json:"user_id"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	DueDate  time.Time `json:"due_date"`
	FiredAt  time.Time `json:"fired_at"`
	Notified bool      `json:"notified"`
}

type ReminderAction string

const (
	ActionComplete ReminderAction = "complete"
	ActionSnooze   ReminderAction = "snooze"
	ActionDismiss  ReminderAction = "dismiss"
)

func (a ReminderAction) Valid() bool {
	switch a {
	case ActionComplete, ActionSnooze, ActionDismiss:
		return true
	}
	return false
}
