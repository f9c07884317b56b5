// Package notify delivers system notifications for fired reminders.
//
// A Notifier stands in for the device notification API: it grants or denies
// permission, delivers a notification and retracts one that is no longer
// relevant. Permission denial is not an error; callers fall back to the
// in-app banner.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Notification struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	TaskID  string    `json:"task_id"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	Actions []string  `json:"actions,omitempty"`
	At      time.Time `json:"at"`
}

type Notifier interface {
	Permitted(ctx context.Context, userID string) bool
	Deliver(ctx context.Context, n Notification) error
	Retract(ctx context.Context, id string) error
}

// Log records notifications in the log and never grants permission, so
// reminders degrade to in-app banners.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Permitted(context.Context, string) bool { return false }

func (l Log) Deliver(_ context.Context, n Notification) error {
	l.Logger.Info().
		Str("notification_id", n.ID).
		Str("task_id", n.TaskID).
		Str("title", n.Title).
		Msg("notification")
	return nil
}

func (l Log) Retract(_ context.Context, id string) error {
	l.Logger.Debug().Str("notification_id", id).Msg("notification retracted")
	return nil
}
