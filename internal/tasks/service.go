// Package tasks implements the task use-cases. Every change that affects
// whether a task should still be reminded about goes through the reminder
// scheduler: creating or reopening a task arms a reminder, editing re-arms
// it, completing or deleting cancels it.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"mytasks/internal/domain"
	"mytasks/internal/legacy"
	"mytasks/internal/notify"
	"mytasks/internal/reminder"
	"mytasks/internal/store"
)

const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 500
)

// ValidationError is returned for input the user has to correct.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return &ValidationError{Message: msg} }

type CreateInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    domain.Priority `json:"priority"`
	DueDate     time.Time       `json:"due_date"`
}

type Service struct {
	logger      zerolog.Logger
	repo        store.Repository
	reminders   *reminder.Scheduler
	inbox       *reminder.Inbox
	notifier    notify.Notifier
	legacy      *legacy.Store
	snoozeDelay time.Duration
	now         func() time.Time
}

// NewService wires the task use-cases. notifier and legacyStore may be nil.
func NewService(
	logger zerolog.Logger,
	repo store.Repository,
	reminders *reminder.Scheduler,
	inbox *reminder.Inbox,
	notifier notify.Notifier,
	legacyStore *legacy.Store,
	snoozeDelay time.Duration,
) *Service {
	if snoozeDelay <= 0 {
		snoozeDelay = 5 * time.Minute
	}
	return &Service{
		logger:      logger,
		repo:        repo,
		reminders:   reminders,
		inbox:       inbox,
		notifier:    notifier,
		legacy:      legacyStore,
		snoozeDelay: snoozeDelay,
		now:         time.Now,
	}
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalid("Please enter a task title")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", invalid(fmt.Sprintf("Task title must be at most %d characters", MaxTitleLength))
	}
	return title, nil
}

func validateDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", invalid("Please enter a task description")
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", invalid(fmt.Sprintf("Task description must be at most %d characters", MaxDescriptionLength))
	}
	return description, nil
}

func (in CreateInput) validate() (CreateInput, error) {
	var err error
	if in.Title, err = validateTitle(in.Title); err != nil {
		return in, err
	}
	if in.Description, err = validateDescription(in.Description); err != nil {
		return in, err
	}
	if in.DueDate.IsZero() {
		return in, invalid("Please enter a valid due date")
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	if !in.Priority.Valid() {
		return in, invalid("Priority must be low, medium or high")
	}
	return in, nil
}

func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (domain.Task, error) {
	in, err := in.validate()
	if err != nil {
		return domain.Task{}, err
	}
	return s.insert(ctx, domain.Task{
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
	})
}

func (s *Service) insert(ctx context.Context, t domain.Task) (domain.Task, error) {
	task, err := s.repo.CreateTask(ctx, t)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", t.UserID).
			Msg("failed to create task")
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	s.logger.Info().
		Str("user_id", task.UserID).
		Str("task_id", task.ID).
		Msg("created task")

	if !task.Completed {
		task = s.arm(ctx, task, 0)
	}
	return task, nil
}

func (s *Service) Get(ctx context.Context, userID, id string) (domain.Task, error) {
	task, err := s.repo.GetTask(ctx, userID, id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// Update applies the non-nil fields of patch. The pending reminder is
// replaced by a fresh one if the task is still incomplete.
func (s *Service) Update(ctx context.Context, userID, id string, patch domain.TaskPatch) (domain.Task, error) {
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return domain.Task{}, err
	}

	if patch.Title != nil {
		if task.Title, err = validateTitle(*patch.Title); err != nil {
			return domain.Task{}, err
		}
	}
	if patch.Description != nil {
		if task.Description, err = validateDescription(*patch.Description); err != nil {
			return domain.Task{}, err
		}
	}
	if patch.Priority != nil {
		if !patch.Priority.Valid() {
			return domain.Task{}, invalid("Priority must be low, medium or high")
		}
		task.Priority = *patch.Priority
	}
	if patch.DueDate != nil {
		if patch.DueDate.IsZero() {
			return domain.Task{}, invalid("Please enter a valid due date")
		}
		task.DueDate = *patch.DueDate
	}
	if patch.Completed != nil {
		task.Completed = *patch.Completed
	}
	return s.save(ctx, task)
}

// Toggle flips the completion state of a task.
func (s *Service) Toggle(ctx context.Context, userID, id string) (domain.Task, error) {
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return domain.Task{}, err
	}
	task.Completed = !task.Completed
	return s.save(ctx, task)
}

// save persists task without a reminder handle, cancels the pending reminder
// and arms a new one when the task is incomplete. The store is written first
// so a timer firing in between sees the new state.
func (s *Service) save(ctx context.Context, task domain.Task) (domain.Task, error) {
	task.ReminderID = nil
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		s.logger.Error().
			Err(err).
			Str("task_id", task.ID).
			Msg("failed to update task")
		return domain.Task{}, fmt.Errorf("update task %s: %w", task.ID, err)
	}
	s.reminders.Cancel(task.ID)

	if task.Completed {
		s.inbox.DismissTask(task.UserID, task.ID)
		s.logger.Info().Str("task_id", task.ID).Msg("completed task")
		return task, nil
	}
	s.logger.Info().Str("task_id", task.ID).Msg("updated task")
	return s.arm(ctx, task, 0), nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.DeleteTask(ctx, userID, id); err != nil {
		s.logger.Error().
			Err(err).
			Str("task_id", id).
			Msg("failed to delete task")
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	s.reminders.Cancel(id)
	s.inbox.DismissTask(userID, id)
	s.logger.Info().Str("task_id", id).Msg("deleted task")
	return nil
}

// arm schedules a reminder for task if its owner has notifications enabled
// and records the handle on the task. delay 0 uses the owner's delay, or
// the scheduler default when the owner has none.
func (s *Service) arm(ctx context.Context, task domain.Task, delay time.Duration) domain.Task {
	user, err := s.repo.GetUser(ctx, task.UserID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", task.UserID).
			Msg("failed to load reminder settings")
		return task
	}
	if !user.NotificationsEnabled {
		return task
	}
	if delay <= 0 {
		delay = user.ReminderDelay
	}

	handle := s.reminders.Schedule(task, delay)
	if err := s.repo.SetTaskReminder(ctx, task.ID, &handle); err != nil {
		s.logger.Error().
			Err(err).
			Str("task_id", task.ID).
			Msg("failed to record reminder handle")
		return task
	}
	task.ReminderID = &handle
	return task
}

func (s *Service) List(ctx context.Context, userID string, f domain.TaskFilters) ([]domain.Task, error) {
	tasks, err := s.repo.ListTasks(ctx, userID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to list tasks")
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return Apply(tasks, f), nil
}

func (s *Service) Grouped(ctx context.Context, userID string, f domain.TaskFilters) (Groups, error) {
	tasks, err := s.List(ctx, userID, f)
	if err != nil {
		return Groups{}, err
	}
	return Group(tasks, s.now()), nil
}

func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	tasks, err := s.List(ctx, userID, domain.TaskFilters{})
	if err != nil {
		return Stats{}, err
	}
	return Compute(tasks, s.now()), nil
}

func (s *Service) Reminders(userID string) []domain.Reminder {
	return s.inbox.List(userID)
}

// Respond handles an action taken on a fired reminder.
func (s *Service) Respond(ctx context.Context, userID, reminderID string, action domain.ReminderAction) error {
	if !action.Valid() {
		return invalid(fmt.Sprintf("unknown reminder action %q", action))
	}
	r, ok := s.inbox.Get(userID, reminderID)
	if !ok {
		return domain.ErrReminderNotFound
	}
	logger := s.logger.With().
		Str("reminder_id", r.ID).
		Str("task_id", r.TaskID).
		Str("action", string(action)).
		Logger()

	switch action {
	case domain.ActionComplete:
		task, err := s.Get(ctx, userID, r.TaskID)
		if errors.Is(err, domain.ErrTaskNotFound) {
			s.inbox.Dismiss(userID, r.ID)
			return err
		}
		if err != nil {
			return err
		}
		if !task.Completed {
			task.Completed = true
			if _, err := s.save(ctx, task); err != nil {
				return err
			}
		}
		s.inbox.Dismiss(userID, r.ID)
		s.retract(ctx, r)

	case domain.ActionSnooze:
		task, err := s.Get(ctx, userID, r.TaskID)
		if err != nil {
			s.inbox.Dismiss(userID, r.ID)
			return err
		}
		s.inbox.Dismiss(userID, r.ID)
		s.retract(ctx, r)
		if !task.Completed {
			s.arm(ctx, task, s.snoozeDelay)
		}

	case domain.ActionDismiss:
		s.inbox.Dismiss(userID, r.ID)
	}

	logger.Info().Msg("reminder handled")
	return nil
}

func (s *Service) retract(ctx context.Context, r domain.Reminder) {
	if !r.Notified || s.notifier == nil {
		return
	}
	if err := s.notifier.Retract(ctx, r.ID); err != nil {
		s.logger.Error().
			Err(err).
			Str("reminder_id", r.ID).
			Msg("failed to retract notification")
	}
}

// Export writes the user's tasks to the legacy store and returns how many
// were written.
func (s *Service) Export(ctx context.Context, userID string) (int, error) {
	if s.legacy == nil {
		return 0, errors.New("legacy store not configured")
	}
	tasks, err := s.repo.ListTasks(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]legacy.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, legacy.FromTask(t))
	}
	if err := s.legacy.Save(ctx, legacy.Key(userID), out); err != nil {
		return 0, err
	}
	s.logger.Info().
		Str("user_id", userID).
		Int("count", len(out)).
		Msg("exported tasks")
	return len(out), nil
}

// Import creates a task for every entry of the user's legacy list. Imported
// tasks get reminders like any new task. Entries already present, either
// from an earlier import or exported from this account, are skipped.
func (s *Service) Import(ctx context.Context, userID string) ([]domain.Task, error) {
	if s.legacy == nil {
		return nil, errors.New("legacy store not configured")
	}
	entries, err := s.legacy.Load(ctx, legacy.Key(userID))
	if err != nil {
		return nil, err
	}
	created := make([]domain.Task, 0, len(entries))
	for _, e := range entries {
		t := legacy.ToTask(e, userID)
		if t.Title, err = validateTitle(t.Title); err != nil {
			s.logger.Warn().Str("legacy_id", e.ID).Msg("skipped legacy task without title")
			continue
		}
		exists, err := s.imported(ctx, userID, e.ID, t.ID)
		if err != nil {
			return created, err
		}
		if exists {
			s.logger.Debug().Str("legacy_id", e.ID).Msg("skipped legacy task already imported")
			continue
		}
		task, err := s.insert(ctx, t)
		if err != nil {
			return created, err
		}
		created = append(created, task)
	}
	s.logger.Info().
		Str("user_id", userID).
		Int("count", len(created)).
		Msg("imported tasks")
	return created, nil
}

func (s *Service) imported(ctx context.Context, userID string, ids ...string) (bool, error) {
	for _, id := range ids {
		_, err := s.repo.GetTask(ctx, userID, id)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, domain.ErrTaskNotFound) {
			return false, fmt.Errorf("check imported task %s: %w", id, err)
		}
	}
	return false, nil
}
