// Package reminder schedules a reminder for a task some delay after it is
// created or reopened.
//
// The Scheduler owns the registry of pending reminders: at most one per task
// id. When a timer fires, the task is read again and the reminder is
// suppressed if the task was deleted or completed in the meantime. Otherwise
// an in-app banner is posted to the Inbox and, if the notifier grants
// permission, a system notification is delivered.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mytasks/internal/domain"
	"mytasks/internal/notify"
)

// TaskLookup re-reads a task by id at fire time.
type TaskLookup interface {
	FindTask(ctx context.Context, id string) (domain.Task, error)
}

// Timer is a cancelable delayed callback.
type Timer interface {
	Stop() bool
}

// AfterFunc starts f after d. The default is time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Options struct {
	DefaultDelay  time.Duration
	LookupTimeout time.Duration
	AfterFunc     AfterFunc
	Now           func() time.Time
}

type registration struct {
	handle string
	gen    uint64
	timer  Timer
	fireAt time.Time
}

type Scheduler struct {
	logger        zerolog.Logger
	tasks         TaskLookup
	inbox         *Inbox
	notifier      notify.Notifier
	defaultDelay  time.Duration
	lookupTimeout time.Duration
	afterFunc     AfterFunc
	now           func() time.Time

	mu      sync.Mutex
	regs    map[string]*registration
	gen     uint64
	stopped bool
	firing  sync.WaitGroup

	deniedOnce sync.Once
}

// New builds a Scheduler. notifier may be nil, in which case reminders are
// banner only.
func New(logger zerolog.Logger, tasks TaskLookup, inbox *Inbox, notifier notify.Notifier, opts Options) *Scheduler {
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = time.Minute
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 5 * time.Second
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		logger:        logger,
		tasks:         tasks,
		inbox:         inbox,
		notifier:      notifier,
		defaultDelay:  opts.DefaultDelay,
		lookupTimeout: opts.LookupTimeout,
		afterFunc:     opts.AfterFunc,
		now:           opts.Now,
		regs:          make(map[string]*registration),
	}
}

func (s *Scheduler) DefaultDelay() time.Duration { return s.defaultDelay }

// Schedule replaces any pending reminder for task.ID with one firing after
// delay and returns the new reminder handle. A non-positive delay uses the
// default delay.
func (s *Scheduler) Schedule(task domain.Task, delay time.Duration) string {
	if delay <= 0 {
		delay = s.defaultDelay
	}
	handle := "rem_" + uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(task.ID)
	if s.stopped {
		s.logger.Debug().Str("task_id", task.ID).Msg("scheduler stopped, reminder not armed")
		return handle
	}

	s.gen++
	gen := s.gen
	reg := &registration{handle: handle, gen: gen, fireAt: s.now().Add(delay)}
	s.regs[task.ID] = reg
	taskID := task.ID
	reg.timer = s.afterFunc(delay, func() { s.fire(taskID, gen) })

	s.logger.Debug().
		Str("task_id", task.ID).
		Str("reminder_id", handle).
		Dur("delay", delay).
		Msg("reminder scheduled")
	return handle
}

// Cancel drops the pending reminder for taskID. It reports whether one was
// pending.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.cancelLocked(taskID)
	if ok {
		s.logger.Debug().Str("task_id", taskID).Msg("reminder canceled")
	}
	return ok
}

func (s *Scheduler) cancelLocked(taskID string) bool {
	reg, ok := s.regs[taskID]
	if !ok {
		return false
	}
	reg.timer.Stop()
	delete(s.regs, taskID)
	return true
}

func (s *Scheduler) Pending(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.regs[taskID]
	return ok
}

// Handle returns the handle and fire time of the pending reminder for taskID.
func (s *Scheduler) Handle(taskID string) (string, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[taskID]
	if !ok {
		return "", time.Time{}, false
	}
	return reg.handle, reg.fireAt, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

// Stop cancels every pending reminder and waits for reminders that are
// already firing. Later Schedule calls arm nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id := range s.regs {
		s.cancelLocked(id)
	}
	s.mu.Unlock()
	s.firing.Wait()
}

func (s *Scheduler) fire(taskID string, gen uint64) {
	s.mu.Lock()
	reg, ok := s.regs[taskID]
	if s.stopped || !ok || reg.gen != gen {
		// canceled or superseded after the timer had already started
		s.mu.Unlock()
		return
	}
	delete(s.regs, taskID)
	s.firing.Add(1)
	s.mu.Unlock()
	defer s.firing.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.lookupTimeout)
	defer cancel()
	s.emit(ctx, taskID, reg.handle)
}

func (s *Scheduler) emit(ctx context.Context, taskID, handle string) {
	logger := s.logger.With().Str("task_id", taskID).Str("reminder_id", handle).Logger()

	task, err := s.tasks.FindTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			logger.Debug().Msg("reminder suppressed: task deleted")
			return
		}
		logger.Error().Err(err).Msg("reminder suppressed: task lookup failed")
		return
	}
	if task.Completed {
		logger.Debug().Msg("reminder suppressed: task completed")
		return
	}

	now := s.now()
	r := domain.Reminder{
		ID:      handle,
		TaskID:  task.ID,
		UserID:  task.UserID,
		Title:   task.Title,
		Message: Message(task, now),
		DueDate: task.DueDate,
		FiredAt: now,
	}

	if s.notifier != nil && s.notifier.Permitted(ctx, task.UserID) {
		err := s.notifier.Deliver(ctx, notify.Notification{
			ID:      handle,
			UserID:  task.UserID,
			TaskID:  task.ID,
			Title:   "Task reminder",
			Body:    r.Message,
			Actions: []string{string(domain.ActionComplete), string(domain.ActionSnooze), string(domain.ActionDismiss)},
			At:      now,
		})
		if err != nil {
			logger.Error().Err(err).Msg("system notification failed")
		} else {
			r.Notified = true
		}
	} else {
		s.deniedOnce.Do(func() {
			s.logger.Warn().Msg("system notifications not permitted, using in-app reminders only")
		})
	}

	s.inbox.Post(r)
	logger.Info().
		Str("user_id", task.UserID).
		Bool("notified", r.Notified).
		Msg("reminder fired")
}

// Message renders the reminder text for t relative to now.
func Message(t domain.Task, now time.Time) string {
	if t.DueDate.IsZero() {
		return fmt.Sprintf("Don't forget: %s", t.Title)
	}
	verb := "is due"
	if t.DueDate.Before(now) {
		verb = "was due"
	}
	return fmt.Sprintf("%q %s %s", t.Title, verb, humanize.RelTime(t.DueDate, now, "ago", "from now"))
}
