package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SessionPurger deletes sessions that expired at or before now.
type SessionPurger interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Service runs maintenance jobs on a cron schedule.
type Service struct {
	logger  zerolog.Logger
	repo    SessionPurger
	cron    *cron.Cron
	expr    string
	timeout time.Duration
	now     func() time.Time
}

func NewService(logger zerolog.Logger, repo SessionPurger, expr string) (*Service, error) {
	if err := ValidateCronExpression(expr); err != nil {
		return nil, err
	}
	return &Service{
		logger:  logger,
		repo:    repo,
		cron:    cron.New(),
		expr:    expr,
		timeout: 30 * time.Second,
		now:     time.Now,
	}, nil
}

func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.expr, func() { s.Sweep(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	next, _ := NextRunTime(s.expr, s.now())
	s.logger.Info().
		Str("cron_expr", s.expr).
		Time("next_run", next).
		Msg("sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish or ctx
// to end.
func (s *Service) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep purges expired sessions once.
func (s *Service) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.repo.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to purge expired sessions")
		return
	}
	s.logger.Info().Int64("purged", n).Msg("purged expired sessions")
}

// ValidateCronExpression accepts standard five-field expressions and
// descriptors such as @every 1h.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

func NextRunTime(expr string, from time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}
