package tasks

import (
	"time"

	"mytasks/internal/domain"
)

type PriorityStats struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

type Stats struct {
	Total           int           `json:"total"`
	Completed       int           `json:"completed"`
	Pending         int           `json:"pending"`
	CompletionRate  float64       `json:"completion_rate"`
	Overdue         int           `json:"overdue"`
	DueToday        int           `json:"due_today"`
	Priority        PriorityStats `json:"priority"`
	CreatedThisWeek int           `json:"created_this_week"`
	Insight         string        `json:"insight"`
}

// Compute derives the statistics of tasks at now. The week starts on Sunday.
func Compute(tasks []domain.Task, now time.Time) Stats {
	today := startOfDay(now)
	weekStart := today.AddDate(0, 0, -int(today.Weekday()))

	s := Stats{Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			s.Completed++
		}
		due := t.DueDate.In(now.Location())
		if due.Before(today) && !t.Completed {
			s.Overdue++
		}
		if startOfDay(due).Equal(today) {
			s.DueToday++
		}
		switch t.Priority {
		case domain.PriorityHigh:
			s.Priority.High++
		case domain.PriorityMedium:
			s.Priority.Medium++
		case domain.PriorityLow:
			s.Priority.Low++
		}
		if !t.CreatedAt.Before(weekStart) {
			s.CreatedThisWeek++
		}
	}
	s.Pending = s.Total - s.Completed
	if s.Total > 0 {
		s.CompletionRate = float64(s.Completed) / float64(s.Total) * 100
	}
	s.Insight = Insight(s.CompletionRate)
	return s
}

func Insight(rate float64) string {
	switch {
	case rate > 80:
		return "Excellent work! You're completing most of your tasks."
	case rate > 60:
		return "Good progress! Try to focus on completing pending tasks."
	case rate > 40:
		return "You're making progress. Consider breaking large tasks into smaller ones."
	default:
		return "Let's get started! Set achievable daily goals to build momentum."
	}
}
