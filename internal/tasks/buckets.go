package tasks

import (
	"time"

	"mytasks/internal/domain"
)

// Groups buckets tasks by due day relative to today.
type Groups struct {
	Overdue  []domain.Task `json:"overdue"`
	Today    []domain.Task `json:"today"`
	Tomorrow []domain.Task `json:"tomorrow"`
	ThisWeek []domain.Task `json:"this_week"`
	Later    []domain.Task `json:"later"`
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Group assigns every task to exactly one bucket. Days are computed in
// now's location. Completed tasks due before today fall through to Later.
func Group(tasks []domain.Task, now time.Time) Groups {
	today := startOfDay(now)
	tomorrow := today.AddDate(0, 0, 1)
	weekEnd := today.AddDate(0, 0, 7-int(today.Weekday()))

	g := Groups{
		Overdue:  []domain.Task{},
		Today:    []domain.Task{},
		Tomorrow: []domain.Task{},
		ThisWeek: []domain.Task{},
		Later:    []domain.Task{},
	}
	for _, t := range tasks {
		day := startOfDay(t.DueDate.In(now.Location()))
		switch {
		case day.Before(today) && !t.Completed:
			g.Overdue = append(g.Overdue, t)
		case day.Equal(today):
			g.Today = append(g.Today, t)
		case day.Equal(tomorrow):
			g.Tomorrow = append(g.Tomorrow, t)
		case day.After(tomorrow) && !day.After(weekEnd):
			g.ThisWeek = append(g.ThisWeek, t)
		default:
			g.Later = append(g.Later, t)
		}
	}
	return g
}
