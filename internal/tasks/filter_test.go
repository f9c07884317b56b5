package tasks

import (
	"testing"
	"time"

	"mytasks/internal/domain"
)

var base = time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)

func sample() []domain.Task {
	// store order: due date ascending
	return []domain.Task{
		{ID: "a", Priority: domain.PriorityLow, DueDate: base, CreatedAt: base.Add(-3 * time.Hour)},
		{ID: "b", Priority: domain.PriorityHigh, Completed: true, DueDate: base.Add(time.Hour), CreatedAt: base.Add(-1 * time.Hour)},
		{ID: "c", Priority: domain.PriorityMedium, DueDate: base.Add(2 * time.Hour), CreatedAt: base.Add(-2 * time.Hour)},
		{ID: "d", Priority: domain.PriorityHigh, DueDate: base.Add(3 * time.Hour), CreatedAt: base.Add(-4 * time.Hour)},
	}
}

func ids(tasks []domain.Task) string {
	var s string
	for _, t := range tasks {
		s += t.ID
	}
	return s
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		filters domain.TaskFilters
		want    string
	}{
		{name: "no filters", want: "abcd"},
		{name: "all", filters: domain.TaskFilters{Priority: "all", Status: "all"}, want: "abcd"},
		{name: "high priority", filters: domain.TaskFilters{Priority: "high"}, want: "bd"},
		{name: "completed", filters: domain.TaskFilters{Status: "completed"}, want: "b"},
		{name: "incomplete", filters: domain.TaskFilters{Status: "incomplete"}, want: "acd"},
		{name: "due date desc", filters: domain.TaskFilters{SortBy: "dueDate", SortOrder: "desc"}, want: "dcba"},
		{name: "created asc", filters: domain.TaskFilters{SortBy: "createdAt"}, want: "dacb"},
		{name: "priority asc keeps ties in store order", filters: domain.TaskFilters{SortBy: "priority", SortOrder: "asc"}, want: "acbd"},
		{name: "priority desc", filters: domain.TaskFilters{SortBy: "priority", SortOrder: "desc"}, want: "bdca"},
		{name: "unknown sort key falls back to due date", filters: domain.TaskFilters{SortBy: "title", SortOrder: "desc"}, want: "dcba"},
		{name: "filter and sort", filters: domain.TaskFilters{Status: "incomplete", SortBy: "priority", SortOrder: "desc"}, want: "dca"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(Apply(sample(), tt.filters)); got != tt.want {
				t.Errorf("Apply() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGroup(t *testing.T) {
	// Wednesday; the week ends on Sunday the 25th
	now := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)
	day := func(d, h int) time.Time { return time.Date(2026, 10, d, h, 0, 0, 0, time.UTC) }

	tasks := []domain.Task{
		{ID: "overdue", DueDate: day(20, 23)},
		{ID: "done-late", Completed: true, DueDate: day(19, 9)},
		{ID: "today-early", DueDate: day(21, 1)},
		{ID: "today-done", Completed: true, DueDate: day(21, 22)},
		{ID: "tomorrow", DueDate: day(22, 9)},
		{ID: "friday", DueDate: day(23, 9)},
		{ID: "sunday", DueDate: day(25, 23)},
		{ID: "next-monday", DueDate: day(26, 0)},
	}

	g := Group(tasks, now)
	check := func(name string, got []domain.Task, want ...string) {
		t.Helper()
		if len(got) != len(want) {
			t.Errorf("%s: got %d tasks, want %v", name, len(got), want)
			return
		}
		for i, id := range want {
			if got[i].ID != id {
				t.Errorf("%s[%d] = %s, want %s", name, i, got[i].ID, id)
			}
		}
	}
	check("overdue", g.Overdue, "overdue")
	check("today", g.Today, "today-early", "today-done")
	check("tomorrow", g.Tomorrow, "tomorrow")
	check("thisWeek", g.ThisWeek, "friday", "sunday")
	check("later", g.Later, "done-late", "next-monday")
}

func TestGroupOnSunday(t *testing.T) {
	// weekday 0: the week window runs a full seven days ahead
	now := time.Date(2026, 10, 25, 8, 0, 0, 0, time.UTC)
	tasks := []domain.Task{
		{ID: "tue", DueDate: time.Date(2026, 10, 27, 9, 0, 0, 0, time.UTC)},
		{ID: "next-sun", DueDate: time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)},
		{ID: "next-mon", DueDate: time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)},
	}
	g := Group(tasks, now)
	if ids(g.ThisWeek) != "tuenext-sun" {
		t.Errorf("thisWeek = %s", ids(g.ThisWeek))
	}
	if ids(g.Later) != "next-mon" {
		t.Errorf("later = %s", ids(g.Later))
	}
}

func TestCompute(t *testing.T) {
	now := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)
	tasks := []domain.Task{
		{Priority: domain.PriorityHigh, DueDate: now.AddDate(0, 0, -2), CreatedAt: now.AddDate(0, 0, -10)},
		{Priority: domain.PriorityHigh, Completed: true, DueDate: now.AddDate(0, 0, -2), CreatedAt: now.AddDate(0, 0, -3)},
		{Priority: domain.PriorityMedium, DueDate: now.Add(time.Hour), CreatedAt: now.AddDate(0, 0, -4)},
		{Priority: domain.PriorityLow, Completed: true, DueDate: now.Add(-time.Hour), CreatedAt: now},
	}

	s := Compute(tasks, now)
	if s.Total != 4 || s.Completed != 2 || s.Pending != 2 {
		t.Errorf("counts = %d/%d/%d", s.Total, s.Completed, s.Pending)
	}
	if s.CompletionRate != 50 {
		t.Errorf("CompletionRate = %v, want 50", s.CompletionRate)
	}
	if s.Overdue != 1 {
		t.Errorf("Overdue = %d, want 1", s.Overdue)
	}
	if s.DueToday != 2 {
		t.Errorf("DueToday = %d, want 2", s.DueToday)
	}
	if s.Priority != (PriorityStats{High: 2, Medium: 1, Low: 1}) {
		t.Errorf("Priority = %+v", s.Priority)
	}
	// the week started on Sunday the 18th
	if s.CreatedThisWeek != 2 {
		t.Errorf("CreatedThisWeek = %d, want 2", s.CreatedThisWeek)
	}
	if s.Insight != Insight(50) {
		t.Errorf("Insight = %q", s.Insight)
	}

	if empty := Compute(nil, now); empty.CompletionRate != 0 || empty.Total != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestInsight(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{rate: 100, want: "Excellent work!"},
		{rate: 80, want: "Good progress!"},
		{rate: 61, want: "Good progress!"},
		{rate: 60, want: "You're making progress."},
		{rate: 40, want: "Let's get started!"},
		{rate: 0, want: "Let's get started!"},
	}
	for _, tt := range tests {
		if got := Insight(tt.rate); len(got) < len(tt.want) || got[:len(tt.want)] != tt.want {
			t.Errorf("Insight(%v) = %q, want prefix %q", tt.rate, got, tt.want)
		}
	}
}
