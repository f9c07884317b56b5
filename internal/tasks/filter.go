package tasks

import (
	"sort"

	"mytasks/internal/domain"
)

// Apply filters by priority and status, then sorts when f.SortBy is set.
// The sort is stable so equal keys keep the store order (due date ascending).
func Apply(tasks []domain.Task, f domain.TaskFilters) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Priority != "" && f.Priority != domain.FilterAll && string(t.Priority) != f.Priority {
			continue
		}
		if f.Status != "" && f.Status != domain.FilterAll {
			if t.Completed != (f.Status == domain.StatusCompleted) {
				continue
			}
		}
		out = append(out, t)
	}

	if f.SortBy == "" {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := compare(out[i], out[j], f.SortBy)
		if f.SortOrder == domain.SortDesc {
			c = -c
		}
		return c < 0
	})
	return out
}

func compare(a, b domain.Task, sortBy string) int {
	switch sortBy {
	case domain.SortByCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case domain.SortByPriority:
		return a.Priority.Weight() - b.Priority.Weight()
	default:
		return a.DueDate.Compare(b.DueDate)
	}
}
