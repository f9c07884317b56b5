package reminder

import (
	"sync"

	"mytasks/internal/domain"
)

// Inbox holds fired in-app banners per user until they are dismissed.
type Inbox struct {
	mu     sync.Mutex
	max    int
	byUser map[string][]domain.Reminder
}

// NewInbox keeps at most max banners per user, dropping the oldest.
func NewInbox(max int) *Inbox {
	if max <= 0 {
		max = 50
	}
	return &Inbox{max: max, byUser: make(map[string][]domain.Reminder)}
}

func (b *Inbox) Post(r domain.Reminder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.byUser[r.UserID], r)
	if len(list) > b.max {
		list = list[len(list)-b.max:]
	}
	b.byUser[r.UserID] = list
}

// List returns the user's banners, newest first.
func (b *Inbox) List(userID string) []domain.Reminder {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.byUser[userID]
	out := make([]domain.Reminder, len(list))
	for i, r := range list {
		out[len(list)-1-i] = r
	}
	return out
}

func (b *Inbox) Get(userID, id string) (domain.Reminder, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.byUser[userID] {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Reminder{}, false
}

func (b *Inbox) Dismiss(userID, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(userID, func(r domain.Reminder) bool { return r.ID == id }) > 0
}

// DismissTask drops every banner of taskID and returns how many were removed.
func (b *Inbox) DismissTask(userID, taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(userID, func(r domain.Reminder) bool { return r.TaskID == taskID })
}

func (b *Inbox) removeLocked(userID string, match func(domain.Reminder) bool) int {
	list := b.byUser[userID]
	kept := list[:0]
	removed := 0
	for _, r := range list {
		if match(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		delete(b.byUser, userID)
	} else {
		b.byUser[userID] = kept
	}
	return removed
}
