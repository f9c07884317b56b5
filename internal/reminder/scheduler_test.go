package reminder

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mytasks/internal/domain"
	"mytasks/internal/notify"
)

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type memTasks struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
	err   error
}

func newMemTasks(tasks ...domain.Task) *memTasks {
	m := &memTasks{tasks: make(map[string]domain.Task)}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *memTasks) FindTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Task{}, m.err
	}
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t, nil
}

func (m *memTasks) complete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	t.Completed = true
	m.tasks[id] = t
}

func (m *memTasks) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
}

type fakeNotifier struct {
	permitted bool
	fail      bool
	delivered []notify.Notification
}

func (f *fakeNotifier) Permitted(context.Context, string) bool { return f.permitted }

func (f *fakeNotifier) Deliver(_ context.Context, n notify.Notification) error {
	if f.fail {
		return errors.New("push service down")
	}
	f.delivered = append(f.delivered, n)
	return nil
}

func (f *fakeNotifier) Retract(context.Context, string) error { return nil }

type harness struct {
	clock    *fakeClock
	tasks    *memTasks
	inbox    *Inbox
	notifier *fakeNotifier
	sched    *Scheduler
}

func newHarness(tasks ...domain.Task) *harness {
	h := &harness{
		clock:    newFakeClock(),
		tasks:    newMemTasks(tasks...),
		inbox:    NewInbox(10),
		notifier: &fakeNotifier{permitted: true},
	}
	h.sched = New(zerolog.Nop(), h.tasks, h.inbox, h.notifier, Options{
		DefaultDelay: time.Minute,
		AfterFunc:    h.clock.AfterFunc,
		Now:          h.clock.Now,
	})
	return h
}

func taskA() domain.Task {
	return domain.Task{
		ID:      "tsk_a",
		UserID:  "u1",
		Title:   "Buy milk",
		DueDate: time.Date(2026, 10, 20, 12, 0, 0, 0, time.UTC),
	}
}

func TestScheduler_FiresAfterDelay(t *testing.T) {
	h := newHarness(taskA())
	handle := h.sched.Schedule(taskA(), 10*time.Second)

	if !h.sched.Pending("tsk_a") {
		t.Fatal("expected pending registration")
	}
	h.clock.Advance(9 * time.Second)
	if n := len(h.inbox.List("u1")); n != 0 {
		t.Fatalf("expected no reminder before delay, got %d", n)
	}

	h.clock.Advance(time.Second)
	got := h.inbox.List("u1")
	if len(got) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(got))
	}
	if got[0].ID != handle || got[0].TaskID != "tsk_a" {
		t.Errorf("unexpected reminder: %+v", got[0])
	}
	if !got[0].Notified {
		t.Error("expected system notification to be delivered")
	}
	if len(h.notifier.delivered) != 1 || h.notifier.delivered[0].ID != handle {
		t.Errorf("unexpected notifications: %+v", h.notifier.delivered)
	}
	if h.sched.Pending("tsk_a") {
		t.Error("expected registration removed after firing")
	}
}

func TestScheduler_CancelBeforeExpiryNeverFires(t *testing.T) {
	h := newHarness(taskA())
	h.sched.Schedule(taskA(), 10*time.Second)

	h.clock.Advance(5 * time.Second)
	if !h.sched.Cancel("tsk_a") {
		t.Fatal("expected Cancel to report a pending reminder")
	}
	h.clock.Advance(10 * time.Second)

	if n := len(h.inbox.List("u1")); n != 0 {
		t.Errorf("expected no reminder after cancel, got %d", n)
	}
	if len(h.notifier.delivered) != 0 {
		t.Errorf("expected no notifications, got %d", len(h.notifier.delivered))
	}
}

func TestScheduler_CancelIsIdempotent(t *testing.T) {
	h := newHarness()
	if h.sched.Cancel("unknown") {
		t.Error("expected false for unregistered id")
	}
	h.sched.Schedule(taskA(), time.Second)
	h.sched.Cancel("tsk_a")
	if h.sched.Cancel("tsk_a") {
		t.Error("expected second cancel to be a no-op")
	}
}

func TestScheduler_RescheduleSupersedes(t *testing.T) {
	h := newHarness(taskA())
	first := h.sched.Schedule(taskA(), 10*time.Second)
	h.clock.Advance(5 * time.Second)
	second := h.sched.Schedule(taskA(), 10*time.Second)

	if first == second {
		t.Fatal("expected a fresh handle")
	}
	if h.sched.Len() != 1 {
		t.Fatalf("expected exactly one registration, got %d", h.sched.Len())
	}

	h.clock.Advance(5 * time.Second)
	if n := len(h.inbox.List("u1")); n != 0 {
		t.Fatalf("superseded reminder fired: %d", n)
	}

	h.clock.Advance(5 * time.Second)
	got := h.inbox.List("u1")
	if len(got) != 1 || got[0].ID != second {
		t.Fatalf("expected only the second reminder, got %+v", got)
	}
}

func TestScheduler_StaleCallbackIsIgnored(t *testing.T) {
	h := newHarness(taskA())
	var callbacks []func()
	h.sched.afterFunc = func(d time.Duration, f func()) Timer {
		callbacks = append(callbacks, f)
		return &fakeTimer{clock: h.clock}
	}

	h.sched.Schedule(taskA(), time.Second)
	h.sched.Schedule(taskA(), time.Second)

	// the first timer fires even though it was stopped
	callbacks[0]()
	if n := len(h.inbox.List("u1")); n != 0 {
		t.Fatalf("stale callback produced a reminder")
	}
	if !h.sched.Pending("tsk_a") {
		t.Fatal("stale callback removed the live registration")
	}

	callbacks[1]()
	if n := len(h.inbox.List("u1")); n != 1 {
		t.Fatalf("expected live callback to fire, got %d", n)
	}
}

func TestScheduler_FireTimeCheck(t *testing.T) {
	t.Run("completed task is suppressed", func(t *testing.T) {
		h := newHarness(taskA())
		h.sched.Schedule(taskA(), 10*time.Second)
		h.clock.Advance(2 * time.Second)
		h.tasks.complete("tsk_a")
		h.clock.Advance(8 * time.Second)

		if n := len(h.inbox.List("u1")); n != 0 {
			t.Errorf("expected no reminder for completed task, got %d", n)
		}
		if h.sched.Pending("tsk_a") {
			t.Error("expected registration removed after suppression")
		}
	})

	t.Run("deleted task is suppressed", func(t *testing.T) {
		h := newHarness(taskA())
		h.sched.Schedule(taskA(), 10*time.Second)
		h.tasks.remove("tsk_a")
		h.clock.Advance(10 * time.Second)

		if n := len(h.inbox.List("u1")); n != 0 {
			t.Errorf("expected no reminder for deleted task, got %d", n)
		}
		if h.sched.Pending("tsk_a") {
			t.Error("expected registration removed after suppression")
		}
	})

	t.Run("lookup failure is suppressed", func(t *testing.T) {
		h := newHarness(taskA())
		h.tasks.err = errors.New("db down")
		h.sched.Schedule(taskA(), time.Second)
		h.clock.Advance(time.Second)

		if n := len(h.inbox.List("u1")); n != 0 {
			t.Errorf("expected no reminder on lookup failure, got %d", n)
		}
	})
}

func TestScheduler_NotificationDegradation(t *testing.T) {
	t.Run("permission denied falls back to banner", func(t *testing.T) {
		h := newHarness(taskA())
		h.notifier.permitted = false
		h.sched.Schedule(taskA(), time.Second)
		h.clock.Advance(time.Second)

		got := h.inbox.List("u1")
		if len(got) != 1 {
			t.Fatalf("expected banner, got %d", len(got))
		}
		if got[0].Notified {
			t.Error("expected Notified=false without permission")
		}
		if len(h.notifier.delivered) != 0 {
			t.Error("expected no delivery without permission")
		}
	})

	t.Run("delivery failure keeps banner", func(t *testing.T) {
		h := newHarness(taskA())
		h.notifier.fail = true
		h.sched.Schedule(taskA(), time.Second)
		h.clock.Advance(time.Second)

		got := h.inbox.List("u1")
		if len(got) != 1 || got[0].Notified {
			t.Fatalf("expected un-notified banner, got %+v", got)
		}
	})

	t.Run("nil notifier", func(t *testing.T) {
		clock := newFakeClock()
		inbox := NewInbox(10)
		s := New(zerolog.Nop(), newMemTasks(taskA()), inbox, nil, Options{AfterFunc: clock.AfterFunc, Now: clock.Now})
		s.Schedule(taskA(), time.Second)
		clock.Advance(time.Second)
		if len(inbox.List("u1")) != 1 {
			t.Error("expected banner with nil notifier")
		}
	})
}

func TestScheduler_DefaultDelayAndStop(t *testing.T) {
	h := newHarness(taskA(), domain.Task{ID: "tsk_b", UserID: "u1", Title: "Walk dog"})
	h.sched.Schedule(taskA(), 0)

	_, fireAt, ok := h.sched.Handle("tsk_a")
	if !ok {
		t.Fatal("expected pending handle")
	}
	if want := h.clock.Now().Add(time.Minute); !fireAt.Equal(want) {
		t.Errorf("expected default delay fire at %v, got %v", want, fireAt)
	}

	h.sched.Schedule(domain.Task{ID: "tsk_b", UserID: "u1"}, time.Second)
	h.sched.Stop()
	if h.sched.Len() != 0 {
		t.Fatalf("expected empty registry after Stop, got %d", h.sched.Len())
	}
	h.clock.Advance(time.Hour)
	if n := len(h.inbox.List("u1")); n != 0 {
		t.Errorf("expected nothing to fire after Stop, got %d", n)
	}
}

// gatedTasks blocks FindTask until release is closed.
type gatedTasks struct {
	*memTasks
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTasks) FindTask(ctx context.Context, id string) (domain.Task, error) {
	close(g.entered)
	<-g.release
	return g.memTasks.FindTask(ctx, id)
}

func TestScheduler_StopWaitsForFiringReminder(t *testing.T) {
	h := newHarness(taskA())
	gate := &gatedTasks{memTasks: h.tasks, entered: make(chan struct{}), release: make(chan struct{})}
	h.sched.tasks = gate
	h.sched.Schedule(taskA(), time.Second)

	fired := make(chan struct{})
	go func() {
		defer close(fired)
		h.clock.Advance(time.Second)
	}()
	<-gate.entered

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		h.sched.Stop()
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a reminder was still firing")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	<-stopped
	<-fired
	if n := len(h.inbox.List("u1")); n != 1 {
		t.Fatalf("expected the in-flight reminder to finish before Stop returned, got %d", n)
	}

	if h.sched.Schedule(taskA(), time.Second) == "" {
		t.Fatal("expected a handle")
	}
	if h.sched.Pending("tsk_a") {
		t.Error("expected nothing armed after Stop")
	}
}

func TestMessage(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	task := domain.Task{Title: "Buy milk", DueDate: now.Add(3 * time.Hour)}
	if msg := Message(task, now); !strings.Contains(msg, "is due") || !strings.Contains(msg, "from now") {
		t.Errorf("unexpected future message: %q", msg)
	}
	task.DueDate = now.Add(-48 * time.Hour)
	if msg := Message(task, now); !strings.Contains(msg, "was due") || !strings.Contains(msg, "ago") {
		t.Errorf("unexpected past message: %q", msg)
	}
	task.DueDate = time.Time{}
	if msg := Message(task, now); msg != "Don't forget: Buy milk" {
		t.Errorf("unexpected undated message: %q", msg)
	}
}
