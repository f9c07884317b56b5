package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Notification
		deleted  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			if r.Header.Get("X-Token") != "secret" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			var n Notification
			if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			received = append(received, n)
			w.WriteHeader(http.StatusAccepted)
		case http.MethodDelete:
			deleted = append(deleted, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	hook := NewWebhook(srv.URL+"/notifications/", time.Second, map[string]string{"X-Token": "secret"})

	if !hook.Permitted(ctx, "u1") {
		t.Fatal("expected permission with a configured URL")
	}

	t.Run("deliver posts json", func(t *testing.T) {
		n := Notification{ID: "rem_1", UserID: "u1", TaskID: "tsk_1", Title: "Task reminder", Body: "Buy milk"}
		if err := hook.Deliver(ctx, n); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if len(received) != 1 || received[0].TaskID != "tsk_1" {
			t.Errorf("unexpected payloads: %+v", received)
		}
	})

	t.Run("retract deletes by id", func(t *testing.T) {
		if err := hook.Retract(ctx, "rem_1"); err != nil {
			t.Fatalf("Retract failed: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if len(deleted) != 1 || deleted[0] != "/notifications/rem_1" {
			t.Errorf("unexpected deletes: %v", deleted)
		}
	})

	t.Run("error status is returned", func(t *testing.T) {
		bad := NewWebhook(srv.URL, time.Second, nil)
		if err := bad.Deliver(ctx, Notification{ID: "rem_2"}); err == nil {
			t.Error("expected error on 403")
		}
	})

	t.Run("no url means no permission", func(t *testing.T) {
		if NewWebhook("", 0, nil).Permitted(ctx, "u1") {
			t.Error("expected permission denied without URL")
		}
	})
}

func TestParseCommand(t *testing.T) {
	c := ParseCommand("notify-send  {title} {body}")
	if c.Command != "notify-send" {
		t.Errorf("expected notify-send, got %q", c.Command)
	}
	if len(c.Args) != 2 || c.Args[0] != "{title}" {
		t.Errorf("unexpected args: %v", c.Args)
	}
	if ParseCommand("   ").Permitted(context.Background(), "u1") {
		t.Error("expected empty command to deny permission")
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []string
	retracted []string
	fail      bool
}

func (r *recordingNotifier) Permitted(context.Context, string) bool { return true }

func (r *recordingNotifier) Deliver(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("boom")
	}
	r.delivered = append(r.delivered, n.ID)
	return nil
}

func (r *recordingNotifier) Retract(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retracted = append(r.retracted, id)
	return nil
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers asynchronously", func(t *testing.T) {
		next := &recordingNotifier{}
		d := NewDispatcher(next, 2, time.Second, zerolog.Nop())
		for _, id := range []string{"a", "b", "c"} {
			if err := d.Deliver(ctx, Notification{ID: id}); err != nil {
				t.Fatalf("Deliver failed: %v", err)
			}
		}
		d.Wait()
		next.mu.Lock()
		defer next.mu.Unlock()
		if len(next.delivered) != 3 {
			t.Errorf("expected 3 deliveries, got %v", next.delivered)
		}
	})

	t.Run("failures are swallowed", func(t *testing.T) {
		next := &recordingNotifier{fail: true}
		d := NewDispatcher(next, 1, time.Second, zerolog.Nop())
		if err := d.Deliver(ctx, Notification{ID: "x"}); err != nil {
			t.Errorf("expected accepted delivery, got %v", err)
		}
		d.Wait()
	})

	t.Run("failed delivery is not retracted", func(t *testing.T) {
		next := &recordingNotifier{fail: true}
		d := NewDispatcher(next, 1, time.Second, zerolog.Nop())
		if err := d.Deliver(ctx, Notification{ID: "rem_failed"}); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
		d.Wait()
		if err := d.Retract(ctx, "rem_failed"); err != nil {
			t.Fatalf("Retract failed: %v", err)
		}

		next.fail = false
		if err := d.Deliver(ctx, Notification{ID: "rem_ok"}); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
		d.Wait()
		if err := d.Retract(ctx, "rem_ok"); err != nil {
			t.Fatalf("Retract failed: %v", err)
		}
		d.Wait()

		next.mu.Lock()
		defer next.mu.Unlock()
		if len(next.retracted) != 1 || next.retracted[0] != "rem_ok" {
			t.Errorf("expected only rem_ok retracted, got %v", next.retracted)
		}
	})

	t.Run("canceled context is rejected when full", func(t *testing.T) {
		block := make(chan struct{})
		d := NewDispatcher(blockingNotifier{block}, 1, time.Second, zerolog.Nop())
		if err := d.Deliver(ctx, Notification{ID: "first"}); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := d.Deliver(cctx, Notification{ID: "second"}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		close(block)
		d.Wait()
	})
}

type blockingNotifier struct{ release chan struct{} }

func (b blockingNotifier) Permitted(context.Context, string) bool { return true }

func (b blockingNotifier) Deliver(context.Context, Notification) error {
	<-b.release
	return nil
}

func (b blockingNotifier) Retract(context.Context, string) error { return nil }

func TestCommandDeliver(t *testing.T) {
	ctx := context.Background()
	if err := ParseCommand("echo {title} {body}").Deliver(ctx, Notification{Title: "Task reminder", Body: "Buy milk"}); err != nil {
		t.Errorf("Deliver() error = %v", err)
	}
	if err := ParseCommand("false").Deliver(ctx, Notification{ID: "rem_1"}); err == nil {
		t.Error("expected error from failing command")
	}
	if err := (Command{}).Deliver(ctx, Notification{}); err == nil {
		t.Error("expected error without command")
	}
}
