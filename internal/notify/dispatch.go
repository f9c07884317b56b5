package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// failedTTL bounds how long a failed delivery is remembered for Retract.
const failedTTL = 24 * time.Hour

// Dispatcher hands deliveries to a bounded set of goroutines so callers such
// as timer callbacks never wait on the network. Failures are logged, not
// retried, and a later Retract of a failed delivery is skipped.
type Dispatcher struct {
	next    Notifier
	logger  zerolog.Logger
	sem     chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.Mutex
	failed map[string]time.Time
	now    func() time.Time
}

func NewDispatcher(next Notifier, size int, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		next:    next,
		logger:  logger,
		sem:     make(chan struct{}, size),
		timeout: timeout,
		failed:  make(map[string]time.Time),
		now:     time.Now,
	}
}

func (d *Dispatcher) Permitted(ctx context.Context, userID string) bool {
	return d.next.Permitted(ctx, userID)
}

// Deliver returns once the notification is accepted by a worker slot.
func (d *Dispatcher) Deliver(ctx context.Context, n Notification) error {
	return d.submit(ctx, func(c context.Context) error {
		err := d.next.Deliver(c, n)
		if err != nil {
			d.markFailed(n.ID)
		}
		return err
	}, "deliver", n.ID)
}

// Retract is a no-op for a notification whose delivery failed.
func (d *Dispatcher) Retract(ctx context.Context, id string) error {
	if d.takeFailed(id) {
		d.logger.Debug().Str("notification_id", id).Msg("retract skipped: never delivered")
		return nil
	}
	return d.submit(ctx, func(c context.Context) error {
		return d.next.Retract(c, id)
	}, "retract", id)
}

func (d *Dispatcher) markFailed(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, at := range d.failed {
		if now.Sub(at) > failedTTL {
			delete(d.failed, k)
		}
	}
	d.failed[id] = now
}

func (d *Dispatcher) takeFailed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.failed[id]
	delete(d.failed, id)
	return ok
}

func (d *Dispatcher) submit(ctx context.Context, fn func(context.Context) error, op, id string) error {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()

		c, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := fn(c); err != nil {
			d.logger.Error().
				Err(err).
				Str("op", op).
				Str("notification_id", id).
				Msg("notification failed")
			return
		}
		d.logger.Debug().
			Str("op", op).
			Str("notification_id", id).
			Msg("notification done")
	}()
	return nil
}

// Wait blocks until every accepted delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
