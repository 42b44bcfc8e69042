package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/domain"
)

// UpdateFunc receives the full list on every successful poll, changed or not.
type UpdateFunc func([]domain.Notification)

// ErrorFunc receives a failed poll and the number of consecutive failures so far.
type ErrorFunc func(err error, consecutiveFailures int)

// Subscription is a running periodic fetch. Cancel it to stop.
type Subscription struct {
	userID string

	cancelled  atomic.Bool
	delivering atomic.Bool
	deliverMu  sync.Mutex
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}

	failures atomic.Int64
}

// Subscribe fetches userID's notifications immediately and then every interval
// until the subscription is cancelled or ctx ends. A failed cycle is reported to
// onError (which may be nil) and the schedule continues.
//
// An in-flight fetch is not aborted by Cancel; its result is discarded instead.
// No callback starts after Cancel has returned. A callback already running on
// another goroutine may still be finishing.
func (c *Client) Subscribe(ctx context.Context, userID string, interval time.Duration, onUpdate UpdateFunc, onError ErrorFunc) *Subscription {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	sub := &Subscription{
		userID: userID,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.run(ctx, sub, interval, onUpdate, onError)
	return sub
}

// Cancel stops further fetches. It is safe to call more than once and from
// inside the update callback.
func (s *Subscription) Cancel() {
	s.cancelled.Store(true)
	s.stopOnce.Do(func() { close(s.stop) })
	if s.delivering.Load() {
		return
	}
	// Wait out a delivery that passed its cancellation check before we set the flag.
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

// Done is closed when the polling loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// ConsecutiveFailures is the number of failed polls since the last success.
func (s *Subscription) ConsecutiveFailures() int { return int(s.failures.Load()) }

func (s *Subscription) deliver(fn func()) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.cancelled.Load() {
		return false
	}
	s.delivering.Store(true)
	defer s.delivering.Store(false)
	fn()
	return true
}

func (c *Client) run(ctx context.Context, sub *Subscription, interval time.Duration, onUpdate UpdateFunc, onError ErrorFunc) {
	defer close(sub.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := c.log.WithField("user", sub.userID)
	for {
		c.poll(ctx, sub, log, onUpdate, onError)

		select {
		case <-sub.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) poll(ctx context.Context, sub *Subscription, log *logrus.Entry, onUpdate UpdateFunc, onError ErrorFunc) {
	if sub.cancelled.Load() {
		return
	}
	list, err := c.Fetch(ctx, sub.userID)
	if err != nil {
		n := int(sub.failures.Add(1))
		pollsTotal.WithLabelValues("failure").Inc()
		if !sub.deliver(func() {
			log.WithError(err).WithField("consecutive_failures", n).Warn("notification poll failed")
			if onError != nil {
				onError(err, n)
			}
		}) {
			log.WithError(err).Debug("discarding poll failure after cancellation")
		}
		return
	}

	sub.failures.Store(0)
	pollsTotal.WithLabelValues("success").Inc()
	if !sub.deliver(func() {
		if onUpdate != nil {
			onUpdate(list)
		}
	}) {
		log.Debug("discarding poll result after cancellation")
	}
}
