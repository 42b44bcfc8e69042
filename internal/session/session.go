// Package session wires the investment workflow for one signed-in user: the
// notification subscription, the pending tracker, the ledger and the request and
// decision flows, all sharing one change bus.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/events"
	"github.com/punchamoorthee/stakeops/internal/ledger"
	"github.com/punchamoorthee/stakeops/internal/models"
	"github.com/punchamoorthee/stakeops/internal/notify"
	"github.com/punchamoorthee/stakeops/internal/pending"
	"github.com/punchamoorthee/stakeops/internal/service"
)

// Remote is everything the session needs from the remote service.
type Remote interface {
	Notifications(ctx context.Context, userID string) ([]models.NotificationDTO, error)
	InvestRequest(ctx context.Context, req models.InvestRequest) (*models.InvestRequestResponse, error)
	InvestDecision(ctx context.Context, req models.DecisionRequest) (*models.DecisionResponse, error)
	TokenizedAsset(ctx context.Context, userID string) (assetID uint64, ok bool, err error)
}

type Options struct {
	UserID         string
	Remote         Remote
	LedgerBackend  ledger.Backend
	PendingBackend pending.Backend
	Bounds         service.Bounds
	PollInterval   time.Duration
	Log            *logrus.Entry
}

// Snapshot is the latest notification list and the health of the poller.
type Snapshot struct {
	Notifications       []domain.Notification `json:"notifications"`
	PendingCount        int                   `json:"pending_count"`
	UpdatedAt           time.Time             `json:"updated_at"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	LastError           string                `json:"last_error,omitempty"`
}

type Session struct {
	userID   string
	interval time.Duration
	log      *logrus.Entry

	bus        *events.Bus
	ledger     *ledger.Store
	tracker    *pending.Tracker
	notifier   *notify.Client
	requests   *service.RequestService
	decisions  *service.DecisionProcessor
	reconciler *service.Reconciler

	mu        sync.Mutex
	sub       *notify.Subscription
	snapshot  Snapshot
	loggedOut bool
}

func New(opts Options) (*Session, error) {
	if opts.UserID == "" {
		return nil, domain.Validationf("session user is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("session: remote client is required")
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("user", opts.UserID)
	bounds := opts.Bounds
	if bounds.Min.IsZero() && bounds.Max.IsZero() {
		bounds = service.DefaultBounds
	}

	bus := events.NewBus()
	book := ledger.NewStore(opts.LedgerBackend, bus, log)
	tracker := pending.NewTracker(opts.UserID, opts.PendingBackend, bus, log)
	notifier := notify.NewClient(opts.Remote, log)

	return &Session{
		userID:     opts.UserID,
		interval:   opts.PollInterval,
		log:        log.WithField("component", "session"),
		bus:        bus,
		ledger:     book,
		tracker:    tracker,
		notifier:   notifier,
		requests:   service.NewRequestService(opts.Remote, opts.Remote, tracker, bounds, log),
		decisions:  service.NewDecisionProcessor(opts.Remote, book, log),
		reconciler: service.NewReconciler(notifier, tracker, log),
	}, nil
}

func (s *Session) UserID() string { return s.userID }

// Start restores persisted pending records and begins polling until ctx ends or
// the session is closed. Calling Start on a running session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return nil
	}
	s.loggedOut = false
	if err := s.tracker.Load(ctx); err != nil {
		s.log.WithError(err).Warn("pending records not restored")
	}
	s.sub = s.notifier.Subscribe(ctx, s.userID, s.interval,
		func(list []domain.Notification) { s.onUpdate(ctx, list) },
		s.onError)
	s.log.WithField("interval", s.interval.String()).Info("session started")
	return nil
}

func (s *Session) onUpdate(ctx context.Context, list []domain.Notification) {
	s.mu.Lock()
	if s.loggedOut {
		s.mu.Unlock()
		return
	}
	s.snapshot = Snapshot{
		Notifications: list,
		PendingCount:  domain.PendingCount(list),
		UpdatedAt:     time.Now().UTC(),
	}
	s.mu.Unlock()
	s.bus.Publish(events.NotificationsChanged, s.userID)

	if n, err := s.reconciler.Sync(ctx); err != nil {
		s.log.WithError(err).Debug("pending reconciliation incomplete")
	} else if n > 0 {
		s.log.WithField("cleared", n).Debug("pending reconciliation cleared records")
	}
}

func (s *Session) onError(err error, failures int) {
	s.mu.Lock()
	s.snapshot.ConsecutiveFailures = failures
	s.snapshot.LastError = err.Error()
	s.mu.Unlock()
}

// Notifications returns the last successful poll, newest first, plus poller health.
// Before the first poll completes the list is empty.
func (s *Session) Notifications() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot
	snap.Notifications = append([]domain.Notification(nil), s.snapshot.Notifications...)
	return snap
}

// Refresh polls once outside the schedule and replaces the snapshot. A logged-out
// session refuses until it is started again.
func (s *Session) Refresh(ctx context.Context) (Snapshot, error) {
	if err := s.active(); err != nil {
		return Snapshot{}, err
	}
	list, err := s.notifier.Fetch(ctx, s.userID)
	if err != nil {
		return s.Notifications(), err
	}
	s.onUpdate(ctx, list)
	return s.Notifications(), nil
}

// Submit asks seller to accept an investment of amount from the session user.
func (s *Session) Submit(ctx context.Context, seller domain.Profile, amount decimal.Decimal) (*domain.RequestOutcome, error) {
	if err := s.active(); err != nil {
		return nil, err
	}
	return s.requests.SubmitRequest(ctx, s.userID, seller, amount)
}

// Decide accepts or rejects notification id addressed to the session user. An id
// missing from the snapshot triggers one refresh before failing with ErrNotFound.
func (s *Session) Decide(ctx context.Context, id string, decision domain.Decision) (*domain.DecisionOutcome, error) {
	if err := s.active(); err != nil {
		return nil, err
	}
	n, ok := s.lookup(id)
	if !ok {
		if _, err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		if n, ok = s.lookup(id); !ok {
			return nil, fmt.Errorf("%w: notification %s", domain.ErrNotFound, id)
		}
	}

	out, err := s.decisions.Decide(ctx, s.userID, n, decision)
	if err == nil || errors.Is(err, domain.ErrAlreadyResolved) {
		s.markResolved(id, decision, out)
	}
	return out, err
}

func (s *Session) active() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedOut {
		return domain.Validationf("session %s is logged out", s.userID)
	}
	return nil
}

func (s *Session) lookup(id string) (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.snapshot.Notifications {
		if n.ID == id {
			return n, true
		}
	}
	return domain.Notification{}, false
}

// markResolved applies a decision to the cached snapshot until the next poll
// brings the authoritative status.
func (s *Session) markResolved(id string, decision domain.Decision, out *domain.DecisionOutcome) {
	s.mu.Lock()
	changed := false
	for i := range s.snapshot.Notifications {
		n := &s.snapshot.Notifications[i]
		if n.ID != id || !n.IsPending() {
			continue
		}
		n.Status = domain.StatusResolved
		if out != nil {
			n.Outcome = outcomeOf(decision)
			n.TransactionID = out.TransactionID
		}
		changed = true
	}
	if changed {
		s.snapshot.PendingCount = domain.PendingCount(s.snapshot.Notifications)
	}
	s.mu.Unlock()

	if changed {
		s.bus.Publish(events.NotificationsChanged, s.userID)
	}
}

func outcomeOf(d domain.Decision) string {
	if d == domain.DecisionAccept {
		return "accepted"
	}
	return "declined"
}

// Summary returns the ledger of subject; an empty subject means the session user.
func (s *Session) Summary(ctx context.Context, subject string) domain.LedgerSummary {
	if subject == "" {
		subject = s.userID
	}
	return s.ledger.Summary(ctx, subject)
}

func (s *Session) Pending() []domain.PendingInvestmentRecord { return s.tracker.List() }

func (s *Session) IsPending(targetUserID string) bool { return s.tracker.IsPending(targetUserID) }

// Subscribe registers fn for change events of this session.
func (s *Session) Subscribe(fn func(events.Event)) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}

// Logout stops polling, drops the cached snapshot and invalidates every pending
// record, in memory and in storage. Refresh, Submit and Decide fail until Start
// is called again.
func (s *Session) Logout(ctx context.Context) error {
	s.stop()

	s.mu.Lock()
	s.snapshot = Snapshot{}
	s.loggedOut = true
	s.mu.Unlock()

	err := s.tracker.Invalidate(ctx)
	s.log.Info("session logged out")
	return err
}

// Close stops polling and keeps persisted state for the next start.
func (s *Session) Close() {
	s.stop()
}

func (s *Session) stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}
