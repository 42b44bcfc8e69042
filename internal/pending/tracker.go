package pending

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/events"
)

// Backend persists the pending set of one owner across restarts.
type Backend interface {
	SavePending(ctx context.Context, owner string, rec domain.PendingInvestmentRecord) error
	DeletePending(ctx context.Context, owner, targetUserID string) error
	DeleteAllPending(ctx context.Context, owner string) error
	LoadPending(ctx context.Context, owner string) ([]domain.PendingInvestmentRecord, error)
}

// Tracker is the owner's set of targets with an outstanding investment request.
// A target is tracked either as reserved (submission in flight) or as a committed
// record; both block a second submission.
type Tracker struct {
	owner   string
	mu      sync.Mutex
	records map[string]domain.PendingInvestmentRecord
	reserve map[string]struct{}
	backend Backend
	bus     *events.Bus
	log     *logrus.Entry
}

// NewTracker returns an empty tracker for owner. backend and bus may be nil.
func NewTracker(owner string, backend Backend, bus *events.Bus, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		owner:   owner,
		records: make(map[string]domain.PendingInvestmentRecord),
		reserve: make(map[string]struct{}),
		backend: backend,
		bus:     bus,
		log:     log.WithFields(logrus.Fields{"component": "pending", "owner": owner}),
	}
}

func (t *Tracker) Owner() string { return t.owner }

// Load restores persisted records. Restored records are provisional until the
// next reconciliation against the remote service.
func (t *Tracker) Load(ctx context.Context) error {
	if t.backend == nil {
		return nil
	}
	recs, err := t.backend.LoadPending(ctx, t.owner)
	if err != nil {
		return fmt.Errorf("%w: load pending: %w", domain.ErrStorageUnavailable, err)
	}

	t.mu.Lock()
	for _, r := range recs {
		if _, exists := t.records[r.TargetUserID]; !exists {
			t.records[r.TargetUserID] = r
		}
	}
	t.mu.Unlock()

	if len(recs) > 0 {
		t.bus.Publish(events.PendingChanged, t.owner)
	}
	return nil
}

// Reserve claims targetUserID for a submission about to be sent. The target
// counts as pending from here on, so observers are notified.
func (t *Tracker) Reserve(targetUserID string) error {
	t.mu.Lock()
	if t.trackedLocked(targetUserID) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrAlreadyPending, targetUserID)
	}
	t.reserve[targetUserID] = struct{}{}
	t.mu.Unlock()

	t.bus.Publish(events.PendingChanged, t.owner)
	return nil
}

// Release drops a reservation that did not turn into a record. Releasing a
// target whose record was already committed changes nothing.
func (t *Tracker) Release(targetUserID string) {
	t.mu.Lock()
	_, had := t.reserve[targetUserID]
	delete(t.reserve, targetUserID)
	t.mu.Unlock()

	if had {
		t.bus.Publish(events.PendingChanged, t.owner)
	}
}

// MarkPending adds rec to the pending set. It fails with domain.ErrAlreadyPending
// when the target already has a record; a reservation for the same target is consumed.
// A persistence failure keeps the record in memory and returns domain.ErrStorageUnavailable.
func (t *Tracker) MarkPending(ctx context.Context, rec domain.PendingInvestmentRecord) error {
	if rec.TargetUserID == "" {
		return domain.Validationf("pending record requires a target user")
	}

	t.mu.Lock()
	if _, exists := t.records[rec.TargetUserID]; exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrAlreadyPending, rec.TargetUserID)
	}
	delete(t.reserve, rec.TargetUserID)
	t.records[rec.TargetUserID] = rec
	t.mu.Unlock()

	var err error
	if t.backend != nil {
		if serr := t.backend.SavePending(ctx, t.owner, rec); serr != nil {
			err = fmt.Errorf("%w: save pending: %w", domain.ErrStorageUnavailable, serr)
			t.log.WithError(serr).WithField("target", rec.TargetUserID).Warn("pending record kept in memory only")
		}
	}
	t.bus.Publish(events.PendingChanged, t.owner)
	return err
}

func (t *Tracker) IsPending(targetUserID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trackedLocked(targetUserID)
}

func (t *Tracker) Get(targetUserID string) (domain.PendingInvestmentRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[targetUserID]
	return r, ok
}

// List returns committed records, oldest first.
func (t *Tracker) List() []domain.PendingInvestmentRecord {
	t.mu.Lock()
	out := make([]domain.PendingInvestmentRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TargetUserID < out[j].TargetUserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Clear stops tracking targetUserID once its resolution has been observed.
func (t *Tracker) Clear(ctx context.Context, targetUserID string) error {
	t.mu.Lock()
	_, had := t.records[targetUserID]
	_, reserved := t.reserve[targetUserID]
	delete(t.records, targetUserID)
	delete(t.reserve, targetUserID)
	t.mu.Unlock()

	if !had {
		if reserved {
			t.bus.Publish(events.PendingChanged, t.owner)
		}
		return nil
	}
	return t.afterClear(ctx, targetUserID)
}

func (t *Tracker) afterClear(ctx context.Context, targetUserID string) error {
	var err error
	if t.backend != nil {
		if derr := t.backend.DeletePending(ctx, t.owner, targetUserID); derr != nil {
			err = fmt.Errorf("%w: delete pending: %w", domain.ErrStorageUnavailable, derr)
			t.log.WithError(derr).WithField("target", targetUserID).Warn("pending record cleared in memory only")
		}
	}
	t.bus.Publish(events.PendingChanged, t.owner)
	return err
}

// Invalidate drops every record, e.g. on logout.
func (t *Tracker) Invalidate(ctx context.Context) error {
	t.mu.Lock()
	changed := len(t.records) > 0 || len(t.reserve) > 0
	t.records = make(map[string]domain.PendingInvestmentRecord)
	t.reserve = make(map[string]struct{})
	t.mu.Unlock()

	var err error
	if t.backend != nil {
		if derr := t.backend.DeleteAllPending(ctx, t.owner); derr != nil {
			err = fmt.Errorf("%w: delete pending: %w", domain.ErrStorageUnavailable, derr)
		}
	}
	if changed {
		t.bus.Publish(events.PendingChanged, t.owner)
	}
	return err
}

// Reconcile clears the record listed before targetNotifications were fetched when
// that list no longer reports its notification as pending. The record is cleared
// only if it is still the one tracked for the target; a newer request filed while
// the list was in flight is left alone. It reports whether a record was cleared.
func (t *Tracker) Reconcile(ctx context.Context, listed domain.PendingInvestmentRecord, targetNotifications []domain.Notification) (bool, error) {
	for _, n := range targetNotifications {
		if n.ID == listed.NotificationID && n.IsPending() {
			return false, nil
		}
	}

	t.mu.Lock()
	cur, ok := t.records[listed.TargetUserID]
	if !ok || cur.NotificationID != listed.NotificationID {
		t.mu.Unlock()
		return false, nil
	}
	delete(t.records, listed.TargetUserID)
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{"target": listed.TargetUserID, "notification": listed.NotificationID}).
		Info("pending request resolved")
	return true, t.afterClear(ctx, listed.TargetUserID)
}

func (t *Tracker) trackedLocked(targetUserID string) bool {
	if _, ok := t.records[targetUserID]; ok {
		return true
	}
	_, ok := t.reserve[targetUserID]
	return ok
}
