package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/domain"
)

// NotificationFetcher returns a user's normalized notification list.
type NotificationFetcher interface {
	Fetch(ctx context.Context, userID string) ([]domain.Notification, error)
}

// PendingReconciler is the part of the pending tracker that reconciliation uses.
type PendingReconciler interface {
	List() []domain.PendingInvestmentRecord
	Reconcile(ctx context.Context, listed domain.PendingInvestmentRecord, targetNotifications []domain.Notification) (bool, error)
}

// Reconciler clears pending records whose request has been resolved remotely.
// The requester never sees its own request in its own notification list, so each
// tracked target's list is consulted instead.
type Reconciler struct {
	fetcher NotificationFetcher
	pending PendingReconciler
	log     *logrus.Entry
}

func NewReconciler(fetcher NotificationFetcher, pending PendingReconciler, log *logrus.Entry) *Reconciler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconciler{fetcher: fetcher, pending: pending, log: log.WithField("component", "reconcile")}
}

// Sync checks every tracked target once and returns how many records were cleared.
// A target whose list cannot be fetched stays pending; all failures are joined.
func (r *Reconciler) Sync(ctx context.Context) (int, error) {
	var (
		cleared int
		errs    []error
	)
	for _, rec := range r.pending.List() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		list, err := r.fetcher.Fetch(ctx, rec.TargetUserID)
		if err != nil {
			r.log.WithError(err).WithField("target", rec.TargetUserID).Debug("reconcile fetch failed")
			errs = append(errs, fmt.Errorf("reconcile %s: %w", rec.TargetUserID, err))
			continue
		}
		done, err := r.pending.Reconcile(ctx, rec, list)
		if done {
			cleared++
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", rec.TargetUserID, err))
		}
	}
	return cleared, errors.Join(errs...)
}
