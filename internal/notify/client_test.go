package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/models"
)

// fakeSource serves scripted responses. When gate is set, each call blocks until
// a value is sent on it.
type fakeSource struct {
	mu      sync.Mutex
	lists   [][]models.NotificationDTO
	errs    []error
	calls   int
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeSource) Notifications(ctx context.Context, userID string) ([]models.NotificationDTO, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if len(f.lists) == 0 {
		return nil, nil
	}
	if i >= len(f.lists) {
		i = len(f.lists) - 1
	}
	return f.lists[i], nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }

func dto(id string, typ, status string, created string) models.NotificationDTO {
	return models.NotificationDTO{
		ID:           models.RemoteID(id),
		Type:         typ,
		FromUsername: "bob",
		AssetID:      u64(42),
		Amount:       decimal.NewFromInt(1000),
		Status:       status,
		CreatedAt:    created,
	}
}

func TestFetchNormalizes(t *testing.T) {
	accepted := dto("3", "INVEST_ACCEPTED", "accepted", "2025-03-01T12:00:00Z")
	accepted.TxID = str("TX3")
	src := &fakeSource{lists: [][]models.NotificationDTO{{
		dto("1", "INVEST_REQUEST", "pending", "2025-03-01T10:00:00.5"),
		dto("2", "INVEST_DECLINED", "declined", "2025-03-01T11:00:00"),
		accepted,
	}}}
	c := NewClient(src, nil)

	got, err := c.Fetch(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"3", "2", "1"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, domain.StatusResolved, got[0].Status)
	assert.Equal(t, "accepted", got[0].Outcome)
	assert.Equal(t, "TX3", got[0].TransactionID)
	assert.Equal(t, domain.StatusResolved, got[1].Status)
	assert.Equal(t, "declined", got[1].Outcome)
	assert.Equal(t, domain.StatusPending, got[2].Status)
	assert.Equal(t, "alice", got[2].ToUser, "toUser defaults to the polled user")
	assert.Equal(t, domain.KindInvestRequest, got[2].Kind)
	assert.Equal(t, 1, domain.PendingCount(got))
}

func TestFetchDropsInvalidAndDeduplicates(t *testing.T) {
	noAsset := dto("4", "INVEST_REQUEST", "pending", "2025-03-01T10:00:00Z")
	noAsset.AssetID = nil
	zero := dto("5", "INVEST_REQUEST", "pending", "2025-03-01T10:00:00Z")
	zero.Amount = decimal.Zero
	stale := dto("6", "INVEST_REQUEST", "pending", "2025-03-01T10:00:00Z")
	fresh := dto("6", "INVEST_ACCEPTED", "accepted", "2025-03-01T10:00:00Z")
	custom := dto("7", "PROFILE_VIEWED", "pending", "2025-03-01T09:00:00Z")

	src := &fakeSource{lists: [][]models.NotificationDTO{{noAsset, zero, stale, fresh, custom}}}
	got, err := NewClient(src, nil).Fetch(context.Background(), "alice")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "6", got[0].ID)
	assert.Equal(t, domain.KindInvestAccepted, got[0].Kind)
	assert.Equal(t, domain.NotificationKind("PROFILE_VIEWED"), got[1].Kind)
}

func TestFetchPropagatesSourceError(t *testing.T) {
	boom := &domain.RemoteError{Op: "notifications", Status: 500}
	src := &fakeSource{errs: []error{boom}}
	_, err := NewClient(src, nil).Fetch(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrRemoteService)
}

func TestSubscribeDeliversEveryPollIncludingUnchanged(t *testing.T) {
	list := []models.NotificationDTO{dto("1", "INVEST_REQUEST", "pending", "2025-03-01T10:00:00Z")}
	src := &fakeSource{lists: [][]models.NotificationDTO{list}}
	c := NewClient(src, nil)

	var updates atomic.Int32
	sub := c.Subscribe(context.Background(), "alice", 5*time.Millisecond, func(got []domain.Notification) {
		assert.Len(t, got, 1)
		updates.Add(1)
	}, nil)
	defer sub.Cancel()

	assert.Eventually(t, func() bool { return updates.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestSubscribeSurvivesFailuresAndCountsThem(t *testing.T) {
	fail := errors.New("connection reset")
	src := &fakeSource{
		errs:  []error{fail, fail, nil},
		lists: [][]models.NotificationDTO{nil, nil, {dto("1", "INVEST_REQUEST", "pending", "")}},
	}
	c := NewClient(src, nil)

	var mu sync.Mutex
	var counts []int
	var updated atomic.Bool
	sub := c.Subscribe(context.Background(), "alice", 5*time.Millisecond,
		func([]domain.Notification) { updated.Store(true) },
		func(err error, n int) {
			mu.Lock()
			counts = append(counts, n)
			mu.Unlock()
		})
	defer sub.Cancel()

	require.Eventually(t, updated.Load, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{1, 2}, counts)
	mu.Unlock()
	assert.Equal(t, 0, sub.ConsecutiveFailures())
}

func TestCancelledSubscriptionDiscardsLateResult(t *testing.T) {
	src := &fakeSource{
		lists:   [][]models.NotificationDTO{{dto("1", "INVEST_REQUEST", "pending", "")}},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := NewClient(src, nil)

	var updates atomic.Int32
	sub := c.Subscribe(context.Background(), "alice", time.Hour, func([]domain.Notification) {
		updates.Add(1)
	}, func(error, int) {
		updates.Add(1)
	})

	<-src.started // first fetch is in flight
	sub.Cancel()
	src.gate <- struct{}{} // let it complete

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription loop did not exit")
	}
	assert.Equal(t, int32(0), updates.Load())
	assert.Equal(t, 1, src.callCount())
}

func TestCancelFromInsideCallback(t *testing.T) {
	src := &fakeSource{lists: [][]models.NotificationDTO{{dto("1", "INVEST_REQUEST", "pending", "")}}}
	c := NewClient(src, nil)

	var updates atomic.Int32
	var sub *Subscription
	ready := make(chan struct{})
	sub = c.Subscribe(context.Background(), "alice", time.Millisecond, func([]domain.Notification) {
		<-ready
		updates.Add(1)
		sub.Cancel()
	}, nil)
	close(ready)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription loop did not exit")
	}
	assert.Equal(t, int32(1), updates.Load())
}

func TestContextCancellationStopsSubscription(t *testing.T) {
	src := &fakeSource{lists: [][]models.NotificationDTO{nil}}
	ctx, cancel := context.WithCancel(context.Background())
	sub := NewClient(src, nil).Subscribe(ctx, "alice", time.Hour, nil, nil)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription loop did not exit")
	}
}
