package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/models"
	"github.com/punchamoorthee/stakeops/internal/pending"
)

type fakeRequestRemote struct {
	mu    sync.Mutex
	calls []models.InvestRequest
	resp  *models.InvestRequestResponse
	err   error
	gate  chan struct{}
}

func (f *fakeRequestRemote) InvestRequest(_ context.Context, req models.InvestRequest) (*models.InvestRequestResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &models.InvestRequestResponse{NotificationID: "17", Status: "pending"}, nil
}

func (f *fakeRequestRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProfiles struct {
	mu      sync.Mutex
	assets  map[string]uint64
	lookups int
}

// TokenizedAsset answers 404 for users it does not know, like the remote account endpoint.
func (f *fakeProfiles) TokenizedAsset(_ context.Context, userID string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	id, ok := f.assets[userID]
	if !ok {
		return 0, false, &domain.RemoteError{Op: "account", Status: 404, Detail: "User not found"}
	}
	return id, id != 0, nil
}

var carol = domain.Profile{UserID: "carol", Name: "Carol", Handle: "@carol", AssetID: 42}

func newRequestFixture(remote *fakeRequestRemote) (*RequestService, *pending.Tracker) {
	tracker := pending.NewTracker("bob", nil, nil, nil)
	return NewRequestService(remote, nil, tracker, DefaultBounds, nil), tracker
}

func TestSubmitRequestTracksPending(t *testing.T) {
	remote := &fakeRequestRemote{}
	svc, tracker := newRequestFixture(remote)

	rec, err := svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(1000))
	require.NoError(t, err)

	assert.Equal(t, "carol", rec.TargetUserID)
	assert.Equal(t, "17", rec.NotificationID)
	assert.Equal(t, uint64(42), rec.AssetID)
	assert.True(t, rec.Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, tracker.IsPending("carol"))

	require.Len(t, remote.calls, 1)
	assert.Equal(t, models.InvestRequest{
		BuyerUsername:  "bob",
		SellerUsername: "carol",
		AssetID:        42,
		Amount:         decimal.NewFromInt(1000),
	}, remote.calls[0])
}

func TestSubmitRequestValidationMakesNoNetworkCall(t *testing.T) {
	cases := map[string]struct {
		buyer  string
		seller domain.Profile
		amount int64
		want   error
	}{
		"below minimum":   {"bob", carol, 50, domain.ErrValidation},
		"above maximum":   {"bob", carol, 100001, domain.ErrValidation},
		"self investment": {"bob", domain.Profile{UserID: "bob", AssetID: 7}, 1000, domain.ErrSelfInvestment},
		"untokenized":     {"bob", domain.Profile{UserID: "dave"}, 1000, domain.ErrUntokenizedTarget},
		"not the owner":   {"eve", carol, 1000, domain.ErrValidation},
		"missing seller":  {"bob", domain.Profile{}, 1000, domain.ErrValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			remote := &fakeRequestRemote{}
			svc, tracker := newRequestFixture(remote)

			_, err := svc.SubmitRequest(context.Background(), tc.buyer, tc.seller, decimal.NewFromInt(tc.amount))
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Zero(t, remote.callCount())
			assert.Empty(t, tracker.List())
		})
	}
}

func TestSubmitRequestBoundsAreInclusive(t *testing.T) {
	for _, amount := range []int64{100, 100000} {
		svc, _ := newRequestFixture(&fakeRequestRemote{})
		_, err := svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(amount))
		assert.NoError(t, err, amount)
	}
}

func TestSubmitRequestRejectsSecondWhilePending(t *testing.T) {
	remote := &fakeRequestRemote{}
	svc, _ := newRequestFixture(remote)

	_, err := svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(1000))
	require.NoError(t, err)

	_, err = svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(2000))
	assert.ErrorIs(t, err, domain.ErrAlreadyPending)
	assert.Equal(t, 1, remote.callCount())
}

func TestSubmitRequestGuardsConcurrentSubmission(t *testing.T) {
	remote := &fakeRequestRemote{gate: make(chan struct{})}
	svc, _ := newRequestFixture(remote)

	first := make(chan error, 1)
	go func() {
		_, err := svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(1000))
		first <- err
	}()
	require.Eventually(t, func() bool { return remote.callCount() == 1 }, time.Second, time.Millisecond)

	_, err := svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, domain.ErrAlreadyPending)

	close(remote.gate)
	require.NoError(t, <-first)
	assert.Equal(t, 1, remote.callCount())
}

func TestSubmitRequestRemoteFailureReleasesTarget(t *testing.T) {
	remote := &fakeRequestRemote{err: &domain.RemoteError{Op: "invest_request", Status: 400, Detail: "Buyer has no wallet"}}
	svc, tracker := newRequestFixture(remote)

	_, err := svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(1000))
	require.ErrorIs(t, err, domain.ErrRemoteService)
	assert.Equal(t, "Buyer has no wallet", domain.RemoteDetail(err))
	assert.False(t, tracker.IsPending("carol"))

	remote.err = nil
	_, err = svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(1000))
	assert.NoError(t, err)
}

func TestSubmitRequestMissingNotificationID(t *testing.T) {
	remote := &fakeRequestRemote{resp: &models.InvestRequestResponse{Status: "pending"}}
	svc, tracker := newRequestFixture(remote)

	_, err := svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, domain.ErrRemoteService)
	assert.False(t, tracker.IsPending("carol"))
}

func TestSubmitRequestUsesProfileDirectory(t *testing.T) {
	remote := &fakeRequestRemote{}
	tracker := pending.NewTracker("bob", nil, nil, nil)
	profiles := &fakeProfiles{assets: map[string]uint64{"carol": 99, "dave": 0}}
	svc := NewRequestService(remote, profiles, tracker, DefaultBounds, nil)

	// a profile that carries its asset is not looked up again
	out, err := svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), out.AssetID)
	assert.Zero(t, profiles.lookups)
	require.NoError(t, tracker.Clear(context.Background(), "carol"))

	out, err = svc.SubmitRequest(context.Background(), "bob", domain.Profile{UserID: "carol"}, decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.Equal(t, uint64(99), out.AssetID)
	assert.Equal(t, 1, profiles.lookups)

	_, err = svc.SubmitRequest(context.Background(), "bob", domain.Profile{UserID: "dave"}, decimal.NewFromInt(500))
	assert.ErrorIs(t, err, domain.ErrUntokenizedTarget)
	assert.False(t, tracker.IsPending("dave"))
	assert.Equal(t, 2, remote.callCount())
}

func TestSubmitRequestUnknownSellerIsUntokenized(t *testing.T) {
	remote := &fakeRequestRemote{}
	tracker := pending.NewTracker("bob", nil, nil, nil)
	svc := NewRequestService(remote, &fakeProfiles{}, tracker, DefaultBounds, nil)

	_, err := svc.SubmitRequest(context.Background(), "bob", domain.Profile{UserID: "ghost"}, decimal.NewFromInt(500))
	assert.ErrorIs(t, err, domain.ErrUntokenizedTarget)
	assert.Equal(t, "UntokenizedTarget", domain.Kind(err))
	assert.False(t, tracker.IsPending("ghost"))
	assert.Zero(t, remote.callCount())
}

type failingPendingBackend struct{}

func (failingPendingBackend) SavePending(context.Context, string, domain.PendingInvestmentRecord) error {
	return errors.New("connection refused")
}
func (failingPendingBackend) DeletePending(context.Context, string, string) error { return nil }
func (failingPendingBackend) DeleteAllPending(context.Context, string) error      { return nil }
func (failingPendingBackend) LoadPending(context.Context, string) ([]domain.PendingInvestmentRecord, error) {
	return nil, nil
}

func TestSubmitRequestToleratesPendingStorageFailure(t *testing.T) {
	tracker := pending.NewTracker("bob", failingPendingBackend{}, nil, nil)
	svc := NewRequestService(&fakeRequestRemote{}, nil, tracker, DefaultBounds, nil)

	out, err := svc.SubmitRequest(context.Background(), "bob", carol, decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, tracker.IsPending("carol"))
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "storage unavailable")
}
