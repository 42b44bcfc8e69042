package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/models"
)

// RequestRemote files investment requests with the remote service.
type RequestRemote interface {
	InvestRequest(ctx context.Context, req models.InvestRequest) (*models.InvestRequestResponse, error)
}

// ProfileDirectory answers whether a user has a tokenized profile.
type ProfileDirectory interface {
	TokenizedAsset(ctx context.Context, userID string) (assetID uint64, ok bool, err error)
}

// PendingSet is the part of the pending tracker the request flow writes.
type PendingSet interface {
	Owner() string
	Reserve(targetUserID string) error
	Release(targetUserID string)
	MarkPending(ctx context.Context, rec domain.PendingInvestmentRecord) error
}

// Bounds is the inclusive range of an acceptable investment amount.
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// DefaultBounds are the amounts the product accepts, in currency units.
var DefaultBounds = Bounds{Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(100000)}

func (b Bounds) Check(amount decimal.Decimal) error {
	if amount.LessThan(b.Min) || amount.GreaterThan(b.Max) {
		return domain.Validationf("amount %s outside allowed range [%s, %s]", amount, b.Min, b.Max)
	}
	return nil
}

// RequestService submits investment requests and registers them as pending.
type RequestService struct {
	remote   RequestRemote
	profiles ProfileDirectory
	pending  PendingSet
	bounds   Bounds
	log      *logrus.Entry
	now      func() time.Time
}

// NewRequestService wires the request flow. profiles may be nil, in which case
// the seller profile passed by the caller is trusted for tokenization status.
func NewRequestService(remote RequestRemote, profiles ProfileDirectory, pending PendingSet, bounds Bounds, log *logrus.Entry) *RequestService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RequestService{
		remote:   remote,
		profiles: profiles,
		pending:  pending,
		bounds:   bounds,
		log:      log.WithField("component", "invest_request"),
		now:      time.Now,
	}
}

// SubmitRequest asks seller to accept amount from buyer against seller's profile asset.
// Validation failures are returned before any network call. On success the request is
// tracked as pending; the ledger is untouched until the seller decides. A pending record
// that could not be persisted is reported in the outcome's warnings.
func (s *RequestService) SubmitRequest(ctx context.Context, buyer string, seller domain.Profile, amount decimal.Decimal) (out *domain.RequestOutcome, err error) {
	defer func() { investRequestsTotal.WithLabelValues(resultLabel(err)).Inc() }()

	if err := s.validate(buyer, seller, amount); err != nil {
		return nil, err
	}
	if err := s.pending.Reserve(seller.UserID); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			s.pending.Release(seller.UserID)
		}
	}()

	assetID, err := s.assetOf(ctx, seller)
	if err != nil {
		return nil, err
	}

	resp, err := s.remote.InvestRequest(ctx, models.InvestRequest{
		BuyerUsername:  buyer,
		SellerUsername: seller.UserID,
		AssetID:        assetID,
		Amount:         amount,
	})
	if err != nil {
		return nil, err
	}
	if resp.NotificationID == "" {
		return nil, &domain.RemoteError{Op: "invest_request", Status: 200, Detail: "response carried no notification id"}
	}

	rec := domain.PendingInvestmentRecord{
		TargetUserID:   seller.UserID,
		TargetName:     seller.Name,
		TargetHandle:   seller.Handle,
		Amount:         amount,
		AssetID:        assetID,
		NotificationID: string(resp.NotificationID),
		CreatedAt:      s.now().UTC(),
	}
	out = &domain.RequestOutcome{PendingInvestmentRecord: rec}
	if err := s.pending.MarkPending(ctx, rec); err != nil {
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			return nil, err
		}
		out.Warnings = append(out.Warnings, err.Error())
	}
	committed = true

	s.log.WithFields(logrus.Fields{
		"buyer":        buyer,
		"seller":       seller.UserID,
		"asset_id":     assetID,
		"amount":       amount.String(),
		"notification": rec.NotificationID,
	}).Info("investment request submitted")
	return out, nil
}

// assetOf returns the asset a request to seller is filed against. A profile that
// already carries its asset is trusted; otherwise the directory decides. A seller
// the directory does not know cannot receive requests.
func (s *RequestService) assetOf(ctx context.Context, seller domain.Profile) (uint64, error) {
	if seller.AssetID != 0 || s.profiles == nil {
		return seller.AssetID, nil
	}
	id, ok, err := s.profiles.TokenizedAsset(ctx, seller.UserID)
	if err != nil {
		var re *domain.RemoteError
		if errors.As(err, &re) && re.Status == http.StatusNotFound {
			return 0, fmt.Errorf("%w: unknown seller %s", domain.ErrUntokenizedTarget, seller.UserID)
		}
		return 0, fmt.Errorf("tokenization lookup for %s: %w", seller.UserID, err)
	}
	if !ok {
		return 0, domain.ErrUntokenizedTarget
	}
	return id, nil
}

func (s *RequestService) validate(buyer string, seller domain.Profile, amount decimal.Decimal) error {
	switch {
	case buyer == "":
		return domain.Validationf("buyer is required")
	case seller.UserID == "":
		return domain.Validationf("seller is required")
	case buyer != s.pending.Owner():
		return domain.Validationf("buyer %s is not the session user", buyer)
	case buyer == seller.UserID:
		return domain.ErrSelfInvestment
	}
	if err := s.bounds.Check(amount); err != nil {
		return err
	}
	// With a directory the lookup decides; without one the caller's profile must carry the asset.
	if seller.AssetID == 0 && s.profiles == nil {
		return domain.ErrUntokenizedTarget
	}
	return nil
}
