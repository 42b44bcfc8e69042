package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/models"
)

// DecisionRemote submits accept/reject decisions to the remote service.
type DecisionRemote interface {
	InvestDecision(ctx context.Context, req models.DecisionRequest) (*models.DecisionResponse, error)
}

// LedgerWriter is the ledger operation the decision flow needs.
type LedgerWriter interface {
	RecordInvestment(ctx context.Context, subject string, entry domain.LedgerEntry) (bool, error)
}

// DecisionProcessor moves a pending investment request to accepted or rejected.
// The remote service is the source of truth; the ledger is written only after it
// acknowledges an acceptance.
type DecisionProcessor struct {
	remote DecisionRemote
	ledger LedgerWriter
	log    *logrus.Entry
	now    func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewDecisionProcessor(remote DecisionRemote, ledger LedgerWriter, log *logrus.Entry) *DecisionProcessor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DecisionProcessor{
		remote:   remote,
		ledger:   ledger,
		log:      log.WithField("component", "decision"),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// Decide applies decision to n on behalf of actingUser (the seller).
//
// A second call for the same notification while one is outstanding fails with
// domain.ErrDecisionInFlight. A notification already decided elsewhere fails with
// domain.ErrAlreadyResolved and writes nothing.
func (p *DecisionProcessor) Decide(ctx context.Context, actingUser string, n domain.Notification, decision domain.Decision) (out *domain.DecisionOutcome, err error) {
	defer func() { decisionsTotal.WithLabelValues(string(decision), resultLabel(err)).Inc() }()

	if err := validateDecision(actingUser, n, decision); err != nil {
		return nil, err
	}
	if !p.begin(n.ID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrDecisionInFlight, n.ID)
	}
	defer p.end(n.ID)

	accept := decision == domain.DecisionAccept
	resp, err := p.remote.InvestDecision(ctx, models.DecisionRequest{
		SellerUsername: actingUser,
		NotificationID: models.RemoteID(n.ID),
		Accept:         accept,
	})
	if err != nil {
		var re *domain.RemoteError
		if errors.As(err, &re) && re.Status == http.StatusConflict {
			return nil, fmt.Errorf("%w: %w", domain.ErrAlreadyResolved, err)
		}
		return nil, err
	}
	if contradicts(resp.Status, decision) {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyResolved, n.ID, resp.Status)
	}

	out = &domain.DecisionOutcome{NotificationID: n.ID, Decision: decision}
	log := p.log.WithFields(logrus.Fields{"notification": n.ID, "seller": actingUser, "buyer": n.FromUser})
	if !accept {
		log.Info("investment request rejected")
		return out, nil
	}

	if resp.TxID == "" {
		return nil, &domain.RemoteError{Op: "invest_decision", Status: http.StatusOK, Detail: "acceptance carried no transaction id"}
	}
	out.TransactionID = resp.TxID
	out.Warnings = p.recordAcceptance(ctx, actingUser, n, resp.TxID)

	log.WithFields(logrus.Fields{"tx": resp.TxID, "amount": n.Amount.String()}).Info("investment request accepted")
	return out, nil
}

// recordAcceptance performs the dual ledger write. Both entries share txID, so a
// replay is absorbed by the ledger's idempotence. Storage failures are returned
// as warnings; the in-memory ledger already holds the entries.
func (p *DecisionProcessor) recordAcceptance(ctx context.Context, seller string, n domain.Notification, txID string) []string {
	at := p.now().UTC()
	writes := []struct {
		subject string
		entry   domain.LedgerEntry
	}{
		{seller, domain.LedgerEntry{
			Direction:     domain.DirectionReceived,
			Counterparty:  n.FromUser,
			Amount:        n.Amount,
			AssetID:       n.AssetID,
			TransactionID: txID,
			Timestamp:     at,
		}},
		{n.FromUser, domain.LedgerEntry{
			Direction:     domain.DirectionInvested,
			Counterparty:  seller,
			Amount:        n.Amount,
			AssetID:       n.AssetID,
			TransactionID: txID,
			Timestamp:     at,
		}},
	}

	var warnings []string
	for _, w := range writes {
		if _, err := p.ledger.RecordInvestment(ctx, w.subject, w.entry); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{"subject": w.subject, "tx": txID}).Warn("ledger write degraded")
			warnings = append(warnings, fmt.Sprintf("%s ledger: %v", w.subject, err))
		}
	}
	return warnings
}

func (p *DecisionProcessor) begin(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[id]; busy {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *DecisionProcessor) end(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

func validateDecision(actingUser string, n domain.Notification, decision domain.Decision) error {
	switch {
	case actingUser == "":
		return domain.Validationf("acting user is required")
	case !decision.Valid():
		return domain.Validationf("unknown decision %q", decision)
	case n.ID == "":
		return domain.Validationf("notification id is required")
	case n.Kind != domain.KindInvestRequest:
		return domain.Validationf("notification %s is %s, not an investment request", n.ID, n.Kind)
	case n.ToUser != "" && n.ToUser != actingUser:
		return domain.Validationf("notification %s is addressed to %s", n.ID, n.ToUser)
	case n.FromUser == "":
		return domain.Validationf("notification %s has no requester", n.ID)
	case !n.Amount.IsPositive():
		return domain.Validationf("notification %s has a non-positive amount", n.ID)
	case !n.IsPending():
		return fmt.Errorf("%w: %s", domain.ErrAlreadyResolved, n.ID)
	}
	return nil
}

// contradicts reports whether the remote status names a different terminal
// state than the one requested. An empty status is taken as agreement.
func contradicts(status string, decision domain.Decision) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "":
		return false
	case "accepted":
		return decision != domain.DecisionAccept
	case "declined", "rejected":
		return decision != domain.DecisionReject
	default:
		return false
	}
}
