package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationKind is the tagged variant of a notification. Unknown kinds
// reported by the remote service are passed through unchanged.
type NotificationKind string

const (
	KindInvestRequest  NotificationKind = "INVEST_REQUEST"
	KindInvestAccepted NotificationKind = "INVEST_ACCEPTED"
	KindInvestDeclined NotificationKind = "INVEST_DECLINED"
)

type NotificationStatus string

const (
	StatusPending  NotificationStatus = "pending"
	StatusResolved NotificationStatus = "resolved"
)

// Notification is the normalized view of one remote notification record.
// Only Status, Outcome and TransactionID change after creation.
type Notification struct {
	ID            string             `json:"id"`
	Kind          NotificationKind   `json:"kind"`
	Status        NotificationStatus `json:"status"`
	Outcome       string             `json:"outcome,omitempty"` // raw remote status: accepted, declined, ...
	FromUser      string             `json:"from_user"`
	ToUser        string             `json:"to_user"`
	Amount        decimal.Decimal    `json:"amount"`
	AssetID       uint64             `json:"asset_id,omitempty"`
	TransactionID string             `json:"transaction_id,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

func (n Notification) IsPending() bool {
	return n.Status == StatusPending
}

// Direction tags which side of an accepted investment a ledger entry records.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionInvested Direction = "invested"
)

func (d Direction) Valid() bool {
	return d == DirectionReceived || d == DirectionInvested
}

// LedgerEntry is one append-only line of a user's investment ledger.
// Entries are unique per (subject, Direction, TransactionID).
type LedgerEntry struct {
	Direction     Direction       `json:"direction"`
	Counterparty  string          `json:"counterparty"`
	Amount        decimal.Decimal `json:"amount"`
	AssetID       uint64          `json:"asset_id"`
	TransactionID string          `json:"transaction_id"`
	Timestamp     time.Time       `json:"timestamp"`
}

// LedgerSummary is the read model for one subject. Entries are most-recent-first.
type LedgerSummary struct {
	Subject       string          `json:"subject"`
	TotalReceived decimal.Decimal `json:"total_received"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	Entries       []LedgerEntry   `json:"entries"`
}

// PendingInvestmentRecord is the requester's optimistic copy of an outstanding request.
type PendingInvestmentRecord struct {
	TargetUserID   string          `json:"target_user_id"`
	TargetName     string          `json:"target_name"`
	TargetHandle   string          `json:"target_handle"`
	Amount         decimal.Decimal `json:"amount"`
	AssetID        uint64          `json:"asset_id"`
	NotificationID string          `json:"notification_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Profile is the subset of a user profile an investment request targets.
// AssetID is zero for a profile that has not been tokenized.
type Profile struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Handle  string `json:"handle"`
	AssetID uint64 `json:"asset_id,omitempty"`
}

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// DecisionOutcome is returned by a successful decision. Warnings carry
// non-fatal storage degradations from the ledger write.
type DecisionOutcome struct {
	NotificationID string   `json:"notification_id"`
	Decision       Decision `json:"decision"`
	TransactionID  string   `json:"transaction_id,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// RequestOutcome is the result of a submitted investment request. Warnings
// carry non-fatal degradations such as a pending record kept in memory only.
type RequestOutcome struct {
	PendingInvestmentRecord
	Warnings []string `json:"warnings,omitempty"`
}

// PendingCount returns how many notifications still await a decision.
func PendingCount(notifications []Notification) int {
	n := 0
	for _, item := range notifications {
		if item.IsPending() {
			n++
		}
	}
	return n
}
