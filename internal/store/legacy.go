package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/stakeops/internal/domain"
)

// SubjectEntry is a ledger entry tagged with the subject it belongs to.
type SubjectEntry struct {
	Subject string
	Entry   domain.LedgerEntry
}

// OwnedPending is a pending record tagged with its owner.
type OwnedPending struct {
	Owner  string
	Record domain.PendingInvestmentRecord
}

// LegacyExport is the browser-storage dump of the previous client, keyed by
// storage key. Values may be raw JSON or JSON encoded as a string.
type LegacyExport struct {
	Entries []SubjectEntry
	Pending []OwnedPending
	// Skipped counts records that could not be imported (no transaction id, bad amount, ...).
	Skipped int
}

type legacyInvestment struct {
	Type      string          `json:"type"`
	OtherUser string          `json:"otherUser"`
	Amount    decimal.Decimal `json:"amount"`
	AssetID   uint64          `json:"assetId"`
	TxID      string          `json:"txid"`
	Timestamp string          `json:"timestamp"`
}

type legacyPending struct {
	PersonID       json.RawMessage `json:"personId"`
	PersonName     string          `json:"personName"`
	PersonHandle   string          `json:"personHandle"`
	Amount         decimal.Decimal `json:"amount"`
	AssetID        uint64          `json:"assetId"`
	Timestamp      string          `json:"timestamp"`
	NotificationID json.RawMessage `json:"notificationId"`
}

const (
	investmentsPrefix = "investments_"
	pendingPrefix     = "pending_investments_"
)

// ParseLegacyExport reads investments_<user> and pending_investments_<user> keys.
// Running totals (received_<user>, invested_<user>) are ignored; they are derived
// from the entries.
func ParseLegacyExport(r io.Reader) (*LegacyExport, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode legacy export: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &LegacyExport{}
	for _, key := range keys {
		value := unquote(raw[key])
		switch {
		case strings.HasPrefix(key, pendingPrefix):
			owner := strings.TrimPrefix(key, pendingPrefix)
			var items []legacyPending
			if err := json.Unmarshal(value, &items); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			for _, it := range items {
				rec, ok := it.record()
				if owner == "" || !ok {
					out.Skipped++
					continue
				}
				out.Pending = append(out.Pending, OwnedPending{Owner: owner, Record: rec})
			}
		case strings.HasPrefix(key, investmentsPrefix):
			subject := strings.TrimPrefix(key, investmentsPrefix)
			var items []legacyInvestment
			if err := json.Unmarshal(value, &items); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			for _, it := range items {
				entry, ok := it.entry()
				if subject == "" || !ok {
					out.Skipped++
					continue
				}
				out.Entries = append(out.Entries, SubjectEntry{Subject: subject, Entry: entry})
			}
		}
	}
	return out, nil
}

// unquote unwraps a value that was stored as a JSON string holding JSON.
func unquote(v json.RawMessage) json.RawMessage {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return json.RawMessage(s)
	}
	return v
}

func (it legacyInvestment) entry() (domain.LedgerEntry, bool) {
	e := domain.LedgerEntry{
		Direction:     domain.Direction(it.Type),
		Counterparty:  it.OtherUser,
		Amount:        it.Amount,
		AssetID:       it.AssetID,
		TransactionID: it.TxID,
		Timestamp:     legacyTime(it.Timestamp),
	}
	ok := e.Direction.Valid() && e.Counterparty != "" && e.TransactionID != "" && e.Amount.IsPositive()
	return e, ok
}

func (it legacyPending) record() (domain.PendingInvestmentRecord, bool) {
	rec := domain.PendingInvestmentRecord{
		TargetUserID:   rawString(it.PersonID),
		TargetName:     it.PersonName,
		TargetHandle:   it.PersonHandle,
		Amount:         it.Amount,
		AssetID:        it.AssetID,
		NotificationID: rawString(it.NotificationID),
		CreatedAt:      legacyTime(it.Timestamp),
	}
	ok := rec.TargetUserID != "" && rec.NotificationID != "" && rec.Amount.IsPositive()
	return rec, ok
}

// rawString renders a JSON string or number as text; null and absent become "".
func rawString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func legacyTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// ImportEntries bulk-loads entries through a staging table. Rows already present
// (same subject, direction and transaction id) are skipped. It returns the number
// of rows inserted.
func (s *Store) ImportEntries(ctx context.Context, entries []SubjectEntry) (int64, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE ledger_import (
			subject TEXT, direction TEXT, counterparty TEXT, amount TEXT,
			asset_id BIGINT, transaction_id TEXT, created_at TIMESTAMPTZ
		) ON COMMIT DROP`); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}

	rows := make([][]interface{}, 0, len(entries))
	for _, se := range entries {
		e := se.Entry
		rows = append(rows, []interface{}{
			se.Subject, string(e.Direction), e.Counterparty, e.Amount.String(),
			int64(e.AssetID), e.TransactionID, e.Timestamp,
		})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ledger_import"},
		[]string{"subject", "direction", "counterparty", "amount", "asset_id", "transaction_id", "created_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return 0, fmt.Errorf("bulk copy failed: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (subject, direction, counterparty, amount, asset_id, transaction_id, created_at)
		SELECT subject, direction, counterparty, amount::numeric, asset_id, transaction_id, created_at
		FROM ledger_import
		ON CONFLICT (subject, direction, transaction_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("merge staged entries: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return tag.RowsAffected(), nil
}
