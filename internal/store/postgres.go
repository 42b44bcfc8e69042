package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/stakeops/internal/domain"
)

// Schema is applied by RunMigrations and by the seeder.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id             BIGSERIAL PRIMARY KEY,
    subject        TEXT        NOT NULL,
    direction      TEXT        NOT NULL CHECK (direction IN ('received', 'invested')),
    counterparty   TEXT        NOT NULL,
    amount         NUMERIC     NOT NULL CHECK (amount > 0),
    asset_id       BIGINT      NOT NULL DEFAULT 0,
    transaction_id TEXT        NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    UNIQUE (subject, direction, transaction_id)
);

CREATE INDEX IF NOT EXISTS ledger_entries_subject_idx ON ledger_entries (subject, created_at DESC);

CREATE TABLE IF NOT EXISTS pending_investments (
    owner           TEXT        NOT NULL,
    target_user_id  TEXT        NOT NULL,
    target_name     TEXT        NOT NULL DEFAULT '',
    target_handle   TEXT        NOT NULL DEFAULT '',
    amount          NUMERIC     NOT NULL,
    asset_id        BIGINT      NOT NULL DEFAULT 0,
    notification_id TEXT        NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (owner, target_user_id)
);
`

// Store persists ledgers and pending sets in Postgres. It implements both
// ledger.Backend and pending.Backend.
type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

// RunMigrations creates the tables if they do not exist yet.
func (s *Store) RunMigrations(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// AppendEntry inserts entry for subject. An entry with the same subject,
// direction and transaction id is left alone and reported as not inserted.
func (s *Store) AppendEntry(ctx context.Context, subject string, entry domain.LedgerEntry) (bool, error) {
	tag, err := s.Db.Exec(ctx, `
		INSERT INTO ledger_entries (subject, direction, counterparty, amount, asset_id, transaction_id, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (subject, direction, transaction_id) DO NOTHING`,
		subject, string(entry.Direction), entry.Counterparty, entry.Amount.String(),
		int64(entry.AssetID), entry.TransactionID, entry.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LoadEntries returns subject's entries, oldest first.
func (s *Store) LoadEntries(ctx context.Context, subject string) ([]domain.LedgerEntry, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT direction, counterparty, amount::text, asset_id, transaction_id, created_at
		FROM ledger_entries WHERE subject = $1 ORDER BY created_at ASC, id ASC`,
		subject)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LedgerEntry, error) {
		var (
			e         domain.LedgerEntry
			direction string
			amount    string
			assetID   int64
		)
		if err := row.Scan(&direction, &e.Counterparty, &amount, &assetID, &e.TransactionID, &e.Timestamp); err != nil {
			return e, err
		}
		e.Direction = domain.Direction(direction)
		e.AssetID = uint64(assetID)
		e.Timestamp = e.Timestamp.UTC()
		amt, err := decimal.NewFromString(amount)
		e.Amount = amt
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan ledger entries: %w", err)
	}
	return entries, nil
}

// SavePending upserts owner's record for rec.TargetUserID.
func (s *Store) SavePending(ctx context.Context, owner string, rec domain.PendingInvestmentRecord) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO pending_investments (owner, target_user_id, target_name, target_handle, amount, asset_id, notification_id, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
		ON CONFLICT (owner, target_user_id) DO UPDATE SET
			target_name = EXCLUDED.target_name,
			target_handle = EXCLUDED.target_handle,
			amount = EXCLUDED.amount,
			asset_id = EXCLUDED.asset_id,
			notification_id = EXCLUDED.notification_id,
			created_at = EXCLUDED.created_at`,
		owner, rec.TargetUserID, rec.TargetName, rec.TargetHandle, rec.Amount.String(),
		int64(rec.AssetID), rec.NotificationID, createdAt(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert pending investment: %w", err)
	}
	return nil
}

func (s *Store) DeletePending(ctx context.Context, owner, targetUserID string) error {
	if _, err := s.Db.Exec(ctx, "DELETE FROM pending_investments WHERE owner = $1 AND target_user_id = $2", owner, targetUserID); err != nil {
		return fmt.Errorf("delete pending investment: %w", err)
	}
	return nil
}

func (s *Store) DeleteAllPending(ctx context.Context, owner string) error {
	if _, err := s.Db.Exec(ctx, "DELETE FROM pending_investments WHERE owner = $1", owner); err != nil {
		return fmt.Errorf("delete pending investments: %w", err)
	}
	return nil
}

// LoadPending returns owner's records, oldest first.
func (s *Store) LoadPending(ctx context.Context, owner string) ([]domain.PendingInvestmentRecord, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT target_user_id, target_name, target_handle, amount::text, asset_id, notification_id, created_at
		FROM pending_investments WHERE owner = $1 ORDER BY created_at ASC`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("query pending investments: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PendingInvestmentRecord, error) {
		var (
			r       domain.PendingInvestmentRecord
			amount  string
			assetID int64
		)
		if err := row.Scan(&r.TargetUserID, &r.TargetName, &r.TargetHandle, &amount, &assetID, &r.NotificationID, &r.CreatedAt); err != nil {
			return r, err
		}
		r.AssetID = uint64(assetID)
		r.CreatedAt = r.CreatedAt.UTC()
		amt, err := decimal.NewFromString(amount)
		r.Amount = amt
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending investments: %w", err)
	}
	return recs, nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
