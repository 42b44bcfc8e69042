package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/events"
)

// Backend persists ledger entries. AppendEntry must be a no-op (inserted=false)
// for an entry whose (subject, direction, transaction id) already exists.
type Backend interface {
	AppendEntry(ctx context.Context, subject string, entry domain.LedgerEntry) (inserted bool, err error)
	LoadEntries(ctx context.Context, subject string) ([]domain.LedgerEntry, error)
}

type entryKey struct {
	direction domain.Direction
	txID      string
}

type book struct {
	entries       []domain.LedgerEntry
	seen          map[entryKey]struct{}
	totalReceived decimal.Decimal
	totalInvested decimal.Decimal
	hydrated      bool
}

func newBook() *book {
	return &book{seen: make(map[entryKey]struct{})}
}

// add applies entry if its key is new. Totals only ever grow by new entries.
func (b *book) add(entry domain.LedgerEntry) bool {
	k := entryKey{entry.Direction, entry.TransactionID}
	if _, dup := b.seen[k]; dup {
		return false
	}
	b.seen[k] = struct{}{}
	b.entries = append(b.entries, entry)
	switch entry.Direction {
	case domain.DirectionReceived:
		b.totalReceived = b.totalReceived.Add(entry.Amount)
	case domain.DirectionInvested:
		b.totalInvested = b.totalInvested.Add(entry.Amount)
	}
	return true
}

// Store is the per-session keyed ledger (subject -> book). The in-memory copy is
// authoritative for the session; the backend, when set, is written through.
type Store struct {
	mu      sync.Mutex
	books   map[string]*book
	backend Backend
	bus     *events.Bus
	log     *logrus.Entry
	now     func() time.Time
}

// NewStore returns a Store. backend and bus may be nil.
func NewStore(backend Backend, bus *events.Bus, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		books:   make(map[string]*book),
		backend: backend,
		bus:     bus,
		log:     log.WithField("component", "ledger"),
		now:     time.Now,
	}
}

// RecordInvestment appends entry under subject. Recording an entry whose
// transaction id and direction are already present is a no-op and returns false.
//
// A backend failure does not undo the in-memory write: the entry is kept for the
// session and the returned error wraps domain.ErrStorageUnavailable.
func (s *Store) RecordInvestment(ctx context.Context, subject string, entry domain.LedgerEntry) (bool, error) {
	if err := validateEntry(subject, entry); err != nil {
		return false, err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}

	s.mu.Lock()
	b := s.bookLocked(ctx, subject)
	if !b.add(entry) {
		s.mu.Unlock()
		s.log.WithFields(logrus.Fields{"subject": subject, "tx": entry.TransactionID, "direction": entry.Direction}).
			Debug("duplicate ledger entry ignored")
		return false, nil
	}

	var storeErr error
	if s.backend != nil {
		if _, err := s.backend.AppendEntry(ctx, subject, entry); err != nil {
			storeErr = fmt.Errorf("%w: append entry for %s: %w", domain.ErrStorageUnavailable, subject, err)
		}
	}
	s.mu.Unlock()

	if storeErr != nil {
		s.log.WithError(storeErr).WithField("subject", subject).Warn("ledger entry kept in memory only")
	}
	s.bus.Publish(events.LedgerChanged, subject)
	return true, storeErr
}

// Summary returns totals and entries (most recent first) for subject.
// An unknown subject yields zero totals and no entries.
func (s *Store) Summary(ctx context.Context, subject string) domain.LedgerSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bookLocked(ctx, subject)
	entries := make([]domain.LedgerEntry, len(b.entries))
	copy(entries, b.entries)
	// Appended order is oldest first; reverse before the stable sort so ties keep newest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	return domain.LedgerSummary{
		Subject:       subject,
		TotalReceived: b.totalReceived,
		TotalInvested: b.totalInvested,
		Entries:       entries,
	}
}

// bookLocked returns subject's book, hydrating it from the backend on first use.
// A failed hydration leaves the book memory-only and is retried on the next access.
func (s *Store) bookLocked(ctx context.Context, subject string) *book {
	b, ok := s.books[subject]
	if !ok {
		b = newBook()
		s.books[subject] = b
	}
	if b.hydrated || s.backend == nil {
		b.hydrated = true
		return b
	}

	stored, err := s.backend.LoadEntries(ctx, subject)
	if err != nil {
		s.log.WithError(err).WithField("subject", subject).Warn("ledger storage unavailable, using in-memory state")
		return b
	}
	sort.SliceStable(stored, func(i, j int) bool {
		return stored[i].Timestamp.Before(stored[j].Timestamp)
	})
	for _, e := range stored {
		b.add(e)
	}
	b.hydrated = true
	return b
}

func validateEntry(subject string, e domain.LedgerEntry) error {
	switch {
	case subject == "":
		return domain.Validationf("ledger subject is required")
	case !e.Direction.Valid():
		return domain.Validationf("unknown ledger direction %q", e.Direction)
	case e.TransactionID == "":
		return domain.Validationf("ledger entry requires a transaction id")
	case e.Counterparty == "":
		return domain.Validationf("ledger entry requires a counterparty")
	case !e.Amount.IsPositive():
		return domain.Validationf("ledger amount must be positive")
	}
	return nil
}
