// Package ledger implements the append-only double-entry record of every
// money movement. Posts are balanced, single-currency sets keyed by a
// deterministic pair id so retries cannot double-post.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"fanzcore/core/types"
)

var (
	// ErrUnbalanced reports a set whose debits and credits disagree.
	ErrUnbalanced = errors.New("ledger: debits and credits do not balance")
	// ErrMixedCurrency reports a set spanning more than one currency.
	ErrMixedCurrency = errors.New("ledger: entries span multiple currencies")
	// ErrConflict reports a pair id reused with a different entry set.
	ErrConflict = errors.New("ledger: pair id conflict")
	// ErrEmptySet reports a post with no entries.
	ErrEmptySet = errors.New("ledger: empty entry set")
)

// Entry is the caller-facing input for one side of a posting.
type Entry struct {
	Account        string
	Direction      types.EntryDirection
	Amount         types.Amount
	TransactionRef string
}

// Store persists ledger entries. Implementations must keep append order.
type Store interface {
	// AppendPair atomically appends all entries under pairID. It must fail
	// if the pair already exists.
	AppendPair(ctx context.Context, pairID string, fingerprint string, entries []types.LedgerEntry) error
	// PairFingerprint returns the stored fingerprint for a pair, or false.
	PairFingerprint(ctx context.Context, pairID string) (string, bool, error)
	// Scan iterates entries in append order.
	Scan(ctx context.Context, fn func(types.LedgerEntry) bool) error
}

// Ledger validates and posts balanced entry sets.
type Ledger struct {
	store Store
	now   func() time.Time
}

// Option customises the ledger instance.
type Option func(*Ledger)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.now = clock
		}
	}
}

// New constructs a ledger backed by the provided store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post atomically appends a balanced entry set under pairID. A second call
// with an identical set succeeds without re-appending; a second call with
// a different set fails with ErrConflict.
func (l *Ledger) Post(ctx context.Context, pairID string, entries []Entry) error {
	pairID = strings.TrimSpace(pairID)
	if pairID == "" {
		return fmt.Errorf("ledger: pair id required")
	}
	if len(entries) == 0 {
		return ErrEmptySet
	}
	currency := types.NormalizeCurrency(entries[0].Amount.Currency)
	var debits, credits int64
	for _, entry := range entries {
		if strings.TrimSpace(entry.Account) == "" {
			return fmt.Errorf("ledger: account required")
		}
		if !entry.Amount.Positive() {
			return fmt.Errorf("ledger: entry amount must be positive")
		}
		if types.NormalizeCurrency(entry.Amount.Currency) != currency {
			return ErrMixedCurrency
		}
		switch entry.Direction {
		case types.Debit:
			debits += entry.Amount.Units
		case types.Credit:
			credits += entry.Amount.Units
		default:
			return fmt.Errorf("ledger: unknown direction %q", entry.Direction)
		}
	}
	if debits != credits {
		return ErrUnbalanced
	}

	fingerprint := Fingerprint(entries)
	if stored, ok, err := l.store.PairFingerprint(ctx, pairID); err != nil {
		return err
	} else if ok {
		if stored == fingerprint {
			return nil
		}
		return ErrConflict
	}

	now := l.now().UTC()
	rows := make([]types.LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, types.LedgerEntry{
			EntryID:        uuid.NewString(),
			PairID:         pairID,
			Account:        entry.Account,
			Direction:      entry.Direction,
			Amount:         types.NewAmount(entry.Amount.Units, currency),
			TransactionRef: entry.TransactionRef,
			CreatedAt:      now,
		})
	}
	err := l.store.AppendPair(ctx, pairID, fingerprint, rows)
	if errors.Is(err, errPairExists) {
		// Lost a race; re-check the winner's set.
		stored, ok, lookupErr := l.store.PairFingerprint(ctx, pairID)
		if lookupErr != nil {
			return lookupErr
		}
		if ok && stored == fingerprint {
			return nil
		}
		return ErrConflict
	}
	return err
}

// Balance sums debits minus credits for an account, optionally bounded by
// asOf (inclusive). For liability-style accounts such as creator payables
// the caller negates the result.
func (l *Ledger) Balance(ctx context.Context, account string, asOf *time.Time) (types.Amount, error) {
	var total int64
	currency := ""
	err := l.store.Scan(ctx, func(entry types.LedgerEntry) bool {
		if entry.Account != account {
			return true
		}
		if asOf != nil && entry.CreatedAt.After(*asOf) {
			return true
		}
		if currency == "" {
			currency = types.NormalizeCurrency(entry.Amount.Currency)
		}
		if entry.Direction == types.Debit {
			total += entry.Amount.Units
		} else {
			total -= entry.Amount.Units
		}
		return true
	})
	if err != nil {
		return types.Amount{}, err
	}
	return types.NewAmount(total, currency), nil
}

// CreditBalance is Balance negated, for accounts with a credit-normal
// convention (payables, revenue).
func (l *Ledger) CreditBalance(ctx context.Context, account string, asOf *time.Time) (types.Amount, error) {
	balance, err := l.Balance(ctx, account, asOf)
	if err != nil {
		return types.Amount{}, err
	}
	return balance.Neg(), nil
}

// ReplayFilter bounds a Replay iteration. Zero values match everything.
type ReplayFilter struct {
	Account        string
	TransactionRef string
	PairPrefix     string
	From           time.Time
	To             time.Time
}

func (f ReplayFilter) match(entry types.LedgerEntry) bool {
	if f.Account != "" && entry.Account != f.Account {
		return false
	}
	if f.TransactionRef != "" && entry.TransactionRef != f.TransactionRef {
		return false
	}
	if f.PairPrefix != "" && !strings.HasPrefix(entry.PairID, f.PairPrefix) {
		return false
	}
	if !f.From.IsZero() && entry.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && entry.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// Replay iterates matching entries in append order for audit.
func (l *Ledger) Replay(ctx context.Context, filter ReplayFilter, fn func(types.LedgerEntry) bool) error {
	return l.store.Scan(ctx, func(entry types.LedgerEntry) bool {
		if !filter.match(entry) {
			return true
		}
		return fn(entry)
	})
}

// Fingerprint derives an order-independent digest of an entry set, used to
// distinguish an idempotent replay from a conflicting reuse of a pair id.
func Fingerprint(entries []Entry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("%s|%s|%d|%s|%s",
			entry.Account, entry.Direction, entry.Amount.Units,
			types.NormalizeCurrency(entry.Amount.Currency), entry.TransactionRef))
	}
	sort.Strings(lines)
	sum := blake3.Sum256([]byte(strings.Join(lines, "\n")))
	return fmt.Sprintf("%x", sum[:])
}
