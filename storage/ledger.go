package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"fanzcore/core/types"
)

// LedgerStore is the gorm-backed ledger.Store. The pair row and its
// entries land in one database transaction so a crash cannot leave a
// half-posted set, and the pair primary key makes the append fail if the
// pair already exists.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore wraps an open database.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// AppendPair implements ledger.Store.
func (s *LedgerStore) AppendPair(ctx context.Context, pairID, fingerprint string, entries []types.LedgerEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pair := LedgerPairModel{PairID: pairID, Fingerprint: fingerprint}
		if len(entries) > 0 {
			pair.CreatedAt = entries[0].CreatedAt
		}
		if err := tx.Create(&pair).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("storage: ledger pair %s already posted", pairID)
			}
			return err
		}
		for _, entry := range entries {
			model := LedgerEntryModel{
				EntryID:        entry.EntryID,
				PairID:         entry.PairID,
				Account:        entry.Account,
				Direction:      string(entry.Direction),
				AmountUnits:    entry.Amount.Units,
				Currency:       types.NormalizeCurrency(entry.Amount.Currency),
				TransactionRef: entry.TransactionRef,
				CreatedAt:      entry.CreatedAt,
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// PairFingerprint implements ledger.Store.
func (s *LedgerStore) PairFingerprint(ctx context.Context, pairID string) (string, bool, error) {
	var pair LedgerPairModel
	err := s.db.WithContext(ctx).First(&pair, "pair_id = ?", pairID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return pair.Fingerprint, true, nil
}

// Scan implements ledger.Store, iterating entries in append order.
func (s *LedgerStore) Scan(ctx context.Context, fn func(types.LedgerEntry) bool) error {
	rows, err := s.db.WithContext(ctx).
		Model(&LedgerEntryModel{}).
		Order("seq asc").
		Rows()
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var model LedgerEntryModel
		if err := s.db.ScanRows(rows, &model); err != nil {
			return err
		}
		entry := types.LedgerEntry{
			EntryID:        model.EntryID,
			PairID:         model.PairID,
			Account:        model.Account,
			Direction:      types.EntryDirection(model.Direction),
			Amount:         types.Amount{Units: model.AmountUnits, Currency: model.Currency},
			TransactionRef: model.TransactionRef,
			CreatedAt:      model.CreatedAt,
		}
		if !fn(entry) {
			return nil
		}
	}
	return rows.Err()
}
