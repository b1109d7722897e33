package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fanzcore/core/types"
	"fanzcore/orchestrator"
)

// Store is the gorm-backed orchestrator.Store. Optimistic concurrency is
// enforced in SQL: updates match on (id, version) and bump the version,
// so a racing write loses with zero rows affected.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func marshalJSON(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func toTransactionModel(tx types.Transaction) TransactionModel {
	return TransactionModel{
		ID:                tx.ID,
		FanID:             tx.FanID,
		CreatorID:         tx.CreatorID,
		Platform:          tx.Platform,
		Region:            tx.Region,
		AmountUnits:       tx.Amount.Units,
		Currency:          types.NormalizeCurrency(tx.Amount.Currency),
		PlatformFeeUnits:  tx.PlatformFee.Units,
		ProcessorFeeUnits: tx.ProcessorFee.Units,
		RefundedUnits:     tx.RefundedTotal.Units,
		Method:            marshalJSON(tx.Method),
		Processor:         tx.Processor,
		MerchantAccount:   tx.MerchantAccount,
		Status:            string(tx.Status),
		TrustScore:        tx.TrustScore,
		RiskFlags:         marshalJSON(tx.RiskFlags),
		Response:          marshalJSON(tx.Response),
		ProcessorRef:      tx.Response.Reference,
		Version:           tx.Version,
		InitiatedAt:       tx.InitiatedAt,
		AuthorizedAt:      tx.AuthorizedAt,
		CapturedAt:        tx.CapturedAt,
		FailedAt:          tx.FailedAt,
		CreatedAt:         tx.CreatedAt,
		UpdatedAt:         tx.UpdatedAt,
	}
}

func fromTransactionModel(m TransactionModel) types.Transaction {
	tx := types.Transaction{
		ID:              m.ID,
		FanID:           m.FanID,
		CreatorID:       m.CreatorID,
		Platform:        m.Platform,
		Region:          m.Region,
		Amount:          types.Amount{Units: m.AmountUnits, Currency: m.Currency},
		PlatformFee:     types.Amount{Units: m.PlatformFeeUnits, Currency: m.Currency},
		ProcessorFee:    types.Amount{Units: m.ProcessorFeeUnits, Currency: m.Currency},
		RefundedTotal:   types.Amount{Units: m.RefundedUnits, Currency: m.Currency},
		Processor:       m.Processor,
		MerchantAccount: m.MerchantAccount,
		Status:          types.TransactionStatus(m.Status),
		TrustScore:      m.TrustScore,
		Version:         m.Version,
		InitiatedAt:     m.InitiatedAt,
		AuthorizedAt:    m.AuthorizedAt,
		CapturedAt:      m.CapturedAt,
		FailedAt:        m.FailedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	_ = json.Unmarshal([]byte(m.Method), &tx.Method)
	_ = json.Unmarshal([]byte(m.RiskFlags), &tx.RiskFlags)
	_ = json.Unmarshal([]byte(m.Response), &tx.Response)
	return tx
}

// InsertTransaction implements orchestrator.Store.
func (s *Store) InsertTransaction(ctx context.Context, tx types.Transaction) error {
	model := toTransactionModel(tx)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", orchestrator.ErrDuplicateID, tx.ID)
		}
		return err
	}
	return nil
}

// GetTransaction implements orchestrator.Store.
func (s *Store) GetTransaction(ctx context.Context, id string) (types.Transaction, error) {
	var model TransactionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Transaction{}, fmt.Errorf("%w: %s", orchestrator.ErrTxNotFound, id)
		}
		return types.Transaction{}, err
	}
	return fromTransactionModel(model), nil
}

// TransactionByProcessorRef implements orchestrator.Store.
func (s *Store) TransactionByProcessorRef(ctx context.Context, ref string) (types.Transaction, error) {
	var model TransactionModel
	err := s.db.WithContext(ctx).First(&model, "processor_ref = ?", ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Transaction{}, fmt.Errorf("%w: ref %s", orchestrator.ErrTxNotFound, ref)
		}
		return types.Transaction{}, err
	}
	return fromTransactionModel(model), nil
}

// UpdateTransaction implements orchestrator.Store. The write carries the
// version it read; a stale version loses the race.
func (s *Store) UpdateTransaction(ctx context.Context, tx types.Transaction) (types.Transaction, error) {
	next := tx
	next.Version = tx.Version + 1
	model := toTransactionModel(next)
	result := s.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Where("id = ? AND version = ?", tx.ID, tx.Version).
		Select("*").Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		return types.Transaction{}, result.Error
	}
	if result.RowsAffected == 0 {
		var exists int64
		s.db.WithContext(ctx).Model(&TransactionModel{}).Where("id = ?", tx.ID).Count(&exists)
		if exists == 0 {
			return types.Transaction{}, fmt.Errorf("%w: %s", orchestrator.ErrTxNotFound, tx.ID)
		}
		return types.Transaction{}, orchestrator.ErrVersionConflict
	}
	return next, nil
}

// CapturedBetween implements orchestrator.Store.
func (s *Store) CapturedBetween(ctx context.Context, processor string, start, end time.Time) ([]types.Transaction, error) {
	var models []TransactionModel
	err := s.db.WithContext(ctx).
		Where("processor = ? AND captured_at >= ? AND captured_at < ?", processor, start, end).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Transaction, 0, len(models))
	for _, m := range models {
		if m.CapturedAt.IsZero() {
			continue
		}
		out = append(out, fromTransactionModel(m))
	}
	return out, nil
}

// AppendTransactionEvent implements orchestrator.Store.
func (s *Store) AppendTransactionEvent(ctx context.Context, evt types.TransactionEvent) error {
	model := TransactionEventModel{
		ID:               evt.ID,
		TransactionID:    evt.TransactionID,
		Kind:             string(evt.Kind),
		Source:           evt.Source,
		AmountDelta:      evt.AmountDelta,
		ProcessorEventID: evt.ProcessorEventID,
		Success:          evt.Success,
		ErrorCode:        evt.ErrorCode,
		CreatedAt:        evt.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// TransactionEvents implements orchestrator.Store.
func (s *Store) TransactionEvents(ctx context.Context, txID string) ([]types.TransactionEvent, error) {
	var models []TransactionEventModel
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", txID).
		Order("seq asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.TransactionEvent, 0, len(models))
	for _, m := range models {
		out = append(out, types.TransactionEvent{
			ID:               m.ID,
			TransactionID:    m.TransactionID,
			Kind:             types.EventKind(m.Kind),
			Source:           m.Source,
			AmountDelta:      m.AmountDelta,
			ProcessorEventID: m.ProcessorEventID,
			Success:          m.Success,
			ErrorCode:        m.ErrorCode,
			CreatedAt:        m.CreatedAt,
		})
	}
	return out, nil
}

func toRefundModel(r types.Refund) RefundModel {
	return RefundModel{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		AmountUnits:   r.Amount.Units,
		Currency:      types.NormalizeCurrency(r.Amount.Currency),
		Reason:        r.Reason,
		Status:        string(r.Status),
		Decision:      string(r.Decision),
		TrustScore:    r.TrustScore,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromRefundModel(m RefundModel) types.Refund {
	return types.Refund{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		Amount:        types.Amount{Units: m.AmountUnits, Currency: m.Currency},
		Reason:        m.Reason,
		Status:        types.RefundStatus(m.Status),
		Decision:      types.DecisionSource(m.Decision),
		TrustScore:    m.TrustScore,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// InsertRefund implements orchestrator.Store.
func (s *Store) InsertRefund(ctx context.Context, refund types.Refund) error {
	model := toRefundModel(refund)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", orchestrator.ErrDuplicateID, refund.ID)
		}
		return err
	}
	return nil
}

// GetRefund implements orchestrator.Store.
func (s *Store) GetRefund(ctx context.Context, id string) (types.Refund, error) {
	var model RefundModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Refund{}, fmt.Errorf("%w: %s", orchestrator.ErrRefundNotFound, id)
		}
		return types.Refund{}, err
	}
	return fromRefundModel(model), nil
}

// RefundsForTransaction implements orchestrator.Store.
func (s *Store) RefundsForTransaction(ctx context.Context, txID string) ([]types.Refund, error) {
	var models []RefundModel
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", txID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Refund, 0, len(models))
	for _, m := range models {
		out = append(out, fromRefundModel(m))
	}
	return out, nil
}

// UpdateRefund implements orchestrator.Store.
func (s *Store) UpdateRefund(ctx context.Context, refund types.Refund) (types.Refund, error) {
	next := refund
	next.Version = refund.Version + 1
	model := toRefundModel(next)
	result := s.db.WithContext(ctx).
		Model(&RefundModel{}).
		Where("id = ? AND version = ?", refund.ID, refund.Version).
		Select("*").Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		return types.Refund{}, result.Error
	}
	if result.RowsAffected == 0 {
		return types.Refund{}, orchestrator.ErrVersionConflict
	}
	return next, nil
}

func toPayoutModel(p types.Payout) PayoutModel {
	return PayoutModel{
		ID:               p.ID,
		CreatorID:        p.CreatorID,
		Method:           p.Method,
		AmountUnits:      p.Amount.Units,
		FeeUnits:         p.Fees.Units,
		NetUnits:         p.Net.Units,
		WithholdingUnits: p.TaxWithholding.Units,
		Currency:         types.NormalizeCurrency(p.Amount.Currency),
		Status:           string(p.Status),
		BatchID:          p.BatchID,
		ProcessorRef:     p.ProcessorRef,
		FailureReason:    p.FailureReason,
		Version:          p.Version,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func fromPayoutModel(m PayoutModel) types.Payout {
	return types.Payout{
		ID:             m.ID,
		CreatorID:      m.CreatorID,
		Method:         m.Method,
		Amount:         types.Amount{Units: m.AmountUnits, Currency: m.Currency},
		Fees:           types.Amount{Units: m.FeeUnits, Currency: m.Currency},
		Net:            types.Amount{Units: m.NetUnits, Currency: m.Currency},
		TaxWithholding: types.Amount{Units: m.WithholdingUnits, Currency: m.Currency},
		Status:         types.PayoutStatus(m.Status),
		BatchID:        m.BatchID,
		ProcessorRef:   m.ProcessorRef,
		FailureReason:  m.FailureReason,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// InsertPayout implements orchestrator.Store.
func (s *Store) InsertPayout(ctx context.Context, payout types.Payout) error {
	model := toPayoutModel(payout)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", orchestrator.ErrDuplicateID, payout.ID)
		}
		return err
	}
	return nil
}

// GetPayout implements orchestrator.Store.
func (s *Store) GetPayout(ctx context.Context, id string) (types.Payout, error) {
	var model PayoutModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Payout{}, fmt.Errorf("%w: %s", orchestrator.ErrPayoutNotFound, id)
		}
		return types.Payout{}, err
	}
	return fromPayoutModel(model), nil
}

// PayoutByProcessorRef implements orchestrator.Store.
func (s *Store) PayoutByProcessorRef(ctx context.Context, ref string) (types.Payout, error) {
	var model PayoutModel
	err := s.db.WithContext(ctx).First(&model, "processor_ref = ?", ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Payout{}, fmt.Errorf("%w: ref %s", orchestrator.ErrPayoutNotFound, ref)
		}
		return types.Payout{}, err
	}
	return fromPayoutModel(model), nil
}

// UpdatePayout implements orchestrator.Store.
func (s *Store) UpdatePayout(ctx context.Context, payout types.Payout) (types.Payout, error) {
	next := payout
	next.Version = payout.Version + 1
	model := toPayoutModel(next)
	result := s.db.WithContext(ctx).
		Model(&PayoutModel{}).
		Where("id = ? AND version = ?", payout.ID, payout.Version).
		Select("*").Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		return types.Payout{}, result.Error
	}
	if result.RowsAffected == 0 {
		return types.Payout{}, orchestrator.ErrVersionConflict
	}
	return next, nil
}

// InsertPayoutBatch implements orchestrator.Store.
func (s *Store) InsertPayoutBatch(ctx context.Context, batch types.PayoutBatch) error {
	model := PayoutBatchModel{
		ID:        batch.ID,
		Rail:      batch.Rail,
		Currency:  types.NormalizeCurrency(batch.Currency),
		NetUnits:  batch.Net.Units,
		PayoutIDs: marshalJSON(batch.PayoutIDs),
		SealedAt:  batch.SealedAt,
		CreatedAt: batch.CreatedAt,
		UpdatedAt: batch.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetPayoutBatch implements orchestrator.Store.
func (s *Store) GetPayoutBatch(ctx context.Context, id string) (types.PayoutBatch, error) {
	var model PayoutBatchModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.PayoutBatch{}, fmt.Errorf("%w: batch %s", orchestrator.ErrPayoutNotFound, id)
		}
		return types.PayoutBatch{}, err
	}
	batch := types.PayoutBatch{
		ID:        model.ID,
		Rail:      model.Rail,
		Currency:  model.Currency,
		Net:       types.Amount{Units: model.NetUnits, Currency: model.Currency},
		SealedAt:  model.SealedAt,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	_ = json.Unmarshal([]byte(model.PayoutIDs), &batch.PayoutIDs)
	return batch, nil
}

func toDisputeModel(d types.Dispute) DisputeModel {
	return DisputeModel{
		ID:            d.ID,
		TransactionID: d.TransactionID,
		Kind:          string(d.Kind),
		Stage:         string(d.Stage),
		AmountUnits:   d.Amount.Units,
		Currency:      types.NormalizeCurrency(d.Amount.Currency),
		ReasonCode:    d.ReasonCode,
		Evidence:      d.Evidence,
		DeadlineAt:    d.DeadlineAt,
		Version:       d.Version,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func fromDisputeModel(m DisputeModel) types.Dispute {
	return types.Dispute{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		Kind:          types.DisputeKind(m.Kind),
		Stage:         types.DisputeStage(m.Stage),
		Amount:        types.Amount{Units: m.AmountUnits, Currency: m.Currency},
		ReasonCode:    m.ReasonCode,
		Evidence:      m.Evidence,
		DeadlineAt:    m.DeadlineAt,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// InsertDispute implements orchestrator.Store.
func (s *Store) InsertDispute(ctx context.Context, dispute types.Dispute) error {
	model := toDisputeModel(dispute)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", orchestrator.ErrDuplicateID, dispute.ID)
		}
		return err
	}
	return nil
}

// GetDispute implements orchestrator.Store.
func (s *Store) GetDispute(ctx context.Context, id string) (types.Dispute, error) {
	var model DisputeModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Dispute{}, fmt.Errorf("%w: %s", orchestrator.ErrDisputeNotFound, id)
		}
		return types.Dispute{}, err
	}
	return fromDisputeModel(model), nil
}

// DisputeForTransaction implements orchestrator.Store.
func (s *Store) DisputeForTransaction(ctx context.Context, txID string) (types.Dispute, error) {
	var model DisputeModel
	err := s.db.WithContext(ctx).First(&model, "transaction_id = ?", txID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Dispute{}, fmt.Errorf("%w: tx %s", orchestrator.ErrDisputeNotFound, txID)
		}
		return types.Dispute{}, err
	}
	return fromDisputeModel(model), nil
}

// UpdateDispute implements orchestrator.Store.
func (s *Store) UpdateDispute(ctx context.Context, dispute types.Dispute) (types.Dispute, error) {
	next := dispute
	next.Version = dispute.Version + 1
	model := toDisputeModel(next)
	result := s.db.WithContext(ctx).
		Model(&DisputeModel{}).
		Where("id = ? AND version = ?", dispute.ID, dispute.Version).
		Select("*").Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		return types.Dispute{}, result.Error
	}
	if result.RowsAffected == 0 {
		return types.Dispute{}, orchestrator.ErrVersionConflict
	}
	return next, nil
}
