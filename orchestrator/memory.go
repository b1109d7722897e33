package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fanzcore/core/types"
)

// MemoryStore is the in-process Store backend used by tests and
// single-node deployments. Safe for concurrent use.
type MemoryStore struct {
	mu           sync.Mutex
	transactions map[string]types.Transaction
	txByRef      map[string]string
	txEvents     map[string][]types.TransactionEvent
	refunds      map[string]types.Refund
	refundsByTx  map[string][]string
	payouts      map[string]types.Payout
	payoutByRef  map[string]string
	batches      map[string]types.PayoutBatch
	disputes     map[string]types.Dispute
	disputeByTx  map[string]string
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]types.Transaction),
		txByRef:      make(map[string]string),
		txEvents:     make(map[string][]types.TransactionEvent),
		refunds:      make(map[string]types.Refund),
		refundsByTx:  make(map[string][]string),
		payouts:      make(map[string]types.Payout),
		payoutByRef:  make(map[string]string),
		batches:      make(map[string]types.PayoutBatch),
		disputes:     make(map[string]types.Dispute),
		disputeByTx:  make(map[string]string),
	}
}

// InsertTransaction implements Store.
func (s *MemoryStore) InsertTransaction(_ context.Context, tx types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, tx.ID)
	}
	s.transactions[tx.ID] = tx
	s.indexRefLocked(tx)
	return nil
}

// GetTransaction implements Store.
func (s *MemoryStore) GetTransaction(_ context.Context, id string) (types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return types.Transaction{}, fmt.Errorf("%w: %s", ErrTxNotFound, id)
	}
	return tx, nil
}

// TransactionByProcessorRef implements Store.
func (s *MemoryStore) TransactionByProcessorRef(_ context.Context, ref string) (types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.txByRef[ref]
	if !ok {
		return types.Transaction{}, fmt.Errorf("%w: ref %s", ErrTxNotFound, ref)
	}
	return s.transactions[id], nil
}

// UpdateTransaction implements Store. The write must carry the version it
// read; the stored version is bumped on success.
func (s *MemoryStore) UpdateTransaction(_ context.Context, tx types.Transaction) (types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.transactions[tx.ID]
	if !ok {
		return types.Transaction{}, fmt.Errorf("%w: %s", ErrTxNotFound, tx.ID)
	}
	if stored.Version != tx.Version {
		return types.Transaction{}, ErrVersionConflict
	}
	tx.Version++
	s.transactions[tx.ID] = tx
	s.indexRefLocked(tx)
	return tx, nil
}

func (s *MemoryStore) indexRefLocked(tx types.Transaction) {
	if tx.Response.Reference != "" {
		s.txByRef[tx.Response.Reference] = tx.ID
	}
}

// CapturedBetween implements Store.
func (s *MemoryStore) CapturedBetween(_ context.Context, processor string, start, end time.Time) ([]types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Transaction
	for _, tx := range s.transactions {
		if tx.Processor != processor || tx.CapturedAt.IsZero() {
			continue
		}
		if tx.CapturedAt.Before(start) || !tx.CapturedAt.Before(end) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// AppendTransactionEvent implements Store.
func (s *MemoryStore) AppendTransactionEvent(_ context.Context, evt types.TransactionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txEvents[evt.TransactionID] = append(s.txEvents[evt.TransactionID], evt)
	return nil
}

// TransactionEvents implements Store.
func (s *MemoryStore) TransactionEvents(_ context.Context, txID string) ([]types.TransactionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TransactionEvent, len(s.txEvents[txID]))
	copy(out, s.txEvents[txID])
	return out, nil
}

// InsertRefund implements Store.
func (s *MemoryStore) InsertRefund(_ context.Context, refund types.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refunds[refund.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, refund.ID)
	}
	s.refunds[refund.ID] = refund
	s.refundsByTx[refund.TransactionID] = append(s.refundsByTx[refund.TransactionID], refund.ID)
	return nil
}

// GetRefund implements Store.
func (s *MemoryStore) GetRefund(_ context.Context, id string) (types.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refund, ok := s.refunds[id]
	if !ok {
		return types.Refund{}, fmt.Errorf("%w: %s", ErrRefundNotFound, id)
	}
	return refund, nil
}

// RefundsForTransaction implements Store.
func (s *MemoryStore) RefundsForTransaction(_ context.Context, txID string) ([]types.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.refundsByTx[txID]
	out := make([]types.Refund, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.refunds[id])
	}
	return out, nil
}

// UpdateRefund implements Store.
func (s *MemoryStore) UpdateRefund(_ context.Context, refund types.Refund) (types.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.refunds[refund.ID]
	if !ok {
		return types.Refund{}, fmt.Errorf("%w: %s", ErrRefundNotFound, refund.ID)
	}
	if stored.Version != refund.Version {
		return types.Refund{}, ErrVersionConflict
	}
	refund.Version++
	s.refunds[refund.ID] = refund
	return refund, nil
}

// InsertPayout implements Store.
func (s *MemoryStore) InsertPayout(_ context.Context, payout types.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payouts[payout.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, payout.ID)
	}
	s.payouts[payout.ID] = payout
	return nil
}

// GetPayout implements Store.
func (s *MemoryStore) GetPayout(_ context.Context, id string) (types.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payout, ok := s.payouts[id]
	if !ok {
		return types.Payout{}, fmt.Errorf("%w: %s", ErrPayoutNotFound, id)
	}
	return payout, nil
}

// PayoutByProcessorRef implements Store.
func (s *MemoryStore) PayoutByProcessorRef(_ context.Context, ref string) (types.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.payoutByRef[ref]
	if !ok {
		return types.Payout{}, fmt.Errorf("%w: ref %s", ErrPayoutNotFound, ref)
	}
	return s.payouts[id], nil
}

// UpdatePayout implements Store.
func (s *MemoryStore) UpdatePayout(_ context.Context, payout types.Payout) (types.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payouts[payout.ID]
	if !ok {
		return types.Payout{}, fmt.Errorf("%w: %s", ErrPayoutNotFound, payout.ID)
	}
	if stored.Version != payout.Version {
		return types.Payout{}, ErrVersionConflict
	}
	payout.Version++
	s.payouts[payout.ID] = payout
	if payout.ProcessorRef != "" {
		s.payoutByRef[payout.ProcessorRef] = payout.ID
	}
	return payout, nil
}

// InsertPayoutBatch implements Store.
func (s *MemoryStore) InsertPayoutBatch(_ context.Context, batch types.PayoutBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, batch.ID)
	}
	s.batches[batch.ID] = batch
	return nil
}

// GetPayoutBatch implements Store.
func (s *MemoryStore) GetPayoutBatch(_ context.Context, id string) (types.PayoutBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return types.PayoutBatch{}, fmt.Errorf("%w: batch %s", ErrPayoutNotFound, id)
	}
	return batch, nil
}

// InsertDispute implements Store.
func (s *MemoryStore) InsertDispute(_ context.Context, dispute types.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disputes[dispute.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, dispute.ID)
	}
	s.disputes[dispute.ID] = dispute
	s.disputeByTx[dispute.TransactionID] = dispute.ID
	return nil
}

// GetDispute implements Store.
func (s *MemoryStore) GetDispute(_ context.Context, id string) (types.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dispute, ok := s.disputes[id]
	if !ok {
		return types.Dispute{}, fmt.Errorf("%w: %s", ErrDisputeNotFound, id)
	}
	return dispute, nil
}

// DisputeForTransaction implements Store.
func (s *MemoryStore) DisputeForTransaction(_ context.Context, txID string) (types.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.disputeByTx[txID]
	if !ok {
		return types.Dispute{}, fmt.Errorf("%w: tx %s", ErrDisputeNotFound, txID)
	}
	return s.disputes[id], nil
}

// UpdateDispute implements Store.
func (s *MemoryStore) UpdateDispute(_ context.Context, dispute types.Dispute) (types.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.disputes[dispute.ID]
	if !ok {
		return types.Dispute{}, fmt.Errorf("%w: %s", ErrDisputeNotFound, dispute.ID)
	}
	if stored.Version != dispute.Version {
		return types.Dispute{}, ErrVersionConflict
	}
	dispute.Version++
	s.disputes[dispute.ID] = dispute
	return dispute, nil
}
