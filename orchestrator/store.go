package orchestrator

import (
	"context"
	"errors"
	"time"

	"fanzcore/core/types"
)

var (
	// ErrTxNotFound reports an unknown transaction id or processor ref.
	ErrTxNotFound = errors.New("orchestrator: transaction not found")
	// ErrRefundNotFound reports an unknown refund id.
	ErrRefundNotFound = errors.New("orchestrator: refund not found")
	// ErrPayoutNotFound reports an unknown payout id or processor ref.
	ErrPayoutNotFound = errors.New("orchestrator: payout not found")
	// ErrDisputeNotFound reports an unknown dispute id.
	ErrDisputeNotFound = errors.New("orchestrator: dispute not found")
	// ErrVersionConflict reports an optimistic update racing a newer write.
	ErrVersionConflict = errors.New("orchestrator: version conflict")
	// ErrDuplicateID reports an insert reusing an existing id.
	ErrDuplicateID = errors.New("orchestrator: duplicate id")
)

// Store persists the entities whose status the orchestrator exclusively
// owns. Updates are optimistic: the write carries the version it read and
// fails with ErrVersionConflict when a newer write landed in between.
type Store interface {
	InsertTransaction(ctx context.Context, tx types.Transaction) error
	GetTransaction(ctx context.Context, id string) (types.Transaction, error)
	TransactionByProcessorRef(ctx context.Context, ref string) (types.Transaction, error)
	UpdateTransaction(ctx context.Context, tx types.Transaction) (types.Transaction, error)
	// CapturedBetween lists transactions captured in [start, end) on a
	// processor, regardless of any later transition.
	CapturedBetween(ctx context.Context, processor string, start, end time.Time) ([]types.Transaction, error)

	AppendTransactionEvent(ctx context.Context, evt types.TransactionEvent) error
	TransactionEvents(ctx context.Context, txID string) ([]types.TransactionEvent, error)

	InsertRefund(ctx context.Context, refund types.Refund) error
	GetRefund(ctx context.Context, id string) (types.Refund, error)
	RefundsForTransaction(ctx context.Context, txID string) ([]types.Refund, error)
	UpdateRefund(ctx context.Context, refund types.Refund) (types.Refund, error)

	InsertPayout(ctx context.Context, payout types.Payout) error
	GetPayout(ctx context.Context, id string) (types.Payout, error)
	PayoutByProcessorRef(ctx context.Context, ref string) (types.Payout, error)
	UpdatePayout(ctx context.Context, payout types.Payout) (types.Payout, error)

	InsertPayoutBatch(ctx context.Context, batch types.PayoutBatch) error
	GetPayoutBatch(ctx context.Context, id string) (types.PayoutBatch, error)

	InsertDispute(ctx context.Context, dispute types.Dispute) error
	GetDispute(ctx context.Context, id string) (types.Dispute, error)
	DisputeForTransaction(ctx context.Context, txID string) (types.Dispute, error)
	UpdateDispute(ctx context.Context, dispute types.Dispute) (types.Dispute, error)
}
