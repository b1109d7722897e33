// Package storage persists the core entities with gorm. The models keep
// money as integer minor units plus a currency column, nested structures
// as JSON text columns, and an integer version on every row the
// orchestrator mutates.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TransactionModel mirrors types.Transaction.
type TransactionModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	FanID             string `gorm:"index;size:64"`
	CreatorID         string `gorm:"index;size:64"`
	Platform          string `gorm:"index;size:64"`
	Region            string `gorm:"size:16"`
	AmountUnits       int64
	Currency          string `gorm:"size:8"`
	PlatformFeeUnits  int64
	ProcessorFeeUnits int64
	RefundedUnits     int64
	Method            string `gorm:"type:text"`
	Processor         string `gorm:"index;size:32"`
	MerchantAccount   string `gorm:"index;size:64"`
	Status            string `gorm:"index;size:32"`
	TrustScore        int
	RiskFlags         string `gorm:"type:text"`
	Response          string `gorm:"type:text"`
	ProcessorRef      string `gorm:"index;size:128"`
	Version           int    `gorm:"not null"`
	InitiatedAt       time.Time
	AuthorizedAt      time.Time
	CapturedAt        time.Time `gorm:"index"`
	FailedAt          time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TransactionEventModel is append-only; it carries only created_at.
type TransactionEventModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	TransactionID    string `gorm:"index;size:64"`
	Kind             string `gorm:"size:32"`
	Source           string `gorm:"size:32"`
	AmountDelta      int64
	ProcessorEventID string `gorm:"size:128"`
	Success          bool
	ErrorCode        string `gorm:"size:64"`
	Seq              uint64 `gorm:"autoIncrement;uniqueIndex"`
	CreatedAt        time.Time
}

// RefundModel mirrors types.Refund.
type RefundModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	TransactionID string `gorm:"index;size:64"`
	AmountUnits   int64
	Currency      string `gorm:"size:8"`
	Reason        string `gorm:"size:255"`
	Status        string `gorm:"index;size:32"`
	Decision      string `gorm:"size:32"`
	TrustScore    int
	Version       int `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PayoutModel mirrors types.Payout.
type PayoutModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	CreatorID        string `gorm:"index;size:64"`
	Method           string `gorm:"size:32"`
	AmountUnits      int64
	FeeUnits         int64
	NetUnits         int64
	WithholdingUnits int64
	Currency         string `gorm:"size:8"`
	Status           string `gorm:"index;size:32"`
	BatchID          string `gorm:"index;size:64"`
	ProcessorRef     string `gorm:"index;size:128"`
	FailureReason    string `gorm:"size:255"`
	Version          int    `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PayoutBatchModel mirrors types.PayoutBatch.
type PayoutBatchModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Rail      string `gorm:"index;size:32"`
	Currency  string `gorm:"size:8"`
	NetUnits  int64
	PayoutIDs string `gorm:"type:text"`
	SealedAt  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisputeModel mirrors types.Dispute.
type DisputeModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	TransactionID string `gorm:"uniqueIndex;size:64"`
	Kind          string `gorm:"size:32"`
	Stage         string `gorm:"index;size:32"`
	AmountUnits   int64
	Currency      string `gorm:"size:8"`
	ReasonCode    string `gorm:"size:64"`
	Evidence      string `gorm:"type:text"`
	DeadlineAt    time.Time
	Version       int `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TrustScoreModel persists one scoring decision with its signal snapshot.
// Append-only.
type TrustScoreModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	SubjectRef       string `gorm:"index;size:128"`
	Score            int
	Confidence       float64
	ModelVersion     string `gorm:"size:32"`
	Decision         string `gorm:"size:16"`
	ReasonCodes      string `gorm:"type:text"`
	Signals          string `gorm:"type:text"`
	Explanation      string `gorm:"size:255"`
	ProcessingTimeMs int64
	CreatedAt        time.Time
}

// LedgerPairModel records one posted pair with its set fingerprint.
type LedgerPairModel struct {
	PairID      string `gorm:"primaryKey;size:128"`
	Fingerprint string `gorm:"size:128"`
	CreatedAt   time.Time
}

// LedgerEntryModel is append-only; rows are never mutated or deleted.
type LedgerEntryModel struct {
	EntryID        string `gorm:"primaryKey;size:64"`
	PairID         string `gorm:"index;size:128"`
	Account        string `gorm:"index;size:128"`
	Direction      string `gorm:"size:8"`
	AmountUnits    int64
	Currency       string `gorm:"size:8"`
	TransactionRef string `gorm:"index;size:64"`
	Seq            uint64 `gorm:"autoIncrement;uniqueIndex"`
	CreatedAt      time.Time
}

// AuditEventModel is the request audit trail written by the gateway.
type AuditEventModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	CorrelationID string `gorm:"index;size:64"`
	Actor         string `gorm:"size:128"`
	Method        string `gorm:"size:8"`
	Path          string `gorm:"size:255"`
	Status        int
	Detail        string `gorm:"type:text"`
	CreatedAt     time.Time
}

// RequestKeyModel stores gateway-level idempotent responses keyed by the
// Idempotency-Key header.
type RequestKeyModel struct {
	Key       string `gorm:"primaryKey;size:128"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName overrides keep the schema names short and stable.
func (TransactionModel) TableName() string      { return "transactions" }
func (TransactionEventModel) TableName() string { return "transaction_events" }
func (RefundModel) TableName() string           { return "refunds" }
func (PayoutModel) TableName() string           { return "payouts" }
func (PayoutBatchModel) TableName() string      { return "payout_batches" }
func (DisputeModel) TableName() string          { return "disputes" }
func (TrustScoreModel) TableName() string       { return "trust_scores" }
func (LedgerPairModel) TableName() string       { return "ledger_pairs" }
func (LedgerEntryModel) TableName() string      { return "ledger_entries" }
func (AuditEventModel) TableName() string       { return "audit_events" }
func (RequestKeyModel) TableName() string       { return "request_keys" }

// AutoMigrate creates or upgrades the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&TransactionModel{},
		&TransactionEventModel{},
		&RefundModel{},
		&PayoutModel{},
		&PayoutBatchModel{},
		&DisputeModel{},
		&TrustScoreModel{},
		&LedgerPairModel{},
		&LedgerEntryModel{},
		&AuditEventModel{},
		&RequestKeyModel{},
	)
}

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return db, nil
}
