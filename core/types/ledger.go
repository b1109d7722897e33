package types

import "time"

// EntryDirection is the side of a double-entry posting.
type EntryDirection string

const (
	Debit  EntryDirection = "debit"
	Credit EntryDirection = "credit"
)

// Well-known ledger accounts. Creator-scoped accounts are derived with the
// account helpers below so balances can be queried per creator.
const (
	AccountFanReceivable       = "fan_receivable"
	AccountPlatformFeeRevenue  = "platform_fee_revenue"
	AccountProcessorFeeExpense = "processor_fee_expense"
	AccountProcessorPayable    = "processor_payable"
	AccountPayoutClearing      = "payout_clearing"
)

// CreatorPayableAccount derives the per-creator payable account name.
func CreatorPayableAccount(creatorID string) string {
	return "creator_payable:" + creatorID
}

// LedgerEntry is one side of a balanced double-entry set. Entries are
// append-only and never mutated.
type LedgerEntry struct {
	EntryID        string         `json:"entryId"`
	PairID         string         `json:"pairId"`
	Account        string         `json:"account"`
	Direction      EntryDirection `json:"direction"`
	Amount         Amount         `json:"amount"`
	TransactionRef string         `json:"transactionRef,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}
