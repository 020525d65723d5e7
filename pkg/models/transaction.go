package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType distinguishes money out from money in. Recurring bills and
// recurring income are detected independently and never mixed.
type TransactionType string

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
)

// Transaction is the engine's read view of a ledger row. The surrounding
// application owns the full transaction record; the engine only needs the
// fields that drive grouping and recurrence detection.
type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       uuid.UUID       `json:"account_id"`
	Date            time.Time       `json:"date"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	Type            TransactionType `json:"type"`
	MerchantGroupID *uuid.UUID      `json:"merchant_group_id,omitempty"`
}
