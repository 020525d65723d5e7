package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Frequency classifies how often a recurring payment lands.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnual    Frequency = "annual"
)

// IsValid reports whether f is a known frequency class.
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual:
		return true
	}
	return false
}

// NominalInterval returns the canonical calendar step for the frequency,
// applied from a given date.
func (f Frequency) NominalInterval(from time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0)
	case FrequencyQuarterly:
		return from.AddDate(0, 3, 0)
	case FrequencyAnnual:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// RecurringTransaction is a detected periodic payment or income series for
// one merchant group. Stored in recurring_transactions.
type RecurringTransaction struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       uuid.UUID       `json:"account_id"`
	MerchantGroupID uuid.UUID       `json:"merchant_group_id"`
	Type            TransactionType `json:"type"`
	Frequency       Frequency       `json:"frequency"`

	AmountMin     decimal.Decimal `json:"amount_min"`
	AmountMax     decimal.Decimal `json:"amount_max"`
	AmountTypical decimal.Decimal `json:"amount_typical"`

	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	NextExpected time.Time `json:"next_expected"`

	Confidence      float64     `json:"confidence"`
	OccurrenceCount int         `json:"occurrence_count"`
	TransactionIDs  []uuid.UUID `json:"transaction_ids"`

	// IsLapsed is set when the next expected date has slipped more than one
	// full interval into the past without a matching transaction.
	IsLapsed bool `json:"is_lapsed"`

	// UserConfirmed patterns are retained even when confidence decays; only an
	// explicit user action removes them.
	UserConfirmed bool `json:"user_confirmed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
