package models

import (
	"time"

	"github.com/google/uuid"
)

// MerchantGroup is the durable identity for one real-world merchant as
// perceived by a single account. Stored in merchant_groups.
type MerchantGroup struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Name      string    `json:"name"`

	// GlobalMerchantID is a weak link into the cross-account merchant catalog,
	// used only for display enrichment (logo, canonical brand name). It never
	// participates in clustering decisions.
	GlobalMerchantID *uuid.UUID `json:"global_merchant_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
