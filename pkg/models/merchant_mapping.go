package models

import (
	"time"

	"github.com/google/uuid"
)

// MerchantMapping is the persisted edge from a canonical description pattern
// to a merchant group. (account_id, canonical_pattern) is unique - at most one
// mapping per distinct merchant signature per account.
type MerchantMapping struct {
	ID              uuid.UUID `json:"id"`
	AccountID       uuid.UUID `json:"account_id"`
	RawPattern      string    `json:"raw_pattern"`
	CanonicalPattern string   `json:"canonical_pattern"`

	// MerchantGroupID is nil while the pattern is unresolved (no group yet).
	MerchantGroupID *uuid.UUID `json:"merchant_group_id,omitempty"`

	// IsAutomatic is false once a user has curated this mapping. Automatic
	// re-clustering must never overwrite a manual mapping.
	IsAutomatic bool    `json:"is_automatic"`
	Confidence  float64 `json:"confidence"`
	UsageCount  int     `json:"usage_count"`

	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ResolutionState enumerates the outcomes of resolving a description.
type ResolutionState string

const (
	// StateResolved means the description maps to exactly one merchant group.
	StateResolved ResolutionState = "resolved"
	// StateUnresolved means the description normalizes to nothing usable or
	// has no group assigned yet.
	StateUnresolved ResolutionState = "unresolved"
	// StateAmbiguous means more than one group matched with comparable,
	// low-confidence similarity. Candidates carries the tied groups.
	StateAmbiguous ResolutionState = "ambiguous"
)

// Resolution is the tagged outcome of resolving a raw description to a
// merchant group. Callers must switch on State rather than nil-check Group.
type Resolution struct {
	State      ResolutionState  `json:"state"`
	Group      *MerchantGroup   `json:"group,omitempty"`
	Candidates []*MerchantGroup `json:"candidates,omitempty"`
	Mapping    *MerchantMapping `json:"mapping,omitempty"`
	Confidence float64          `json:"confidence"`
}
