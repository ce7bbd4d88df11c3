package domain

import (
	"time"

	"github.com/google/uuid"
)

// User carries the loyalty fields of a storefront customer.
type User struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	LoyaltyTier        string     `json:"loyalty_tier"`
	LoyaltyEvaluatedAt *time.Time `json:"loyalty_evaluated_at,omitempty"`
}

// LoyaltyTier is reached once lifetime spend is at least Threshold.
type LoyaltyTier struct {
	Name      string
	Threshold int64 // minor units
}

// TierFor returns the highest tier whose threshold spend reaches.
// tiers must be sorted by ascending threshold; "" if none match.
func TierFor(spend int64, tiers []LoyaltyTier) string {
	name := ""
	for _, t := range tiers {
		if spend >= t.Threshold {
			name = t.Name
		}
	}
	return name
}
