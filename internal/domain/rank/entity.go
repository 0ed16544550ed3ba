package rank

import (
	"time"

	"github.com/google/uuid"
)

// UserRank is the gamification row owned by the main API. This service only
// bumps XP; levels and titles are recomputed elsewhere.
type UserRank struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	XP        int64     `db:"xp" json:"xp"`
	Level     int       `db:"level" json:"level"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// XP awarded per purchase, stepped by credit volume.
var xpTiers = []struct {
	minCredits int64
	xp         int64
}{
	{1000, 750},
	{500, 300},
	{200, 150},
	{100, 50},
	{10, 25},
}

// XPForCredits maps a granted credit amount to its XP award. Purchases under
// the smallest tier earn nothing.
func XPForCredits(credits int64) int64 {
	for _, tier := range xpTiers {
		if credits >= tier.minCredits {
			return tier.xp
		}
	}
	return 0
}
