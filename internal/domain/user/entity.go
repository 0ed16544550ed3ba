package user

import (
	"time"

	"github.com/google/uuid"
)

// User is the slice of the account row this service needs for webhook
// customer resolution and checkout attribution.
type User struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	Email              string    `db:"email" json:"email"`
	PolarCustomerID    string    `db:"polar_customer_id" json:"polar_customer_id"`
	SubscriptionPlan   string    `db:"subscription_plan" json:"subscription_plan"`
	SubscriptionStatus string    `db:"subscription_status" json:"subscription_status"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}
