package notification

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeCreditsGranted         Type = "credits_granted"
	TypeCreditsRefunded        Type = "credits_refunded"
	TypeSubscriptionActivated  Type = "subscription_activated"
	TypeSubscriptionCanceled   Type = "subscription_canceled"
	TypeSubscriptionUncanceled Type = "subscription_uncanceled"
	TypeSubscriptionRevoked    Type = "subscription_revoked"
	TypeSubscriptionPastDue    Type = "subscription_past_due"
)

type Notification struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Type      Type      `db:"type" json:"type"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
