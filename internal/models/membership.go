package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the billing state of one membership.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusCurrent PaymentStatus = "current"
	PaymentStatusOverdue PaymentStatus = "overdue"
	PaymentStatusPaused  PaymentStatus = "paused"
)

// paymentStatusEdges declares the legal payment status transitions once.
// There is no terminal payment state; deactivation is expressed via
// Membership.IsActive, not via payment status. CURRENT is reachable only
// from PENDING or OVERDUE, so resuming a paused membership goes back
// through PENDING until the gateway reconfirms payment.
var paymentStatusEdges = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusCurrent, PaymentStatusPaused},
	PaymentStatusCurrent: {PaymentStatusOverdue, PaymentStatusPaused},
	PaymentStatusOverdue: {PaymentStatusCurrent, PaymentStatusPaused},
	PaymentStatusPaused:  {PaymentStatusPending},
}

// CanTransitionTo reports whether the payment status graph permits s -> target.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, next := range paymentStatusEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCurrent, PaymentStatusOverdue, PaymentStatusPaused:
		return true
	}
	return false
}

// Membership is the ledger row for one member's relationship to one circle.
// Exactly one row per (circle, member); rows are deactivated, never deleted.
type Membership struct {
	ID              uuid.UUID     `json:"id"`
	CircleID        uuid.UUID     `json:"circle_id"`
	UserID          uuid.UUID     `json:"user_id"`
	IsActive        bool          `json:"is_active"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	SubscriptionRef string        `json:"subscription_ref,omitempty"`
	NextPaymentDue  *time.Time    `json:"next_payment_due,omitempty"`
	JoinedAt        time.Time     `json:"joined_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// CircleMember is a membership row joined with user details for member listings.
type CircleMember struct {
	ID            uuid.UUID     `json:"id"`
	UserID        uuid.UUID     `json:"user_id"`
	Email         string        `json:"email"`
	FullName      string        `json:"full_name"`
	IsActive      bool          `json:"is_active"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	JoinedAt      time.Time     `json:"joined_at"`
}
