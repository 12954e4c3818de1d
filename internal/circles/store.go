package circles

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/harbor-circles/backend/internal/models"
)

// PaymentUpdate carries a payment-status transition plus optional gateway
// fields. Nil pointer fields are left unchanged.
type PaymentUpdate struct {
	Status          models.PaymentStatus
	SubscriptionRef *string
	NextPaymentDue  *time.Time
}

// Store is the persistence surface the circle management service mutates
// through. InTx runs fn against a transaction-scoped store; the capacity
// check-and-insert paths rely on GetCircleForUpdate serializing writers on the
// circle row inside that transaction.
type Store interface {
	InTx(ctx context.Context, fn func(tx Store) error) error

	InsertCircle(ctx context.Context, c *models.Circle) error
	GetCircle(ctx context.Context, id uuid.UUID) (*models.Circle, error)
	GetCircleForUpdate(ctx context.Context, id uuid.UUID) (*models.Circle, error)
	UpdateCircle(ctx context.Context, c *models.Circle) error
	ListCircles(ctx context.Context) ([]models.CircleWithCount, error)
	CountActiveMembers(ctx context.Context, circleID uuid.UUID) (int, error)

	GetMembership(ctx context.Context, circleID, userID uuid.UUID) (*models.Membership, error)
	InsertMembership(ctx context.Context, m *models.Membership) error
	ReactivateMembership(ctx context.Context, id uuid.UUID, status models.PaymentStatus) (*models.Membership, error)
	DeactivateMembership(ctx context.Context, id uuid.UUID) error
	UpdateMembershipPayment(ctx context.Context, id uuid.UUID, update PaymentUpdate) (*models.Membership, error)
	ListMembers(ctx context.Context, circleID uuid.UUID) ([]models.CircleMember, error)
	ListMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error)
}
