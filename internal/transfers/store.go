package transfers

import (
	"context"

	"github.com/google/uuid"

	"github.com/harbor-circles/backend/internal/circles"
	"github.com/harbor-circles/backend/internal/models"
)

// Store is the persistence surface for transfer requests. Circles exposes
// circle/membership access bound to the same transaction scope, which the
// approve-and-execute path needs: the request state change and the membership
// move must commit or roll back together.
type Store interface {
	InTx(ctx context.Context, fn func(tx Store) error) error
	Circles() circles.Store

	InsertRequest(ctx context.Context, r *models.TransferRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error)
	GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error)
	HasPendingRequest(ctx context.Context, requesterID, targetCircleID uuid.UUID) (bool, error)
	RecordReview(ctx context.Context, id uuid.UUID, status models.TransferStatus, reviewerID uuid.UUID, notes string) (*models.TransferRequest, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error)
	ListPendingForFacilitator(ctx context.Context, facilitatorID uuid.UUID) ([]models.TransferRequest, error)
	ListForRequester(ctx context.Context, requesterID uuid.UUID) ([]models.TransferRequest, error)
}
