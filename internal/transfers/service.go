package transfers

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harbor-circles/backend/internal/circles"
	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/apperr"
)

// Service mediates member-initiated transfer requests. It never mutates
// circles or memberships itself; an approved execution is delegated to the
// circle management service inside the same transaction as the request's
// state change.
type Service struct {
	store     Store
	circleSvc *circles.Service
	logger    *zap.Logger
}

// NewService creates a transfer workflow service.
func NewService(store Store, circleSvc *circles.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, circleSvc: circleSvc, logger: logger}
}

// CreateRequest files a pending transfer request. The target-capacity check
// here is advisory only; enforcement happens again at execution time because
// capacity may change between request and approval.
func (s *Service) CreateRequest(ctx context.Context, requesterID, sourceCircleID, targetCircleID uuid.UUID, reason string) (*models.TransferRequest, error) {
	if sourceCircleID == targetCircleID {
		return nil, apperr.New(apperr.KindValidation, "source and target circles must differ")
	}
	if err := models.ValidateTransferReason(reason); err != nil {
		return nil, err
	}
	var created *models.TransferRequest
	err := s.store.InTx(ctx, func(tx Store) error {
		if _, err := tx.Circles().GetCircle(ctx, sourceCircleID); err != nil {
			return err
		}
		target, err := tx.Circles().GetCircle(ctx, targetCircleID)
		if err != nil {
			return err
		}
		if target.Status == models.CircleStatusClosed {
			return apperr.New(apperr.KindInvalidTransition, "target circle is closed")
		}
		m, err := tx.Circles().GetMembership(ctx, sourceCircleID, requesterID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return apperr.New(apperr.KindNotAMember, "requester has no active membership in the source circle")
			}
			return err
		}
		if !m.IsActive {
			return apperr.New(apperr.KindNotAMember, "requester has no active membership in the source circle")
		}
		pending, err := tx.HasPendingRequest(ctx, requesterID, targetCircleID)
		if err != nil {
			return err
		}
		if pending {
			return apperr.New(apperr.KindDuplicateRequest, "a pending request to this circle already exists")
		}
		count, err := tx.Circles().CountActiveMembers(ctx, targetCircleID)
		if err != nil {
			return err
		}
		if count >= target.CapacityMax {
			return apperr.New(apperr.KindCapacityExceeded, "target circle is at capacity (%d/%d)", count, target.CapacityMax)
		}
		created = &models.TransferRequest{
			RequesterID:    requesterID,
			SourceCircleID: sourceCircleID,
			TargetCircleID: targetCircleID,
			Reason:         reason,
			Status:         models.TransferStatusPending,
		}
		return tx.InsertRequest(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("transfer request created",
		zap.String("request_id", created.ID.String()),
		zap.String("requester_id", requesterID.String()),
		zap.String("target_circle_id", targetCircleID.String()),
	)
	return created, nil
}

// ApproveRequest approves a pending request as the target circle's
// facilitator. With executeImmediately the membership move runs in the same
// transaction; if the target is full at execution time the whole transaction
// aborts and the request remains pending, so an approval is never persisted
// without its transfer.
func (s *Service) ApproveRequest(ctx context.Context, requestID, reviewerID uuid.UUID, executeImmediately bool, notes string) (*models.TransferRequest, error) {
	if err := models.ValidateReviewNotes(notes); err != nil {
		return nil, err
	}
	var approved *models.TransferRequest
	err := s.store.InTx(ctx, func(tx Store) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		target, err := tx.Circles().GetCircle(ctx, req.TargetCircleID)
		if err != nil {
			return err
		}
		if target.FacilitatorID != reviewerID {
			return apperr.New(apperr.KindAuthorization, "only the target circle's facilitator may review this request")
		}
		if !req.Status.CanTransitionTo(models.TransferStatusApproved) {
			return apperr.New(apperr.KindInvalidTransition, "request is %s, not pending", req.Status)
		}
		if executeImmediately {
			if _, err := s.circleSvc.TransferMemberTx(ctx, tx.Circles(),
				req.SourceCircleID, req.TargetCircleID, req.RequesterID, reviewerID); err != nil {
				return err
			}
		}
		approved, err = tx.RecordReview(ctx, requestID, models.TransferStatusApproved, reviewerID, notes)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("transfer request approved",
		zap.String("request_id", requestID.String()),
		zap.Bool("executed", executeImmediately),
	)
	return approved, nil
}

// DenyRequest denies a pending request as the target circle's facilitator.
func (s *Service) DenyRequest(ctx context.Context, requestID, reviewerID uuid.UUID, notes string) (*models.TransferRequest, error) {
	if err := models.ValidateReviewNotes(notes); err != nil {
		return nil, err
	}
	var denied *models.TransferRequest
	err := s.store.InTx(ctx, func(tx Store) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		target, err := tx.Circles().GetCircle(ctx, req.TargetCircleID)
		if err != nil {
			return err
		}
		if target.FacilitatorID != reviewerID {
			return apperr.New(apperr.KindAuthorization, "only the target circle's facilitator may review this request")
		}
		if !req.Status.CanTransitionTo(models.TransferStatusDenied) {
			return apperr.New(apperr.KindInvalidTransition, "request is %s, not pending", req.Status)
		}
		denied, err = tx.RecordReview(ctx, requestID, models.TransferStatusDenied, reviewerID, notes)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("transfer request denied", zap.String("request_id", requestID.String()))
	return denied, nil
}

// CancelRequest cancels a still-pending request; only the original requester may.
func (s *Service) CancelRequest(ctx context.Context, requestID, requesterID uuid.UUID) (*models.TransferRequest, error) {
	var cancelled *models.TransferRequest
	err := s.store.InTx(ctx, func(tx Store) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.RequesterID != requesterID {
			return apperr.New(apperr.KindAuthorization, "only the original requester may cancel this request")
		}
		if !req.Status.CanTransitionTo(models.TransferStatusCancelled) {
			return apperr.New(apperr.KindInvalidTransition, "request is %s, not pending", req.Status)
		}
		cancelled, err = tx.MarkCancelled(ctx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("transfer request cancelled", zap.String("request_id", requestID.String()))
	return cancelled, nil
}

// GetRequest returns a request by ID.
func (s *Service) GetRequest(ctx context.Context, requestID uuid.UUID) (*models.TransferRequest, error) {
	return s.store.GetRequest(ctx, requestID)
}

// ListPendingForFacilitator returns pending requests targeting the
// facilitator's circles. Read-only projection.
func (s *Service) ListPendingForFacilitator(ctx context.Context, facilitatorID uuid.UUID) ([]models.TransferRequest, error) {
	return s.store.ListPendingForFacilitator(ctx, facilitatorID)
}

// ListForRequester returns all requests created by a user. Read-only projection.
func (s *Service) ListForRequester(ctx context.Context, requesterID uuid.UUID) ([]models.TransferRequest, error) {
	return s.store.ListForRequester(ctx, requesterID)
}
