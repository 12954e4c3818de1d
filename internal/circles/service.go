package circles

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/apperr"
)

// SystemActor identifies the billing-reconciliation collaborator. Payment
// status updates it reports bypass the facilitator check but never the
// transition table.
var SystemActor = uuid.Nil

// Service is the circle management service: the sole mutator of circles and
// membership ledger rows, and the single source of truth for capacity and
// facilitator-authority checks.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a circle management service.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// CreateCircle creates a new circle in FORMING on behalf of its facilitator.
func (s *Service) CreateCircle(ctx context.Context, facilitatorID uuid.UUID, attrs models.CircleAttrs) (*models.Circle, error) {
	if err := models.ValidateCircleCreate(attrs); err != nil {
		return nil, err
	}
	c := &models.Circle{
		Name:            *attrs.Name,
		FacilitatorID:   facilitatorID,
		CapacityMin:     *attrs.CapacityMin,
		CapacityMax:     *attrs.CapacityMax,
		MeetingSchedule: attrs.MeetingSchedule,
		Status:          models.CircleStatusForming,
	}
	if attrs.Description != nil {
		c.Description = *attrs.Description
	}
	if attrs.LocationName != nil {
		c.LocationName = *attrs.LocationName
	}
	if attrs.LocationAddress != nil {
		c.LocationAddress = *attrs.LocationAddress
	}
	if err := s.store.InsertCircle(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("circle created",
		zap.String("circle_id", c.ID.String()),
		zap.String("facilitator_id", facilitatorID.String()),
	)
	return c, nil
}

// UpdateCircle applies a partial update. Unspecified fields are unchanged;
// capacity bounds are validated against the merged values, and capacity_max
// can never drop below the current active member count.
func (s *Service) UpdateCircle(ctx context.Context, circleID, actorID uuid.UUID, attrs models.CircleAttrs) (*models.Circle, error) {
	var updated *models.Circle
	err := s.store.InTx(ctx, func(tx Store) error {
		c, err := tx.GetCircleForUpdate(ctx, circleID)
		if err != nil {
			return err
		}
		if c.FacilitatorID != actorID {
			return apperr.New(apperr.KindAuthorization, "only the facilitator may update this circle")
		}
		merged := attrs
		if merged.CapacityMin == nil && merged.CapacityMax != nil {
			merged.CapacityMin = &c.CapacityMin
		}
		if merged.CapacityMax == nil && merged.CapacityMin != nil {
			merged.CapacityMax = &c.CapacityMax
		}
		if err := models.ValidateCircleUpdate(merged); err != nil {
			return err
		}
		if merged.CapacityMax != nil && *merged.CapacityMax < c.CapacityMax {
			count, err := tx.CountActiveMembers(ctx, circleID)
			if err != nil {
				return err
			}
			if count > *merged.CapacityMax {
				return apperr.New(apperr.KindValidation,
					"capacity_max %d is below the current active member count %d", *merged.CapacityMax, count)
			}
		}
		if attrs.Name != nil {
			c.Name = *attrs.Name
		}
		if attrs.Description != nil {
			c.Description = *attrs.Description
		}
		if merged.CapacityMin != nil {
			c.CapacityMin = *merged.CapacityMin
		}
		if merged.CapacityMax != nil {
			c.CapacityMax = *merged.CapacityMax
		}
		if attrs.LocationName != nil {
			c.LocationName = *attrs.LocationName
		}
		if attrs.LocationAddress != nil {
			c.LocationAddress = *attrs.LocationAddress
		}
		if attrs.MeetingSchedule != nil {
			c.MeetingSchedule = attrs.MeetingSchedule
		}
		if err := tx.UpdateCircle(ctx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// TransitionCircleStatus moves a circle along its status graph under
// facilitator authority. Closing a circle also clears its active flag;
// closed circles accept no further transitions or membership changes.
func (s *Service) TransitionCircleStatus(ctx context.Context, circleID, actorID uuid.UUID, target models.CircleStatus) (*models.Circle, error) {
	if !target.Valid() {
		return nil, apperr.New(apperr.KindValidation, "unknown circle status %q", target)
	}
	var updated *models.Circle
	err := s.store.InTx(ctx, func(tx Store) error {
		c, err := tx.GetCircleForUpdate(ctx, circleID)
		if err != nil {
			return err
		}
		if c.FacilitatorID != actorID {
			return apperr.New(apperr.KindAuthorization, "only the facilitator may change this circle's status")
		}
		if !c.Status.CanTransitionTo(target) {
			return apperr.New(apperr.KindInvalidTransition, "circle cannot move from %s to %s", c.Status, target)
		}
		c.Status = target
		if target == models.CircleStatusClosed {
			c.IsActive = false
		}
		if err := tx.UpdateCircle(ctx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("circle status changed",
		zap.String("circle_id", circleID.String()),
		zap.String("status", string(target)),
	)
	return updated, nil
}

// GetCircle returns a circle with its active member count.
func (s *Service) GetCircle(ctx context.Context, circleID uuid.UUID) (*models.CircleWithCount, error) {
	c, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountActiveMembers(ctx, circleID)
	if err != nil {
		return nil, err
	}
	return &models.CircleWithCount{Circle: *c, ActiveMembers: count}, nil
}

// ListCircles returns all circles with active member counts.
func (s *Service) ListCircles(ctx context.Context) ([]models.CircleWithCount, error) {
	return s.store.ListCircles(ctx)
}

// ListMembers returns a circle's ledger rows with user details.
func (s *Service) ListMembers(ctx context.Context, circleID uuid.UUID) ([]models.CircleMember, error) {
	if _, err := s.store.GetCircle(ctx, circleID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, circleID)
}

// ListMembershipsForUser returns a user's ledger rows across all circles.
func (s *Service) ListMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error) {
	return s.store.ListMembershipsForUser(ctx, userID)
}

// AddMember admits a member into a circle. The active-member count check and
// the row insert happen inside one transaction holding the circle's row lock,
// so two concurrent admissions cannot jointly exceed capacity.
func (s *Service) AddMember(ctx context.Context, circleID, actorID, memberID uuid.UUID, initialStatus models.PaymentStatus) (*models.Membership, error) {
	if initialStatus == "" {
		initialStatus = models.PaymentStatusPending
	}
	if !initialStatus.Valid() {
		return nil, apperr.New(apperr.KindValidation, "unknown payment status %q", initialStatus)
	}
	var created *models.Membership
	err := s.store.InTx(ctx, func(tx Store) error {
		c, err := tx.GetCircleForUpdate(ctx, circleID)
		if err != nil {
			return err
		}
		if c.FacilitatorID != actorID {
			return apperr.New(apperr.KindAuthorization, "only the facilitator may add members")
		}
		m, err := s.admitTx(ctx, tx, c, memberID, initialStatus)
		if err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("member added",
		zap.String("circle_id", circleID.String()),
		zap.String("user_id", memberID.String()),
	)
	return created, nil
}

// admitTx performs the capacity-guarded admission. The caller must hold the
// circle's row lock in tx.
func (s *Service) admitTx(ctx context.Context, tx Store, c *models.Circle, memberID uuid.UUID, status models.PaymentStatus) (*models.Membership, error) {
	if c.Status == models.CircleStatusClosed {
		return nil, apperr.New(apperr.KindInvalidTransition, "circle is closed to membership changes")
	}
	existing, err := tx.GetMembership(ctx, c.ID, memberID)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return nil, err
	}
	if existing != nil && existing.IsActive {
		return nil, apperr.New(apperr.KindDuplicateMembership, "member is already active in this circle")
	}
	count, err := tx.CountActiveMembers(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if count >= c.CapacityMax {
		return nil, apperr.New(apperr.KindCapacityExceeded, "circle is at capacity (%d/%d)", count, c.CapacityMax)
	}
	if existing != nil {
		return tx.ReactivateMembership(ctx, existing.ID, status)
	}
	m := &models.Membership{CircleID: c.ID, UserID: memberID, PaymentStatus: status}
	if err := tx.InsertMembership(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// RemoveMember deactivates a member's ledger row. Idempotent: removing an
// already-inactive member is a no-op. Permitted to the facilitator or to the
// member leaving on their own.
func (s *Service) RemoveMember(ctx context.Context, circleID, actorID, memberID uuid.UUID) error {
	return s.store.InTx(ctx, func(tx Store) error {
		c, err := tx.GetCircleForUpdate(ctx, circleID)
		if err != nil {
			return err
		}
		if c.FacilitatorID != actorID && actorID != memberID {
			return apperr.New(apperr.KindAuthorization, "only the facilitator or the member may remove this membership")
		}
		if c.Status == models.CircleStatusClosed {
			return apperr.New(apperr.KindInvalidTransition, "circle is closed to membership changes")
		}
		m, err := tx.GetMembership(ctx, circleID, memberID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return apperr.New(apperr.KindNotAMember, "user has no membership in this circle")
			}
			return err
		}
		if !m.IsActive {
			return nil
		}
		return tx.DeactivateMembership(ctx, m.ID)
	})
}

// TransferMember atomically moves a member's active membership from source to
// target: the source row is deactivated and a fresh target row is created with
// payment status reset to PENDING (subscriptions are circle-scoped, so payment
// history does not carry over). Capacity is re-checked here even for
// pre-approved transfers.
func (s *Service) TransferMember(ctx context.Context, sourceCircleID, targetCircleID, memberID, actorID uuid.UUID) (*models.Membership, error) {
	var moved *models.Membership
	err := s.store.InTx(ctx, func(tx Store) error {
		m, err := s.TransferMemberTx(ctx, tx, sourceCircleID, targetCircleID, memberID, actorID)
		if err != nil {
			return err
		}
		moved = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// TransferMemberTx is the transaction-scoped transfer used both by
// TransferMember and by the transfer workflow's approve-and-execute path,
// which must share one transaction with the request state change.
func (s *Service) TransferMemberTx(ctx context.Context, tx Store, sourceCircleID, targetCircleID, memberID, actorID uuid.UUID) (*models.Membership, error) {
	if sourceCircleID == targetCircleID {
		return nil, apperr.New(apperr.KindValidation, "source and target circles must differ")
	}

	// Lock both circle rows in a stable order so concurrent transfers in
	// opposite directions cannot deadlock.
	first, second := sourceCircleID, targetCircleID
	if bytes.Compare(second[:], first[:]) < 0 {
		first, second = second, first
	}
	locked := map[uuid.UUID]*models.Circle{}
	for _, id := range []uuid.UUID{first, second} {
		c, err := tx.GetCircleForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = c
	}
	source, target := locked[sourceCircleID], locked[targetCircleID]

	if target.FacilitatorID != actorID {
		return nil, apperr.New(apperr.KindAuthorization, "only the target circle's facilitator may execute this transfer")
	}
	if source.Status == models.CircleStatusClosed || target.Status == models.CircleStatusClosed {
		return nil, apperr.New(apperr.KindInvalidTransition, "closed circles permit no membership changes")
	}
	sourceRow, err := tx.GetMembership(ctx, sourceCircleID, memberID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.New(apperr.KindNotAMember, "member has no active membership in the source circle")
		}
		return nil, err
	}
	if !sourceRow.IsActive {
		return nil, apperr.New(apperr.KindNotAMember, "member has no active membership in the source circle")
	}

	moved, err := s.admitTx(ctx, tx, target, memberID, models.PaymentStatusPending)
	if err != nil {
		return nil, err
	}
	if err := tx.DeactivateMembership(ctx, sourceRow.ID); err != nil {
		return nil, err
	}
	s.logger.Info("member transferred",
		zap.String("user_id", memberID.String()),
		zap.String("source_circle_id", sourceCircleID.String()),
		zap.String("target_circle_id", targetCircleID.String()),
	)
	return moved, nil
}

// UpdateMemberPaymentStatus records a payment status reported for a member's
// active membership. The transition table is enforced for every caller,
// including the billing reconciler (SystemActor).
func (s *Service) UpdateMemberPaymentStatus(ctx context.Context, circleID, memberID, actorID uuid.UUID, update PaymentUpdate) (*models.Membership, error) {
	if !update.Status.Valid() {
		return nil, apperr.New(apperr.KindValidation, "unknown payment status %q", update.Status)
	}
	if update.SubscriptionRef != nil {
		if err := models.ValidateSubscriptionRef(*update.SubscriptionRef); err != nil {
			return nil, err
		}
	}
	if err := models.ValidateNextPaymentDue(update.NextPaymentDue, time.Now()); err != nil {
		return nil, err
	}
	var updated *models.Membership
	err := s.store.InTx(ctx, func(tx Store) error {
		c, err := tx.GetCircle(ctx, circleID)
		if err != nil {
			return err
		}
		if actorID != SystemActor && c.FacilitatorID != actorID {
			return apperr.New(apperr.KindAuthorization, "only the facilitator may update payment status")
		}
		m, err := tx.GetMembership(ctx, circleID, memberID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return apperr.New(apperr.KindNotAMember, "user has no membership in this circle")
			}
			return err
		}
		if !m.IsActive {
			return apperr.New(apperr.KindNotAMember, "membership is no longer active")
		}
		if !m.PaymentStatus.CanTransitionTo(update.Status) {
			return apperr.New(apperr.KindInvalidTransition,
				"payment status cannot move from %s to %s", m.PaymentStatus, update.Status)
		}
		updated, err = tx.UpdateMembershipPayment(ctx, m.ID, update)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
