package circles

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harbor-circles/backend/internal/middleware"
	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/response"
)

// Handler handles circle HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a circles handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// CreateCircleRequest is the body for POST /circles.
type CreateCircleRequest struct {
	Name            string          `json:"name" binding:"required"`
	Description     *string         `json:"description"`
	CapacityMin     *int            `json:"capacity_min" binding:"required"`
	CapacityMax     *int            `json:"capacity_max" binding:"required"`
	LocationName    *string         `json:"location_name"`
	LocationAddress *string         `json:"location_address"`
	MeetingSchedule json.RawMessage `json:"meeting_schedule"`
}

// UpdateCircleRequest is the body for PATCH /circles/:id. All fields optional.
type UpdateCircleRequest struct {
	Name            *string         `json:"name"`
	Description     *string         `json:"description"`
	CapacityMin     *int            `json:"capacity_min"`
	CapacityMax     *int            `json:"capacity_max"`
	LocationName    *string         `json:"location_name"`
	LocationAddress *string         `json:"location_address"`
	MeetingSchedule json.RawMessage `json:"meeting_schedule"`
}

// StatusRequest is the body for POST /circles/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// AddMemberRequest is the body for POST /circles/:id/members.
type AddMemberRequest struct {
	UserID        uuid.UUID `json:"user_id" binding:"required"`
	PaymentStatus string    `json:"payment_status"` // optional, defaults to pending
}

// PaymentStatusRequest is the body for PATCH /circles/:id/members/:userId/payment-status.
type PaymentStatusRequest struct {
	Status          string     `json:"status" binding:"required"`
	SubscriptionRef *string    `json:"subscription_ref"`
	NextPaymentDue  *time.Time `json:"next_payment_due"`
}

// Create handles POST /circles. The authenticated user becomes facilitator.
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req CreateCircleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	circle, err := h.svc.CreateCircle(c.Request.Context(), userID, models.CircleAttrs{
		Name:            &req.Name,
		Description:     req.Description,
		CapacityMin:     req.CapacityMin,
		CapacityMax:     req.CapacityMax,
		LocationName:    req.LocationName,
		LocationAddress: req.LocationAddress,
		MeetingSchedule: req.MeetingSchedule,
	})
	if err != nil {
		response.FromError(c, err, "failed to create circle")
		return
	}
	response.Created(c, circle)
}

// List handles GET /circles.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.ListCircles(c.Request.Context())
	if err != nil {
		h.logger.Error("list circles failed", zap.Error(err))
		response.Internal(c, "failed to list circles")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /circles/:id.
func (h *Handler) GetByID(c *gin.Context) {
	circleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid circle id")
		return
	}
	circle, err := h.svc.GetCircle(c.Request.Context(), circleID)
	if err != nil {
		response.FromError(c, err, "failed to load circle")
		return
	}
	response.OK(c, circle)
}

// Update handles PATCH /circles/:id (facilitator only, partial update).
func (h *Handler) Update(c *gin.Context) {
	circleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid circle id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req UpdateCircleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	circle, err := h.svc.UpdateCircle(c.Request.Context(), circleID, userID, models.CircleAttrs{
		Name:            req.Name,
		Description:     req.Description,
		CapacityMin:     req.CapacityMin,
		CapacityMax:     req.CapacityMax,
		LocationName:    req.LocationName,
		LocationAddress: req.LocationAddress,
		MeetingSchedule: req.MeetingSchedule,
	})
	if err != nil {
		response.FromError(c, err, "failed to update circle")
		return
	}
	response.OK(c, circle)
}

// TransitionStatus handles POST /circles/:id/status (facilitator only).
func (h *Handler) TransitionStatus(c *gin.Context) {
	circleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid circle id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "status required")
		return
	}
	circle, err := h.svc.TransitionCircleStatus(c.Request.Context(), circleID, userID, models.CircleStatus(req.Status))
	if err != nil {
		response.FromError(c, err, "failed to change circle status")
		return
	}
	response.OK(c, circle)
}

// ListMembers handles GET /circles/:id/members (facilitator only).
func (h *Handler) ListMembers(c *gin.Context) {
	circleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid circle id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	circle, err := h.svc.GetCircle(c.Request.Context(), circleID)
	if err != nil {
		response.FromError(c, err, "failed to load circle")
		return
	}
	if circle.FacilitatorID != userID {
		response.Forbidden(c, "not authorized for this circle")
		return
	}
	members, err := h.svc.ListMembers(c.Request.Context(), circleID)
	if err != nil {
		response.FromError(c, err, "failed to load members")
		return
	}
	response.OK(c, members)
}

// AddMember handles POST /circles/:id/members (facilitator only).
func (h *Handler) AddMember(c *gin.Context) {
	circleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid circle id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m, err := h.svc.AddMember(c.Request.Context(), circleID, userID, req.UserID, models.PaymentStatus(req.PaymentStatus))
	if err != nil {
		response.FromError(c, err, "failed to add member")
		return
	}
	response.Created(c, m)
}

// RemoveMember handles DELETE /circles/:id/members/:userId.
func (h *Handler) RemoveMember(c *gin.Context) {
	circleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid circle id")
		return
	}
	memberID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.svc.RemoveMember(c.Request.Context(), circleID, userID, memberID); err != nil {
		response.FromError(c, err, "failed to remove member")
		return
	}
	response.NoContent(c)
}

// UpdatePaymentStatus handles PATCH /circles/:id/members/:userId/payment-status
// (facilitator only; the billing worker uses the service directly).
func (h *Handler) UpdatePaymentStatus(c *gin.Context) {
	circleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid circle id")
		return
	}
	memberID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req PaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m, err := h.svc.UpdateMemberPaymentStatus(c.Request.Context(), circleID, memberID, userID, PaymentUpdate{
		Status:          models.PaymentStatus(req.Status),
		SubscriptionRef: req.SubscriptionRef,
		NextPaymentDue:  req.NextPaymentDue,
	})
	if err != nil {
		response.FromError(c, err, "failed to update payment status")
		return
	}
	response.OK(c, m)
}

// ListMyMemberships handles GET /memberships for the current user.
func (h *Handler) ListMyMemberships(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.svc.ListMembershipsForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list memberships failed", zap.Error(err))
		response.Internal(c, "failed to load memberships")
		return
	}
	response.OK(c, list)
}
