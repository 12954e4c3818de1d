package transfers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harbor-circles/backend/internal/circles"
	"github.com/harbor-circles/backend/internal/middleware"
	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/response"
)

// Notifier pushes an event to a single user's realtime connections. The
// domain services emit nothing themselves; this handler notifies after the
// service call has committed.
type Notifier interface {
	NotifyUser(userID uuid.UUID, event string, payload interface{})
}

// Handler handles transfer request HTTP endpoints.
type Handler struct {
	svc       *Service
	circleSvc *circles.Service
	notifier  Notifier
	logger    *zap.Logger
}

// NewHandler creates a transfers handler. notifier may be nil.
func NewHandler(svc *Service, circleSvc *circles.Service, notifier Notifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, circleSvc: circleSvc, notifier: notifier, logger: logger}
}

// CreateRequest is the body for POST /transfer-requests.
type CreateRequest struct {
	SourceCircleID uuid.UUID `json:"source_circle_id" binding:"required"`
	TargetCircleID uuid.UUID `json:"target_circle_id" binding:"required"`
	Reason         string    `json:"reason"`
}

// ReviewRequest is the body for approve/deny.
type ReviewRequest struct {
	Notes              string `json:"notes"`
	ExecuteImmediately bool   `json:"execute_immediately"`
}

// Create handles POST /transfer-requests.
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	tr, err := h.svc.CreateRequest(c.Request.Context(), userID, req.SourceCircleID, req.TargetCircleID, req.Reason)
	if err != nil {
		response.FromError(c, err, "failed to create transfer request")
		return
	}
	h.notifyTargetFacilitator(c, tr, "transfer_requested")
	response.Created(c, tr)
}

// Approve handles POST /transfer-requests/:id/approve.
func (h *Handler) Approve(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid request id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	tr, err := h.svc.ApproveRequest(c.Request.Context(), requestID, userID, req.ExecuteImmediately, req.Notes)
	if err != nil {
		response.FromError(c, err, "failed to approve transfer request")
		return
	}
	h.notifyRequester(tr, "transfer_approved")
	response.OK(c, tr)
}

// Deny handles POST /transfer-requests/:id/deny.
func (h *Handler) Deny(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid request id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	tr, err := h.svc.DenyRequest(c.Request.Context(), requestID, userID, req.Notes)
	if err != nil {
		response.FromError(c, err, "failed to deny transfer request")
		return
	}
	h.notifyRequester(tr, "transfer_denied")
	response.OK(c, tr)
}

// Cancel handles POST /transfer-requests/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid request id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	tr, err := h.svc.CancelRequest(c.Request.Context(), requestID, userID)
	if err != nil {
		response.FromError(c, err, "failed to cancel transfer request")
		return
	}
	h.notifyTargetFacilitator(c, tr, "transfer_cancelled")
	response.OK(c, tr)
}

// GetByID handles GET /transfer-requests/:id. Visible to the requester and
// the target circle's facilitator.
func (h *Handler) GetByID(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid request id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	tr, err := h.svc.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		response.FromError(c, err, "failed to load transfer request")
		return
	}
	if tr.RequesterID != userID {
		target, err := h.circleSvc.GetCircle(c.Request.Context(), tr.TargetCircleID)
		if err != nil || target.FacilitatorID != userID {
			response.Forbidden(c, "not authorized for this request")
			return
		}
	}
	response.OK(c, tr)
}

// ListMine handles GET /transfer-requests (requester view).
func (h *Handler) ListMine(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.svc.ListForRequester(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list transfer requests failed", zap.Error(err))
		response.Internal(c, "failed to load transfer requests")
		return
	}
	response.OK(c, list)
}

// ListPending handles GET /transfer-requests/pending (facilitator view).
func (h *Handler) ListPending(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.svc.ListPendingForFacilitator(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list pending transfers failed", zap.Error(err))
		response.Internal(c, "failed to load pending requests")
		return
	}
	response.OK(c, list)
}

func (h *Handler) notifyRequester(tr *models.TransferRequest, event string) {
	if h.notifier == nil {
		return
	}
	h.notifier.NotifyUser(tr.RequesterID, event, tr)
}

func (h *Handler) notifyTargetFacilitator(c *gin.Context, tr *models.TransferRequest, event string) {
	if h.notifier == nil {
		return
	}
	target, err := h.circleSvc.GetCircle(c.Request.Context(), tr.TargetCircleID)
	if err != nil {
		h.logger.Warn("notify facilitator: load circle failed", zap.Error(err))
		return
	}
	h.notifier.NotifyUser(target.FacilitatorID, event, tr)
}
