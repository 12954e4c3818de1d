package billing

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/queue"
	"github.com/harbor-circles/backend/pkg/response"
)

// PaymentEventPayload is the expected body from the payment gateway's
// subscription webhook.
type PaymentEventPayload struct {
	CircleID        string     `json:"circle_id"`
	UserID          string     `json:"user_id"`
	Status          string     `json:"status"`
	SubscriptionRef string     `json:"subscription_ref"`
	NextPaymentDue  *time.Time `json:"next_payment_due"`
}

// WebhookHandler receives payment gateway events and hands them to the billing
// queue. Events are applied asynchronously by the worker; the gateway only
// needs an ack that the event was accepted.
type WebhookHandler struct {
	queue  *queue.Queue
	secret string
	logger *zap.Logger
}

// NewWebhookHandler creates a billing webhook handler. An empty secret
// disables the shared-secret check.
func NewWebhookHandler(q *queue.Queue, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{queue: q, secret: secret, logger: logger}
}

// PaymentEvent handles POST /webhooks/billing. Validates the shared secret
// (if configured) and enqueues a payment-status job. Whether the reported
// status is a legal transition is decided when the job is applied, not here.
func (h *WebhookHandler) PaymentEvent(c *gin.Context) {
	if h.secret != "" && c.GetHeader("X-Webhook-Secret") != h.secret {
		response.Unauthorized(c, "invalid webhook secret")
		return
	}

	var body PaymentEventPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	circleID, err := uuid.Parse(body.CircleID)
	if err != nil {
		response.BadRequest(c, "invalid circle_id")
		return
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		response.BadRequest(c, "invalid user_id")
		return
	}
	if !models.PaymentStatus(body.Status).Valid() {
		response.BadRequest(c, "unknown payment status")
		return
	}

	if err := h.queue.EnqueuePaymentStatus(c.Request.Context(), queue.PaymentStatusPayload{
		CircleID:        circleID,
		UserID:          userID,
		Status:          body.Status,
		SubscriptionRef: body.SubscriptionRef,
		NextPaymentDue:  body.NextPaymentDue,
	}); err != nil {
		h.logger.Error("enqueue payment status failed", zap.Error(err),
			zap.String("circle_id", circleID.String()),
			zap.String("user_id", userID.String()),
		)
		response.Internal(c, "failed to enqueue payment event")
		return
	}

	h.logger.Info("billing webhook accepted",
		zap.String("circle_id", circleID.String()),
		zap.String("user_id", userID.String()),
		zap.String("status", body.Status),
	)
	response.OK(c, gin.H{"status": "queued"})
}
