package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/harbor-circles/backend/internal/circles"
	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/apperr"
	"github.com/harbor-circles/backend/pkg/queue"
)

// PaymentProcessor applies payment-status jobs reported by the billing
// gateway to the membership ledger. Updates go through the circle management
// service as the system actor, so the payment transition table is enforced
// the same way it is for facilitators.
type PaymentProcessor struct {
	circleSvc *circles.Service
	queue     *queue.Queue
	logger    *zap.Logger
}

// NewPaymentProcessor creates a payment-status processor.
func NewPaymentProcessor(circleSvc *circles.Service, q *queue.Queue, logger *zap.Logger) *PaymentProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentProcessor{circleSvc: circleSvc, queue: q, logger: logger}
}

// Process executes one payment-status job. A permanent rejection (illegal
// transition, unknown membership, validation failure) is logged and dropped;
// retrying cannot make it legal. Infrastructure errors are returned so the
// caller retries.
func (p *PaymentProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypePaymentStatus {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.PaymentStatusPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	update := circles.PaymentUpdate{
		Status:         models.PaymentStatus(payload.Status),
		NextPaymentDue: payload.NextPaymentDue,
	}
	if payload.SubscriptionRef != "" {
		update.SubscriptionRef = &payload.SubscriptionRef
	}

	_, err := p.circleSvc.UpdateMemberPaymentStatus(ctx, payload.CircleID, payload.UserID, circles.SystemActor, update)
	if err != nil {
		if permanent(err) {
			p.logger.Warn("payment status job dropped",
				zap.String("job_id", job.ID),
				zap.String("circle_id", payload.CircleID.String()),
				zap.String("user_id", payload.UserID.String()),
				zap.String("status", payload.Status),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("apply payment status: %w", err)
	}

	p.logger.Info("payment status applied",
		zap.String("job_id", job.ID),
		zap.String("circle_id", payload.CircleID.String()),
		zap.String("user_id", payload.UserID.String()),
		zap.String("status", payload.Status),
	)
	return nil
}

// permanent reports whether the error is a domain rejection that no retry can
// fix, as opposed to an infrastructure failure.
func permanent(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindInvalidTransition, apperr.KindNotAMember, apperr.KindNotFound:
		return true
	}
	return false
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *PaymentProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("billing worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("billing worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
