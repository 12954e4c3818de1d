package transfers

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/harbor-circles/backend/internal/circles"
	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/apperr"
)

func newTestService(store *MockStore) *Service {
	circleSvc := circles.NewService(store.CircleStore, nil)
	return NewService(store, circleSvc, nil)
}

// =============================================================================
// Test: CreateRequest
// =============================================================================

func TestService_CreateRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("Given active membership and open target When request created Then starts pending", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		seedMembership(store, source.ID, requester, true, models.PaymentStatusCurrent)

		req, err := svc.CreateRequest(ctx, requester, source.ID, target.ID, "closer to home")
		if err != nil {
			t.Fatalf("CreateRequest failed: %v", err)
		}
		if req.Status != models.TransferStatusPending {
			t.Errorf("expected pending, got %s", req.Status)
		}
		if req.Reason != "closer to home" {
			t.Errorf("expected reason recorded, got %q", req.Reason)
		}
	})

	t.Run("Given same source and target When request created Then validation error", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		c := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)

		_, err := svc.CreateRequest(ctx, uuid.New(), c.ID, c.ID, "")
		if apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("Given requester not active in source When request created Then not-a-member error", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)

		_, err := svc.CreateRequest(ctx, uuid.New(), source.ID, target.ID, "")
		if apperr.KindOf(err) != apperr.KindNotAMember {
			t.Fatalf("expected not-a-member error, got %v", err)
		}
	})

	t.Run("Given pending request already exists When duplicate filed Then duplicate error", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		seedMembership(store, source.ID, requester, true, models.PaymentStatusCurrent)
		seedRequest(store, requester, source.ID, target.ID, models.TransferStatusPending)

		_, err := svc.CreateRequest(ctx, requester, source.ID, target.ID, "")
		if apperr.KindOf(err) != apperr.KindDuplicateRequest {
			t.Fatalf("expected duplicate request error, got %v", err)
		}
	})

	t.Run("Given earlier request resolved When new request filed Then succeeds", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		seedMembership(store, source.ID, requester, true, models.PaymentStatusCurrent)
		seedRequest(store, requester, source.ID, target.ID, models.TransferStatusDenied)

		if _, err := svc.CreateRequest(ctx, requester, source.ID, target.ID, ""); err != nil {
			t.Fatalf("expected new request after denial to succeed: %v", err)
		}
	})

	t.Run("Given full target circle When request created Then capacity error", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusActive, 2)
		seedMembership(store, source.ID, requester, true, models.PaymentStatusCurrent)
		seedMembership(store, target.ID, uuid.New(), true, models.PaymentStatusCurrent)
		seedMembership(store, target.ID, uuid.New(), true, models.PaymentStatusCurrent)

		_, err := svc.CreateRequest(ctx, requester, source.ID, target.ID, "")
		if apperr.KindOf(err) != apperr.KindCapacityExceeded {
			t.Fatalf("expected capacity error, got %v", err)
		}
	})

	t.Run("Given closed target circle When request created Then invalid transition", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusClosed, 10)
		seedMembership(store, source.ID, requester, true, models.PaymentStatusCurrent)

		_, err := svc.CreateRequest(ctx, requester, source.ID, target.ID, "")
		if apperr.KindOf(err) != apperr.KindInvalidTransition {
			t.Fatalf("expected invalid transition, got %v", err)
		}
	})
}

// =============================================================================
// Test: ApproveRequest
// =============================================================================

func TestService_ApproveRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("Given pending request When approved with execution Then member moved and request approved", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		targetFacilitator := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, targetFacilitator, models.CircleStatusActive, 10)
		seedMembership(store, source.ID, requester, true, models.PaymentStatusCurrent)
		req := seedRequest(store, requester, source.ID, target.ID, models.TransferStatusPending)

		approved, err := svc.ApproveRequest(ctx, req.ID, targetFacilitator, true, "welcome")
		if err != nil {
			t.Fatalf("ApproveRequest failed: %v", err)
		}
		if approved.Status != models.TransferStatusApproved {
			t.Errorf("expected approved, got %s", approved.Status)
		}
		if approved.ReviewerID == nil || *approved.ReviewerID != targetFacilitator {
			t.Error("expected reviewer recorded")
		}
		moved, err := store.CircleStore.GetMembership(ctx, target.ID, requester)
		if err != nil {
			t.Fatalf("expected membership in target circle: %v", err)
		}
		if !moved.IsActive || moved.PaymentStatus != models.PaymentStatusPending {
			t.Errorf("expected active target row with pending payment, got active=%v status=%s",
				moved.IsActive, moved.PaymentStatus)
		}
		old, _ := store.CircleStore.GetMembership(ctx, source.ID, requester)
		if old.IsActive {
			t.Error("expected source membership deactivated")
		}
	})

	t.Run("Given target full at approval time When approved with execution Then request stays pending", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		targetFacilitator := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, targetFacilitator, models.CircleStatusActive, 2)
		seedMembership(store, source.ID, requester, true, models.PaymentStatusCurrent)
		req := seedRequest(store, requester, source.ID, target.ID, models.TransferStatusPending)
		// Circle fills up between request and approval.
		seedMembership(store, target.ID, uuid.New(), true, models.PaymentStatusCurrent)
		seedMembership(store, target.ID, uuid.New(), true, models.PaymentStatusCurrent)

		_, err := svc.ApproveRequest(ctx, req.ID, targetFacilitator, true, "")
		if apperr.KindOf(err) != apperr.KindCapacityExceeded {
			t.Fatalf("expected capacity error, got %v", err)
		}
		after, _ := store.GetRequest(ctx, req.ID)
		if after.Status != models.TransferStatusPending {
			t.Errorf("request must remain pending after failed execution, got %s", after.Status)
		}
		src, _ := store.CircleStore.GetMembership(ctx, source.ID, requester)
		if !src.IsActive {
			t.Error("source membership must remain active after failed execution")
		}
	})

	t.Run("Given reviewer who is not target facilitator When approved Then authorization error", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		sourceFacilitator := uuid.New()
		source := seedCircle(store, sourceFacilitator, models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		seedMembership(store, source.ID, requester, true, models.PaymentStatusCurrent)
		req := seedRequest(store, requester, source.ID, target.ID, models.TransferStatusPending)

		_, err := svc.ApproveRequest(ctx, req.ID, sourceFacilitator, true, "")
		if apperr.KindOf(err) != apperr.KindAuthorization {
			t.Fatalf("expected authorization error, got %v", err)
		}
	})

	t.Run("Given already-resolved request When approved Then invalid transition", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		targetFacilitator := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, targetFacilitator, models.CircleStatusActive, 10)
		req := seedRequest(store, requester, source.ID, target.ID, models.TransferStatusDenied)

		_, err := svc.ApproveRequest(ctx, req.ID, targetFacilitator, false, "")
		if apperr.KindOf(err) != apperr.KindInvalidTransition {
			t.Fatalf("expected invalid transition, got %v", err)
		}
	})

	t.Run("Given approval without execution When approved Then membership untouched", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		targetFacilitator := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, targetFacilitator, models.CircleStatusActive, 10)
		seedMembership(store, source.ID, requester, true, models.PaymentStatusCurrent)
		req := seedRequest(store, requester, source.ID, target.ID, models.TransferStatusPending)

		approved, err := svc.ApproveRequest(ctx, req.ID, targetFacilitator, false, "")
		if err != nil {
			t.Fatalf("ApproveRequest failed: %v", err)
		}
		if approved.Status != models.TransferStatusApproved {
			t.Errorf("expected approved, got %s", approved.Status)
		}
		if _, err := store.CircleStore.GetMembership(ctx, target.ID, requester); apperr.KindOf(err) != apperr.KindNotFound {
			t.Error("expected no target membership without execution")
		}
	})
}

// =============================================================================
// Test: DenyRequest / CancelRequest
// =============================================================================

func TestService_DenyRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("Given pending request When denied by target facilitator Then denied with notes", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		targetFacilitator := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, targetFacilitator, models.CircleStatusActive, 10)
		req := seedRequest(store, requester, source.ID, target.ID, models.TransferStatusPending)

		denied, err := svc.DenyRequest(ctx, req.ID, targetFacilitator, "circle is forming a waitlist")
		if err != nil {
			t.Fatalf("DenyRequest failed: %v", err)
		}
		if denied.Status != models.TransferStatusDenied {
			t.Errorf("expected denied, got %s", denied.Status)
		}
		if denied.ReviewNotes != "circle is forming a waitlist" {
			t.Errorf("expected notes recorded, got %q", denied.ReviewNotes)
		}
	})

	t.Run("Given reviewer who is not target facilitator When denied Then authorization error", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		req := seedRequest(store, uuid.New(), source.ID, target.ID, models.TransferStatusPending)

		_, err := svc.DenyRequest(ctx, req.ID, uuid.New(), "")
		if apperr.KindOf(err) != apperr.KindAuthorization {
			t.Fatalf("expected authorization error, got %v", err)
		}
	})
}

func TestService_CancelRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("Given pending request When cancelled by requester Then cancelled", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		req := seedRequest(store, requester, source.ID, target.ID, models.TransferStatusPending)

		cancelled, err := svc.CancelRequest(ctx, req.ID, requester)
		if err != nil {
			t.Fatalf("CancelRequest failed: %v", err)
		}
		if cancelled.Status != models.TransferStatusCancelled {
			t.Errorf("expected cancelled, got %s", cancelled.Status)
		}
	})

	t.Run("Given someone other than requester When cancelled Then authorization error", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		req := seedRequest(store, uuid.New(), source.ID, target.ID, models.TransferStatusPending)

		_, err := svc.CancelRequest(ctx, req.ID, uuid.New())
		if apperr.KindOf(err) != apperr.KindAuthorization {
			t.Fatalf("expected authorization error, got %v", err)
		}
	})

	t.Run("Given resolved request When cancelled Then invalid transition", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		target := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		req := seedRequest(store, requester, source.ID, target.ID, models.TransferStatusApproved)

		_, err := svc.CancelRequest(ctx, req.ID, requester)
		if apperr.KindOf(err) != apperr.KindInvalidTransition {
			t.Fatalf("expected invalid transition, got %v", err)
		}
	})
}

// =============================================================================
// Test: listings
// =============================================================================

func TestService_Listings(t *testing.T) {
	ctx := context.Background()

	t.Run("Given mixed requests When pending listed for facilitator Then only their pending ones returned", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		facilitator := uuid.New()
		mine := seedCircle(store, facilitator, models.CircleStatusActive, 10)
		other := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		seedRequest(store, uuid.New(), source.ID, mine.ID, models.TransferStatusPending)
		seedRequest(store, uuid.New(), source.ID, mine.ID, models.TransferStatusDenied)
		seedRequest(store, uuid.New(), source.ID, other.ID, models.TransferStatusPending)

		list, err := svc.ListPendingForFacilitator(ctx, facilitator)
		if err != nil {
			t.Fatalf("ListPendingForFacilitator failed: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 pending request, got %d", len(list))
		}
		if list[0].TargetCircleID != mine.ID {
			t.Error("expected request targeting the facilitator's circle")
		}
	})

	t.Run("Given requester with history When their requests listed Then all statuses returned", func(t *testing.T) {
		store := NewMockStore()
		svc := newTestService(store)
		requester := uuid.New()
		source := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		t1 := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		t2 := seedCircle(store, uuid.New(), models.CircleStatusActive, 10)
		seedRequest(store, requester, source.ID, t1.ID, models.TransferStatusCancelled)
		seedRequest(store, requester, source.ID, t2.ID, models.TransferStatusPending)
		seedRequest(store, uuid.New(), source.ID, t1.ID, models.TransferStatusPending)

		list, err := svc.ListForRequester(ctx, requester)
		if err != nil {
			t.Fatalf("ListForRequester failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 requests, got %d", len(list))
		}
	})
}
