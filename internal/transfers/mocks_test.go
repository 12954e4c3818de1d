package transfers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/harbor-circles/backend/internal/circles"
	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/apperr"
)

// MockStore is an in-memory Store covering both the transfer request table and
// the circle store the approve-and-execute path reaches through Circles().
// InTx snapshots everything and restores it when fn fails, so tests can assert
// that a failed execution leaves the request pending.
type MockStore struct {
	Requests    map[uuid.UUID]*models.TransferRequest
	CircleStore *mockCircleStore
}

func NewMockStore() *MockStore {
	return &MockStore{
		Requests: make(map[uuid.UUID]*models.TransferRequest),
		CircleStore: &mockCircleStore{
			Circles:     make(map[uuid.UUID]*models.Circle),
			Memberships: make(map[uuid.UUID]*models.Membership),
		},
	}
}

func (s *MockStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	reqs := make(map[uuid.UUID]*models.TransferRequest, len(s.Requests))
	for id, r := range s.Requests {
		cp := *r
		reqs[id] = &cp
	}
	cs, ms := s.CircleStore.snapshot()
	if err := fn(s); err != nil {
		s.Requests = reqs
		s.CircleStore.Circles, s.CircleStore.Memberships = cs, ms
		return err
	}
	return nil
}

func (s *MockStore) Circles() circles.Store {
	return s.CircleStore
}

func (s *MockStore) InsertRequest(ctx context.Context, t *models.TransferRequest) error {
	for _, existing := range s.Requests {
		if existing.RequesterID == t.RequesterID && existing.TargetCircleID == t.TargetCircleID &&
			existing.Status == models.TransferStatusPending {
			return apperr.New(apperr.KindDuplicateRequest, "a pending request to this circle already exists")
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	s.Requests[t.ID] = &cp
	return nil
}

func (s *MockStore) GetRequest(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error) {
	r, ok := s.Requests[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "transfer request not found")
	}
	cp := *r
	return &cp, nil
}

func (s *MockStore) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error) {
	return s.GetRequest(ctx, id)
}

func (s *MockStore) HasPendingRequest(ctx context.Context, requesterID, targetCircleID uuid.UUID) (bool, error) {
	for _, r := range s.Requests {
		if r.RequesterID == requesterID && r.TargetCircleID == targetCircleID && r.Status == models.TransferStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *MockStore) RecordReview(ctx context.Context, id uuid.UUID, status models.TransferStatus, reviewerID uuid.UUID, notes string) (*models.TransferRequest, error) {
	r, ok := s.Requests[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "transfer request not found")
	}
	now := time.Now()
	r.Status = status
	r.ReviewerID = &reviewerID
	r.ReviewedAt = &now
	r.ReviewNotes = notes
	r.UpdatedAt = now
	cp := *r
	return &cp, nil
}

func (s *MockStore) MarkCancelled(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error) {
	r, ok := s.Requests[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "transfer request not found")
	}
	r.Status = models.TransferStatusCancelled
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (s *MockStore) ListPendingForFacilitator(ctx context.Context, facilitatorID uuid.UUID) ([]models.TransferRequest, error) {
	var list []models.TransferRequest
	for _, r := range s.Requests {
		if r.Status != models.TransferStatusPending {
			continue
		}
		c, ok := s.CircleStore.Circles[r.TargetCircleID]
		if ok && c.FacilitatorID == facilitatorID {
			list = append(list, *r)
		}
	}
	return list, nil
}

func (s *MockStore) ListForRequester(ctx context.Context, requesterID uuid.UUID) ([]models.TransferRequest, error) {
	var list []models.TransferRequest
	for _, r := range s.Requests {
		if r.RequesterID == requesterID {
			list = append(list, *r)
		}
	}
	return list, nil
}

// mockCircleStore is the circle half of the mock, satisfying circles.Store.
type mockCircleStore struct {
	Circles     map[uuid.UUID]*models.Circle
	Memberships map[uuid.UUID]*models.Membership
}

func (s *mockCircleStore) snapshot() (map[uuid.UUID]*models.Circle, map[uuid.UUID]*models.Membership) {
	cs := make(map[uuid.UUID]*models.Circle, len(s.Circles))
	for id, c := range s.Circles {
		cp := *c
		cs[id] = &cp
	}
	ms := make(map[uuid.UUID]*models.Membership, len(s.Memberships))
	for id, m := range s.Memberships {
		cp := *m
		ms[id] = &cp
	}
	return cs, ms
}

func (s *mockCircleStore) InTx(ctx context.Context, fn func(tx circles.Store) error) error {
	cs, ms := s.snapshot()
	if err := fn(s); err != nil {
		s.Circles, s.Memberships = cs, ms
		return err
	}
	return nil
}

func (s *mockCircleStore) InsertCircle(ctx context.Context, c *models.Circle) error {
	c.ID = uuid.New()
	c.IsActive = true
	cp := *c
	s.Circles[c.ID] = &cp
	return nil
}

func (s *mockCircleStore) GetCircle(ctx context.Context, id uuid.UUID) (*models.Circle, error) {
	c, ok := s.Circles[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "circle not found")
	}
	cp := *c
	return &cp, nil
}

func (s *mockCircleStore) GetCircleForUpdate(ctx context.Context, id uuid.UUID) (*models.Circle, error) {
	return s.GetCircle(ctx, id)
}

func (s *mockCircleStore) UpdateCircle(ctx context.Context, c *models.Circle) error {
	cp := *c
	s.Circles[c.ID] = &cp
	return nil
}

func (s *mockCircleStore) ListCircles(ctx context.Context) ([]models.CircleWithCount, error) {
	var list []models.CircleWithCount
	for id, c := range s.Circles {
		count, _ := s.CountActiveMembers(ctx, id)
		list = append(list, models.CircleWithCount{Circle: *c, ActiveMembers: count})
	}
	return list, nil
}

func (s *mockCircleStore) CountActiveMembers(ctx context.Context, circleID uuid.UUID) (int, error) {
	n := 0
	for _, m := range s.Memberships {
		if m.CircleID == circleID && m.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *mockCircleStore) GetMembership(ctx context.Context, circleID, userID uuid.UUID) (*models.Membership, error) {
	for _, m := range s.Memberships {
		if m.CircleID == circleID && m.UserID == userID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "membership not found")
}

func (s *mockCircleStore) InsertMembership(ctx context.Context, m *models.Membership) error {
	for _, existing := range s.Memberships {
		if existing.CircleID == m.CircleID && existing.UserID == m.UserID {
			return apperr.New(apperr.KindDuplicateMembership, "member is already active in this circle")
		}
	}
	m.ID = uuid.New()
	m.IsActive = true
	m.JoinedAt = time.Now()
	cp := *m
	s.Memberships[m.ID] = &cp
	return nil
}

func (s *mockCircleStore) ReactivateMembership(ctx context.Context, id uuid.UUID, status models.PaymentStatus) (*models.Membership, error) {
	m, ok := s.Memberships[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "membership not found")
	}
	m.IsActive = true
	m.PaymentStatus = status
	m.SubscriptionRef = ""
	m.NextPaymentDue = nil
	m.JoinedAt = time.Now()
	cp := *m
	return &cp, nil
}

func (s *mockCircleStore) DeactivateMembership(ctx context.Context, id uuid.UUID) error {
	if m, ok := s.Memberships[id]; ok && m.IsActive {
		m.IsActive = false
	}
	return nil
}

func (s *mockCircleStore) UpdateMembershipPayment(ctx context.Context, id uuid.UUID, update circles.PaymentUpdate) (*models.Membership, error) {
	m, ok := s.Memberships[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "membership not found")
	}
	m.PaymentStatus = update.Status
	if update.SubscriptionRef != nil {
		m.SubscriptionRef = *update.SubscriptionRef
	}
	if update.NextPaymentDue != nil {
		m.NextPaymentDue = update.NextPaymentDue
	}
	cp := *m
	return &cp, nil
}

func (s *mockCircleStore) ListMembers(ctx context.Context, circleID uuid.UUID) ([]models.CircleMember, error) {
	var list []models.CircleMember
	for _, m := range s.Memberships {
		if m.CircleID == circleID {
			list = append(list, models.CircleMember{
				ID:            m.ID,
				UserID:        m.UserID,
				IsActive:      m.IsActive,
				PaymentStatus: m.PaymentStatus,
				JoinedAt:      m.JoinedAt,
			})
		}
	}
	return list, nil
}

func (s *mockCircleStore) ListMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error) {
	var list []models.Membership
	for _, m := range s.Memberships {
		if m.UserID == userID {
			list = append(list, *m)
		}
	}
	return list, nil
}

func seedCircle(s *MockStore, facilitatorID uuid.UUID, status models.CircleStatus, capMax int) *models.Circle {
	c := &models.Circle{
		ID:            uuid.New(),
		Name:          "Test Circle",
		FacilitatorID: facilitatorID,
		CapacityMin:   2,
		CapacityMax:   capMax,
		Status:        status,
		IsActive:      status != models.CircleStatusClosed,
	}
	s.CircleStore.Circles[c.ID] = c
	return c
}

func seedMembership(s *MockStore, circleID, userID uuid.UUID, active bool, status models.PaymentStatus) *models.Membership {
	m := &models.Membership{
		ID:            uuid.New(),
		CircleID:      circleID,
		UserID:        userID,
		IsActive:      active,
		PaymentStatus: status,
		JoinedAt:      time.Now(),
	}
	s.CircleStore.Memberships[m.ID] = m
	return m
}

func seedRequest(s *MockStore, requesterID, sourceID, targetID uuid.UUID, status models.TransferStatus) *models.TransferRequest {
	r := &models.TransferRequest{
		ID:             uuid.New(),
		RequesterID:    requesterID,
		SourceCircleID: sourceID,
		TargetCircleID: targetID,
		Status:         status,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	s.Requests[r.ID] = r
	return r
}
