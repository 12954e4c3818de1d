package circles

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/apperr"
)

// MockStore is an in-memory Store. InTx snapshots state and restores it when
// fn fails, so tests can assert rollback behavior without a database.
type MockStore struct {
	Circles     map[uuid.UUID]*models.Circle
	Memberships map[uuid.UUID]*models.Membership
}

func NewMockStore() *MockStore {
	return &MockStore{
		Circles:     make(map[uuid.UUID]*models.Circle),
		Memberships: make(map[uuid.UUID]*models.Membership),
	}
}

func (s *MockStore) snapshot() (map[uuid.UUID]*models.Circle, map[uuid.UUID]*models.Membership) {
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

func (s *MockStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	cs, ms := s.snapshot()
	if err := fn(s); err != nil {
		s.Circles, s.Memberships = cs, ms
		return err
	}
	return nil
}

func (s *MockStore) InsertCircle(ctx context.Context, c *models.Circle) error {
	c.ID = uuid.New()
	c.IsActive = true
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	s.Circles[c.ID] = &cp
	return nil
}

func (s *MockStore) GetCircle(ctx context.Context, id uuid.UUID) (*models.Circle, error) {
	c, ok := s.Circles[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "circle not found")
	}
	cp := *c
	return &cp, nil
}

func (s *MockStore) GetCircleForUpdate(ctx context.Context, id uuid.UUID) (*models.Circle, error) {
	return s.GetCircle(ctx, id)
}

func (s *MockStore) UpdateCircle(ctx context.Context, c *models.Circle) error {
	if _, ok := s.Circles[c.ID]; !ok {
		return apperr.New(apperr.KindNotFound, "circle not found")
	}
	c.UpdatedAt = time.Now()
	cp := *c
	s.Circles[c.ID] = &cp
	return nil
}

func (s *MockStore) ListCircles(ctx context.Context) ([]models.CircleWithCount, error) {
	var list []models.CircleWithCount
	for id, c := range s.Circles {
		count, _ := s.CountActiveMembers(ctx, id)
		list = append(list, models.CircleWithCount{Circle: *c, ActiveMembers: count})
	}
	return list, nil
}

func (s *MockStore) CountActiveMembers(ctx context.Context, circleID uuid.UUID) (int, error) {
	n := 0
	for _, m := range s.Memberships {
		if m.CircleID == circleID && m.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *MockStore) GetMembership(ctx context.Context, circleID, userID uuid.UUID) (*models.Membership, error) {
	for _, m := range s.Memberships {
		if m.CircleID == circleID && m.UserID == userID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "membership not found")
}

func (s *MockStore) InsertMembership(ctx context.Context, m *models.Membership) error {
	for _, existing := range s.Memberships {
		if existing.CircleID == m.CircleID && existing.UserID == m.UserID {
			return apperr.New(apperr.KindDuplicateMembership, "member is already active in this circle")
		}
	}
	m.ID = uuid.New()
	m.IsActive = true
	m.JoinedAt = time.Now()
	m.UpdatedAt = m.JoinedAt
	cp := *m
	s.Memberships[m.ID] = &cp
	return nil
}

func (s *MockStore) ReactivateMembership(ctx context.Context, id uuid.UUID, status models.PaymentStatus) (*models.Membership, error) {
	m, ok := s.Memberships[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "membership not found")
	}
	m.IsActive = true
	m.PaymentStatus = status
	m.SubscriptionRef = ""
	m.NextPaymentDue = nil
	m.JoinedAt = time.Now()
	m.UpdatedAt = m.JoinedAt
	cp := *m
	return &cp, nil
}

func (s *MockStore) DeactivateMembership(ctx context.Context, id uuid.UUID) error {
	if m, ok := s.Memberships[id]; ok && m.IsActive {
		m.IsActive = false
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MockStore) UpdateMembershipPayment(ctx context.Context, id uuid.UUID, update PaymentUpdate) (*models.Membership, error) {
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
	m.UpdatedAt = time.Now()
	cp := *m
	return &cp, nil
}

func (s *MockStore) ListMembers(ctx context.Context, circleID uuid.UUID) ([]models.CircleMember, error) {
	var list []models.CircleMember
	for _, m := range s.Memberships {
		if m.CircleID != circleID {
			continue
		}
		list = append(list, models.CircleMember{
			ID:            m.ID,
			UserID:        m.UserID,
			IsActive:      m.IsActive,
			PaymentStatus: m.PaymentStatus,
			JoinedAt:      m.JoinedAt,
		})
	}
	return list, nil
}

func (s *MockStore) ListMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error) {
	var list []models.Membership
	for _, m := range s.Memberships {
		if m.UserID == userID {
			list = append(list, *m)
		}
	}
	return list, nil
}

// seedCircle inserts a circle directly, bypassing service validation.
func seedCircle(s *MockStore, facilitatorID uuid.UUID, status models.CircleStatus, capMin, capMax int) *models.Circle {
	c := &models.Circle{
		ID:            uuid.New(),
		Name:          "Test Circle",
		FacilitatorID: facilitatorID,
		CapacityMin:   capMin,
		CapacityMax:   capMax,
		Status:        status,
		IsActive:      status != models.CircleStatusClosed,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.Circles[c.ID] = c
	return c
}

// seedMembership inserts a ledger row directly.
func seedMembership(s *MockStore, circleID, userID uuid.UUID, active bool, status models.PaymentStatus) *models.Membership {
	m := &models.Membership{
		ID:            uuid.New(),
		CircleID:      circleID,
		UserID:        userID,
		IsActive:      active,
		PaymentStatus: status,
		JoinedAt:      time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.Memberships[m.ID] = m
	return m
}
