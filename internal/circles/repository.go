package circles

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/apperr"
)

// Querier is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles circle and membership persistence.
type Repository struct {
	pool *pgxpool.Pool
	q    Querier
}

// NewRepository creates a circle repository backed by a connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// NewTxRepository creates a repository scoped to an existing transaction.
func NewTxRepository(q Querier) *Repository {
	return &Repository{q: q}
}

// InTx runs fn against a transaction-scoped repository. Nested calls reuse the
// surrounding transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx Store) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{q: tx})
	})
}

const circleColumns = `id, name, description, facilitator_id, capacity_min, capacity_max,
	location_name, location_address, meeting_schedule, status, is_active, created_at, updated_at`

func scanCircle(row pgx.Row) (*models.Circle, error) {
	var c models.Circle
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.FacilitatorID, &c.CapacityMin, &c.CapacityMax,
		&c.LocationName, &c.LocationAddress, &c.MeetingSchedule, &c.Status, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "circle not found")
		}
		return nil, err
	}
	return &c, nil
}

// InsertCircle inserts a new circle.
func (r *Repository) InsertCircle(ctx context.Context, c *models.Circle) error {
	const q = `INSERT INTO circles (id, name, description, facilitator_id, capacity_min, capacity_max,
			location_name, location_address, meeting_schedule, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, is_active, created_at, updated_at`
	return r.q.QueryRow(ctx, q, c.Name, c.Description, c.FacilitatorID, c.CapacityMin, c.CapacityMax,
		c.LocationName, c.LocationAddress, c.MeetingSchedule, c.Status).
		Scan(&c.ID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
}

// GetCircle returns a circle by ID.
func (r *Repository) GetCircle(ctx context.Context, id uuid.UUID) (*models.Circle, error) {
	return scanCircle(r.q.QueryRow(ctx, `SELECT `+circleColumns+` FROM circles WHERE id = $1`, id))
}

// GetCircleForUpdate returns a circle by ID with its row locked for the
// duration of the surrounding transaction. Capacity checks and the inserts
// they guard serialize on this lock.
func (r *Repository) GetCircleForUpdate(ctx context.Context, id uuid.UUID) (*models.Circle, error) {
	return scanCircle(r.q.QueryRow(ctx, `SELECT `+circleColumns+` FROM circles WHERE id = $1 FOR UPDATE`, id))
}

// UpdateCircle writes the mutable circle fields and bumps updated_at.
func (r *Repository) UpdateCircle(ctx context.Context, c *models.Circle) error {
	const q = `UPDATE circles SET name = $1, description = $2, capacity_min = $3, capacity_max = $4,
			location_name = $5, location_address = $6, meeting_schedule = $7, status = $8, is_active = $9,
			updated_at = NOW()
		WHERE id = $10
		RETURNING updated_at`
	return r.q.QueryRow(ctx, q, c.Name, c.Description, c.CapacityMin, c.CapacityMax,
		c.LocationName, c.LocationAddress, c.MeetingSchedule, c.Status, c.IsActive, c.ID).
		Scan(&c.UpdatedAt)
}

// ListCircles returns all circles with their active member counts.
func (r *Repository) ListCircles(ctx context.Context) ([]models.CircleWithCount, error) {
	const q = `SELECT c.id, c.name, c.description, c.facilitator_id, c.capacity_min, c.capacity_max,
			c.location_name, c.location_address, c.meeting_schedule, c.status, c.is_active, c.created_at, c.updated_at,
			COUNT(m.id) FILTER (WHERE m.is_active)
		FROM circles c
		LEFT JOIN memberships m ON m.circle_id = c.id
		GROUP BY c.id
		ORDER BY c.created_at DESC`
	rows, err := r.q.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.CircleWithCount
	for rows.Next() {
		var c models.CircleWithCount
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.FacilitatorID, &c.CapacityMin, &c.CapacityMax,
			&c.LocationName, &c.LocationAddress, &c.MeetingSchedule, &c.Status, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
			&c.ActiveMembers); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// CountActiveMembers returns the number of active ledger rows for a circle.
func (r *Repository) CountActiveMembers(ctx context.Context, circleID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM memberships WHERE circle_id = $1 AND is_active`, circleID).Scan(&n)
	return n, err
}

const membershipColumns = `id, circle_id, user_id, is_active, payment_status, subscription_ref, next_payment_due, joined_at, updated_at`

func scanMembership(row pgx.Row) (*models.Membership, error) {
	var m models.Membership
	err := row.Scan(&m.ID, &m.CircleID, &m.UserID, &m.IsActive, &m.PaymentStatus,
		&m.SubscriptionRef, &m.NextPaymentDue, &m.JoinedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "membership not found")
		}
		return nil, err
	}
	return &m, nil
}

// GetMembership returns the ledger row for (circle, member), active or not.
func (r *Repository) GetMembership(ctx context.Context, circleID, userID uuid.UUID) (*models.Membership, error) {
	return scanMembership(r.q.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE circle_id = $1 AND user_id = $2`, circleID, userID))
}

// InsertMembership inserts a new active ledger row.
func (r *Repository) InsertMembership(ctx context.Context, m *models.Membership) error {
	const q = `INSERT INTO memberships (id, circle_id, user_id, payment_status, subscription_ref, next_payment_due)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, is_active, joined_at, updated_at`
	err := r.q.QueryRow(ctx, q, m.CircleID, m.UserID, m.PaymentStatus, m.SubscriptionRef, m.NextPaymentDue).
		Scan(&m.ID, &m.IsActive, &m.JoinedAt, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindDuplicateMembership, "member already has a ledger row in this circle")
	}
	return err
}

// ReactivateMembership flips an inactive row back to active with a fresh
// payment status and join time. Used when a member rejoins a circle they left.
func (r *Repository) ReactivateMembership(ctx context.Context, id uuid.UUID, status models.PaymentStatus) (*models.Membership, error) {
	const q = `UPDATE memberships
		SET is_active = TRUE, payment_status = $1, subscription_ref = '', next_payment_due = NULL,
			joined_at = NOW(), updated_at = NOW()
		WHERE id = $2
		RETURNING ` + membershipColumns
	return scanMembership(r.q.QueryRow(ctx, q, status, id))
}

// DeactivateMembership sets is_active = FALSE. Already-inactive rows are a
// no-op, preserving removeMember idempotence.
func (r *Repository) DeactivateMembership(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx,
		`UPDATE memberships SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	return err
}

// UpdateMembershipPayment writes the payment status and any provided gateway fields.
func (r *Repository) UpdateMembershipPayment(ctx context.Context, id uuid.UUID, update PaymentUpdate) (*models.Membership, error) {
	const q = `UPDATE memberships
		SET payment_status = $1,
			subscription_ref = COALESCE($2, subscription_ref),
			next_payment_due = COALESCE($3, next_payment_due),
			updated_at = NOW()
		WHERE id = $4
		RETURNING ` + membershipColumns
	return scanMembership(r.q.QueryRow(ctx, q, update.Status, update.SubscriptionRef, update.NextPaymentDue, id))
}

// ListMembers returns a circle's ledger rows joined with user details.
func (r *Repository) ListMembers(ctx context.Context, circleID uuid.UUID) ([]models.CircleMember, error) {
	const q = `SELECT m.id, m.user_id, u.email, u.full_name, m.is_active, m.payment_status, m.joined_at
		FROM memberships m
		INNER JOIN users u ON u.id = m.user_id
		WHERE m.circle_id = $1
		ORDER BY m.joined_at ASC`
	rows, err := r.q.Query(ctx, q, circleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.CircleMember
	for rows.Next() {
		var m models.CircleMember
		if err := rows.Scan(&m.ID, &m.UserID, &m.Email, &m.FullName, &m.IsActive, &m.PaymentStatus, &m.JoinedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// ListMembershipsForUser returns all ledger rows for a user, newest first.
func (r *Repository) ListMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 ORDER BY joined_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.ID, &m.CircleID, &m.UserID, &m.IsActive, &m.PaymentStatus,
			&m.SubscriptionRef, &m.NextPaymentDue, &m.JoinedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
