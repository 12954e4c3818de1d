package transfers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harbor-circles/backend/internal/circles"
	"github.com/harbor-circles/backend/internal/models"
	"github.com/harbor-circles/backend/pkg/apperr"
)

// Repository handles transfer request persistence.
type Repository struct {
	pool    *pgxpool.Pool
	q       circles.Querier
	circles circles.Store
}

// NewRepository creates a transfer request repository backed by a connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool, circles: circles.NewRepository(pool)}
}

// InTx runs fn against a transaction-scoped repository whose Circles() store
// shares the same transaction. Nested calls reuse the surrounding transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx Store) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{q: tx, circles: circles.NewTxRepository(tx)})
	})
}

// Circles returns the circle store bound to this repository's scope.
func (r *Repository) Circles() circles.Store {
	return r.circles
}

const requestColumns = `id, requester_id, source_circle_id, target_circle_id, reason, status,
	reviewer_id, reviewed_at, review_notes, created_at, updated_at`

func scanRequest(row pgx.Row) (*models.TransferRequest, error) {
	var t models.TransferRequest
	err := row.Scan(&t.ID, &t.RequesterID, &t.SourceCircleID, &t.TargetCircleID, &t.Reason, &t.Status,
		&t.ReviewerID, &t.ReviewedAt, &t.ReviewNotes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "transfer request not found")
		}
		return nil, err
	}
	return &t, nil
}

// InsertRequest inserts a new pending request. The partial unique index on
// (requester_id, target_circle_id) WHERE pending backstops the duplicate check
// under concurrency.
func (r *Repository) InsertRequest(ctx context.Context, t *models.TransferRequest) error {
	const q = `INSERT INTO transfer_requests (id, requester_id, source_circle_id, target_circle_id, reason, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	err := r.q.QueryRow(ctx, q, t.RequesterID, t.SourceCircleID, t.TargetCircleID, t.Reason, t.Status).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindDuplicateRequest, "a pending request to this circle already exists")
	}
	return err
}

// GetRequest returns a request by ID.
func (r *Repository) GetRequest(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error) {
	return scanRequest(r.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM transfer_requests WHERE id = $1`, id))
}

// GetRequestForUpdate returns a request with its row locked, serializing
// concurrent resolutions of the same request.
func (r *Repository) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error) {
	return scanRequest(r.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM transfer_requests WHERE id = $1 FOR UPDATE`, id))
}

// HasPendingRequest reports whether a pending request exists for (requester, target circle).
func (r *Repository) HasPendingRequest(ctx context.Context, requesterID, targetCircleID uuid.UUID) (bool, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM transfer_requests WHERE requester_id = $1 AND target_circle_id = $2 AND status = 'pending'`,
		requesterID, targetCircleID).Scan(&n)
	return n > 0, err
}

// RecordReview resolves a request (approved or denied) with reviewer, notes and timestamp.
func (r *Repository) RecordReview(ctx context.Context, id uuid.UUID, status models.TransferStatus, reviewerID uuid.UUID, notes string) (*models.TransferRequest, error) {
	const q = `UPDATE transfer_requests
		SET status = $1, reviewer_id = $2, review_notes = $3, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $4
		RETURNING ` + requestColumns
	return scanRequest(r.q.QueryRow(ctx, q, status, reviewerID, notes, id))
}

// MarkCancelled sets a request to cancelled without touching review fields.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error) {
	const q = `UPDATE transfer_requests SET status = 'cancelled', updated_at = NOW() WHERE id = $1
		RETURNING ` + requestColumns
	return scanRequest(r.q.QueryRow(ctx, q, id))
}

// ListPendingForFacilitator returns pending requests targeting circles the
// facilitator owns, oldest first.
func (r *Repository) ListPendingForFacilitator(ctx context.Context, facilitatorID uuid.UUID) ([]models.TransferRequest, error) {
	const q = `SELECT t.id, t.requester_id, t.source_circle_id, t.target_circle_id, t.reason, t.status,
			t.reviewer_id, t.reviewed_at, t.review_notes, t.created_at, t.updated_at
		FROM transfer_requests t
		INNER JOIN circles c ON c.id = t.target_circle_id
		WHERE c.facilitator_id = $1 AND t.status = 'pending'
		ORDER BY t.created_at ASC`
	return r.queryRequests(ctx, q, facilitatorID)
}

// ListForRequester returns all requests created by a user, newest first.
func (r *Repository) ListForRequester(ctx context.Context, requesterID uuid.UUID) ([]models.TransferRequest, error) {
	const q = `SELECT ` + requestColumns + ` FROM transfer_requests WHERE requester_id = $1 ORDER BY created_at DESC`
	return r.queryRequests(ctx, q, requesterID)
}

func (r *Repository) queryRequests(ctx context.Context, q string, args ...any) ([]models.TransferRequest, error) {
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.TransferRequest
	for rows.Next() {
		var t models.TransferRequest
		if err := rows.Scan(&t.ID, &t.RequesterID, &t.SourceCircleID, &t.TargetCircleID, &t.Reason, &t.Status,
			&t.ReviewerID, &t.ReviewedAt, &t.ReviewNotes, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
