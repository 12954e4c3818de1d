package models

import (
	"time"

	"github.com/google/uuid"
)

// TransferStatus is the lifecycle state of a transfer request.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusApproved  TransferStatus = "approved"
	TransferStatusDenied    TransferStatus = "denied"
	TransferStatusCancelled TransferStatus = "cancelled"
)

// transferStatusEdges declares the legal request transitions once.
// Pending is the only non-terminal state; there is no path back to it.
var transferStatusEdges = map[TransferStatus][]TransferStatus{
	TransferStatusPending:   {TransferStatusApproved, TransferStatusDenied, TransferStatusCancelled},
	TransferStatusApproved:  {},
	TransferStatusDenied:    {},
	TransferStatusCancelled: {},
}

// CanTransitionTo reports whether the request status graph permits s -> target.
func (s TransferStatus) CanTransitionTo(target TransferStatus) bool {
	for _, next := range transferStatusEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing edges.
func (s TransferStatus) Terminal() bool {
	return len(transferStatusEdges[s]) == 0
}

// TransferRequest is a member-initiated, facilitator-gated request to move an
// active membership from one circle to another. It references circles and
// memberships but never mutates them directly.
type TransferRequest struct {
	ID             uuid.UUID      `json:"id"`
	RequesterID    uuid.UUID      `json:"requester_id"`
	SourceCircleID uuid.UUID      `json:"source_circle_id"`
	TargetCircleID uuid.UUID      `json:"target_circle_id"`
	Reason         string         `json:"reason,omitempty"`
	Status         TransferStatus `json:"status"`
	ReviewerID     *uuid.UUID     `json:"reviewer_id,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty"`
	ReviewNotes    string         `json:"review_notes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
