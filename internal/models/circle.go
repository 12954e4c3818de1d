package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CircleStatus is the lifecycle state of a circle.
type CircleStatus string

const (
	CircleStatusForming CircleStatus = "forming"
	CircleStatusActive  CircleStatus = "active"
	CircleStatusPaused  CircleStatus = "paused"
	CircleStatusClosed  CircleStatus = "closed"
)

// Capacity bounds for all circles.
const (
	CapacityFloor   = 2
	CapacityCeiling = 10
)

// circleStatusEdges declares the legal circle status transitions once.
// Closed has no outgoing edges; closure is the deletion-equivalent.
var circleStatusEdges = map[CircleStatus][]CircleStatus{
	CircleStatusForming: {CircleStatusActive},
	CircleStatusActive:  {CircleStatusPaused, CircleStatusClosed},
	CircleStatusPaused:  {CircleStatusActive, CircleStatusClosed},
	CircleStatusClosed:  {},
}

// CanTransitionTo reports whether the status graph permits s -> target.
func (s CircleStatus) CanTransitionTo(target CircleStatus) bool {
	for _, next := range circleStatusEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known circle status.
func (s CircleStatus) Valid() bool {
	switch s {
	case CircleStatusForming, CircleStatusActive, CircleStatusPaused, CircleStatusClosed:
		return true
	}
	return false
}

// Circle represents a bounded-capacity group with a single facilitator.
type Circle struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	FacilitatorID   uuid.UUID       `json:"facilitator_id"`
	CapacityMin     int             `json:"capacity_min"`
	CapacityMax     int             `json:"capacity_max"`
	LocationName    string          `json:"location_name,omitempty"`
	LocationAddress string          `json:"location_address,omitempty"`
	MeetingSchedule json.RawMessage `json:"meeting_schedule,omitempty"`
	Status          CircleStatus    `json:"status"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CircleWithCount is a circle plus its active member count for list/detail views.
type CircleWithCount struct {
	Circle
	ActiveMembers int `json:"active_members"`
}
