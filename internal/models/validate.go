package models

import (
	"strings"
	"time"

	"github.com/harbor-circles/backend/pkg/apperr"
)

// Field length limits shared by create and update validation.
const (
	maxNameLen            = 100
	maxDescriptionLen     = 1000
	maxLocationNameLen    = 200
	maxLocationAddressLen = 500
	maxReasonLen          = 1000
	maxReviewNotesLen     = 1000
	maxSubscriptionRefLen = 255
)

// CircleAttrs are the caller-supplied circle fields validated before any
// mutation is committed. Pointer fields distinguish "absent" from "zero" for
// partial updates.
type CircleAttrs struct {
	Name            *string
	Description     *string
	CapacityMin     *int
	CapacityMax     *int
	LocationName    *string
	LocationAddress *string
	MeetingSchedule []byte
}

// ValidateCircleCreate checks required fields and bounds for circle creation.
func ValidateCircleCreate(a CircleAttrs) error {
	if a.Name == nil || strings.TrimSpace(*a.Name) == "" {
		return apperr.New(apperr.KindValidation, "name is required")
	}
	if a.CapacityMin == nil || a.CapacityMax == nil {
		return apperr.New(apperr.KindValidation, "capacity_min and capacity_max are required")
	}
	return validateCircleFields(a)
}

// ValidateCircleUpdate checks only the fields present in a partial update.
// Capacity bounds are validated against the merged values, so the caller must
// fill in the current value for whichever bound is absent.
func ValidateCircleUpdate(a CircleAttrs) error {
	if a.Name != nil && strings.TrimSpace(*a.Name) == "" {
		return apperr.New(apperr.KindValidation, "name must not be empty")
	}
	return validateCircleFields(a)
}

func validateCircleFields(a CircleAttrs) error {
	if a.Name != nil && len(*a.Name) > maxNameLen {
		return apperr.New(apperr.KindValidation, "name must be at most %d characters", maxNameLen)
	}
	if a.Description != nil && len(*a.Description) > maxDescriptionLen {
		return apperr.New(apperr.KindValidation, "description must be at most %d characters", maxDescriptionLen)
	}
	if a.LocationName != nil && len(*a.LocationName) > maxLocationNameLen {
		return apperr.New(apperr.KindValidation, "location name must be at most %d characters", maxLocationNameLen)
	}
	if a.LocationAddress != nil && len(*a.LocationAddress) > maxLocationAddressLen {
		return apperr.New(apperr.KindValidation, "location address must be at most %d characters", maxLocationAddressLen)
	}
	if a.CapacityMin != nil || a.CapacityMax != nil {
		if a.CapacityMin == nil || a.CapacityMax == nil {
			return apperr.New(apperr.KindValidation, "capacity bounds must be validated together")
		}
		if err := ValidateCapacity(*a.CapacityMin, *a.CapacityMax); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCapacity enforces 2 <= min <= max <= 10.
func ValidateCapacity(min, max int) error {
	if min < CapacityFloor || max > CapacityCeiling || min > max {
		return apperr.New(apperr.KindValidation,
			"capacity bounds must satisfy %d <= min <= max <= %d", CapacityFloor, CapacityCeiling)
	}
	return nil
}

// ValidateTransferReason checks the optional free-text reason length.
func ValidateTransferReason(reason string) error {
	if len(reason) > maxReasonLen {
		return apperr.New(apperr.KindValidation, "reason must be at most %d characters", maxReasonLen)
	}
	return nil
}

// ValidateReviewNotes checks the optional review notes length.
func ValidateReviewNotes(notes string) error {
	if len(notes) > maxReviewNotesLen {
		return apperr.New(apperr.KindValidation, "review notes must be at most %d characters", maxReviewNotesLen)
	}
	return nil
}

// ValidateSubscriptionRef checks the opaque gateway subscription reference.
func ValidateSubscriptionRef(ref string) error {
	if len(ref) > maxSubscriptionRefLen {
		return apperr.New(apperr.KindValidation, "subscription_ref must be at most %d characters", maxSubscriptionRefLen)
	}
	return nil
}

// ValidateNextPaymentDue rejects a due timestamp already in the past.
func ValidateNextPaymentDue(due *time.Time, now time.Time) error {
	if due != nil && due.Before(now) {
		return apperr.New(apperr.KindValidation, "next_payment_due must not be in the past")
	}
	return nil
}
