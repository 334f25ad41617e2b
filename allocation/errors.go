/*
errors.go - Error taxonomy for the allocation core

ERROR KINDS:
  1. Validation         - malformed or missing input; always returned as error
  2. Illegal transition - a state-machine guard failed
  3. Conflict           - expected business refusal (already applied, no
                          units left, unit already booked)
  4. Not found          - entity lookup failed
  5. Forbidden          - ownership mismatch on withdrawal
  6. Inventory          - ledger refused a reservation

PROPAGATION:
  Entity methods return these errors directly. The Service is the boundary:
  structural errors come back as error, refusals come back inside Result
  with a nil error. See service.go for which operation surfaces what.

USAGE:
  if errors.Is(err, allocation.ErrNotFound) { ... }

  var ite *allocation.IllegalTransitionError
  if errors.As(res.Refusal, &ite) { log(ite.Status) }
*/
package allocation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInventory         = errors.New("inventory unavailable")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IllegalTransitionError carries the state that failed the guard.
type IllegalTransitionError struct {
	Op                  Op
	ApplicationID       ApplicationID
	Status              Status
	WithdrawalRequested bool
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot %s application %s: status %s, withdrawal requested %t",
		e.Op, e.ApplicationID, e.Status, e.WithdrawalRequested)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// ConflictReason names the business rule that refused an operation.
type ConflictReason string

const (
	ConflictAlreadyApplied ConflictReason = "already_applied"
	ConflictNoUnitsLeft    ConflictReason = "no_units_left"
	ConflictUnitTaken      ConflictReason = "unit_already_booked"
)

// ConflictError is an expected, user-facing refusal.
type ConflictError struct {
	Reason     ConflictReason
	ProjectID  ProjectID
	FlatType   FlatType
	UnitNumber string

	// Set for ConflictAlreadyApplied: the application that blocks the request.
	ExistingID ApplicationID
}

func (e *ConflictError) Error() string {
	switch e.Reason {
	case ConflictAlreadyApplied:
		return fmt.Sprintf("already applied: active application %s", e.ExistingID)
	case ConflictNoUnitsLeft:
		return fmt.Sprintf("no units left: %s in project %s", e.FlatType, e.ProjectID)
	case ConflictUnitTaken:
		return fmt.Sprintf("unit %s already booked in project %s", e.UnitNumber, e.ProjectID)
	}
	return string(e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string // "project", "application", "applicant"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ForbiddenError reports an applicant acting on someone else's application.
type ForbiddenError struct {
	ApplicantID   ApplicantID
	ApplicationID ApplicationID
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("application %s does not belong to applicant %s", e.ApplicationID, e.ApplicantID)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// InventoryError is returned by the ledger when a flat type is not offered
// or has no units left to reserve.
type InventoryError struct {
	ProjectID ProjectID
	FlatType  FlatType
	Available int
	Offered   bool
}

func (e *InventoryError) Error() string {
	if !e.Offered {
		return fmt.Sprintf("project %s does not offer %s", e.ProjectID, e.FlatType)
	}
	return fmt.Sprintf("project %s has %d %s units available", e.ProjectID, e.Available, e.FlatType)
}

func (e *InventoryError) Unwrap() error { return ErrInventory }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func IsIllegalTransition(err error) bool { return errors.Is(err, ErrIllegalTransition) }
func IsConflict(err error) bool          { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsForbidden(err error) bool         { return errors.Is(err, ErrForbidden) }

// ConflictReasonOf returns the reason of a ConflictError anywhere in err's chain.
func ConflictReasonOf(err error) (ConflictReason, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}
