/*
Package allocation implements the housing application and allocation core.

PURPOSE:
  Applicants apply to projects that offer a fixed inventory of flat types.
  Staff approve or reject applications; approved applications are booked
  against a physical unit, permanently consuming one unit of inventory.
  This package owns the rules; it never performs its own I/O. Entities are
  loaded and saved through the Store interface supplied by the caller.

KEY CONCEPTS:
  - Project:     inventory ledger per flat type (count + unit price)
  - Application: status state machine with an orthogonal withdrawal flag
  - Eligibility: pure checks for project windows, flat types, age, conflicts
  - Service:     the only entry point callers use; composes the above under
                 per-project and per-applicant locks

FILES:
  types.go:       identifiers, flat types, applicants
  inventory.go:   Project and its unit inventory
  application.go: Application state machine
  eligibility.go: eligibility policy
  service.go:     allocation service
  store.go:       persistence interfaces
  errors.go:      error taxonomy

SEE ALSO:
  - allocation/store/memory.go: in-memory Store for tests
  - store/sqlite/sqlite.go: durable Store
*/
package allocation

import (
	"fmt"
	"strings"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProjectID string
type ApplicationID string
type ReceiptID string

// ApplicantID is the applicant's NRIC.
type ApplicantID string

// StaffID identifies a manager or officer acting on an application.
type StaffID string

// =============================================================================
// FLAT TYPE - Closed set of unit categories
// =============================================================================

type FlatType string

const (
	TwoRoom   FlatType = "TWO_ROOM"
	ThreeRoom FlatType = "THREE_ROOM"
)

// FlatTypes lists every flat type in display order.
var FlatTypes = []FlatType{TwoRoom, ThreeRoom}

func (f FlatType) Valid() bool {
	return f == TwoRoom || f == ThreeRoom
}

// ParseFlatType accepts the canonical names plus "2-room"/"3-room" spellings.
func ParseFlatType(s string) (FlatType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case "TWO_ROOM", "2_ROOM", "2_ROOMS":
		return TwoRoom, nil
	case "THREE_ROOM", "3_ROOM", "3_ROOMS":
		return ThreeRoom, nil
	}
	return "", &ValidationError{Field: "flat_type", Reason: fmt.Sprintf("unknown flat type %q", s)}
}

// =============================================================================
// APPLICANT - Owned by the caller, read-only here
// =============================================================================

type MaritalStatus string

const (
	Single   MaritalStatus = "SINGLE"
	Married  MaritalStatus = "MARRIED"
	Divorced MaritalStatus = "DIVORCED"
)

func (m MaritalStatus) Valid() bool {
	return m == Single || m == Married || m == Divorced
}

// Unmarried reports whether the status restricts the applicant to two-room flats.
func (m MaritalStatus) Unmarried() bool {
	return m == Single || m == Divorced
}

func ParseMaritalStatus(s string) (MaritalStatus, error) {
	m := MaritalStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &ValidationError{Field: "marital_status", Reason: fmt.Sprintf("unknown marital status %q", s)}
	}
	return m, nil
}

// Applicant is the identity of someone applying for a flat.
type Applicant struct {
	ID            ApplicantID
	Name          string
	Age           int
	MaritalStatus MaritalStatus

	// Populated by the caller after successful submissions and bookings.
	AppliedProjectIDs []ProjectID
	BookedProjectID   ProjectID // empty when nothing is booked
	BookedFlatType    FlatType
}

// RecordApplication appends projectID to the applied-projects list once.
func (a *Applicant) RecordApplication(projectID ProjectID) {
	for _, id := range a.AppliedProjectIDs {
		if id == projectID {
			return
		}
	}
	a.AppliedProjectIDs = append(a.AppliedProjectIDs, projectID)
}

// RecordBooking marks the applicant as holding a booked flat.
func (a *Applicant) RecordBooking(projectID ProjectID, flatType FlatType) {
	a.BookedProjectID = projectID
	a.BookedFlatType = flatType
}

// ClearBooking removes the booked flat, after its application was withdrawn.
func (a *Applicant) ClearBooking() {
	a.BookedProjectID = ""
	a.BookedFlatType = ""
}
