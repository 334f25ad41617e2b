/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the allocation model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry `validate` tags checked by go-playground/validator
  before any service call. newValidator registers one custom tag:
    nric: ^[ST]\d{7}[A-Z]$

  Unit numbers are left to allocation.Service, which checks their format
  only after the application is known to be bookable.

  Staff identity is taken from the request body; authenticating it is the
  job of the gateway in front of this service.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/warp/housing-engine/allocation"
)

var nricPattern = regexp.MustCompile(`^[ST]\d{7}[A-Z]$`)

func newValidator() *validator.Validate {
	v := validator.New()
	mustRegister(v, "nric", func(fl validator.FieldLevel) bool {
		return nricPattern.MatchString(fl.Field().String())
	})
	return v
}

// mustRegister panics when a custom tag cannot be registered, so a bad tag
// fails at startup rather than on the first request that uses it.
func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validation: %v", tag, err))
	}
}

// =============================================================================
// PROJECTS
// =============================================================================

type InventoryDTO struct {
	FlatType  string `json:"flat_type"`
	Available int    `json:"available"`
	Price     string `json:"price"`
}

type ProjectDTO struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Neighbourhood string         `json:"neighbourhood"`
	ManagerID     string         `json:"manager_id"`
	OpensAt       string         `json:"opens_at"`
	ClosesAt      string         `json:"closes_at"`
	Visible       bool           `json:"visible"`
	OfficerSlots  int            `json:"officer_slots"`
	OfficerIDs    []string       `json:"officer_ids"`
	Inventory     []InventoryDTO `json:"inventory"`
	CreatedAt     string         `json:"created_at,omitempty"`
}

type InventoryRequest struct {
	FlatType string `json:"flat_type" validate:"required"`
	Units    int    `json:"units" validate:"min=0"`
	Price    string `json:"price" validate:"required,numeric"`
}

// CreateProjectRequest is the request to create a project.
type CreateProjectRequest struct {
	ID            string             `json:"id" validate:"required,max=64"`
	Name          string             `json:"name" validate:"required,max=200"`
	Neighbourhood string             `json:"neighbourhood" validate:"max=200"`
	ManagerID     string             `json:"manager_id" validate:"required"`
	OpensAt       time.Time          `json:"opens_at" validate:"required"`
	ClosesAt      time.Time          `json:"closes_at" validate:"required,gtfield=OpensAt"`
	Visible       bool               `json:"visible"`
	OfficerSlots  int                `json:"officer_slots" validate:"min=0,max=10"`
	Inventory     []InventoryRequest `json:"inventory" validate:"required,min=1,dive"`
}

// StaffRequest identifies the staff member acting on a project or
// application.
type StaffRequest struct {
	StaffID string `json:"staff_id" validate:"required"`
}

type ReleaseUnitResponse struct {
	ProjectID string `json:"project_id"`
	FlatType  string `json:"flat_type"`
	Available int    `json:"available"`
}

func toProjectDTO(p *allocation.Project) ProjectDTO {
	dto := ProjectDTO{
		ID:            string(p.ID),
		Name:          p.Name,
		Neighbourhood: p.Neighbourhood,
		ManagerID:     string(p.ManagerID),
		OpensAt:       p.OpensAt.Format(time.RFC3339),
		ClosesAt:      p.ClosesAt.Format(time.RFC3339),
		Visible:       p.Visible,
		OfficerSlots:  p.OfficerSlots,
		OfficerIDs:    make([]string, len(p.OfficerIDs)),
		Inventory:     make([]InventoryDTO, 0, len(p.Inventory)),
	}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.Format(time.RFC3339)
	}
	for i, id := range p.OfficerIDs {
		dto.OfficerIDs[i] = string(id)
	}
	for _, ft := range p.OfferedFlatTypes() {
		dto.Inventory = append(dto.Inventory, InventoryDTO{
			FlatType:  string(ft),
			Available: p.AvailableUnits(ft),
			Price:     p.Price(ft).StringFixed(2),
		})
	}
	return dto
}

func toProjectDTOs(projects []*allocation.Project) []ProjectDTO {
	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	return dtos
}

// =============================================================================
// APPLICANTS
// =============================================================================

type ApplicantDTO struct {
	NRIC              string   `json:"nric"`
	Name              string   `json:"name"`
	Age               int      `json:"age"`
	MaritalStatus     string   `json:"marital_status"`
	AppliedProjectIDs []string `json:"applied_project_ids"`
	BookedProjectID   string   `json:"booked_project_id,omitempty"`
	BookedFlatType    string   `json:"booked_flat_type,omitempty"`
}

// CreateApplicantRequest is the request to register an applicant record.
type CreateApplicantRequest struct {
	NRIC          string `json:"nric" validate:"required,nric"`
	Name          string `json:"name" validate:"required,max=200"`
	Age           int    `json:"age" validate:"required,min=1,max=150"`
	MaritalStatus string `json:"marital_status" validate:"required"`
}

func toApplicantDTO(a *allocation.Applicant) ApplicantDTO {
	dto := ApplicantDTO{
		NRIC:              string(a.ID),
		Name:              a.Name,
		Age:               a.Age,
		MaritalStatus:     string(a.MaritalStatus),
		AppliedProjectIDs: make([]string, len(a.AppliedProjectIDs)),
		BookedProjectID:   string(a.BookedProjectID),
		BookedFlatType:    string(a.BookedFlatType),
	}
	for i, id := range a.AppliedProjectIDs {
		dto.AppliedProjectIDs[i] = string(id)
	}
	return dto
}

// =============================================================================
// APPLICATIONS
// =============================================================================

type TransitionDTO struct {
	Op                  string `json:"op"`
	From                string `json:"from,omitempty"`
	To                  string `json:"to"`
	WithdrawalRequested bool   `json:"withdrawal_requested"`
	Actor               string `json:"actor"`
	At                  string `json:"at"`
}

type ApplicationDTO struct {
	ID                  string            `json:"id"`
	ApplicantID         string            `json:"applicant_id"`
	ProjectID           string            `json:"project_id"`
	FlatType            string            `json:"flat_type"`
	Status              string            `json:"status"`
	WithdrawalRequested bool              `json:"withdrawal_requested"`
	CreatedAt           string            `json:"created_at"`
	ApprovedBy          string            `json:"approved_by,omitempty"`
	UnitNumber          string            `json:"unit_number,omitempty"`
	BookedBy            string            `json:"booked_by,omitempty"`
	History             map[string]string `json:"history"`
	Trail               []TransitionDTO   `json:"trail"`
}

type SubmitApplicationRequest struct {
	ProjectID string `json:"project_id" validate:"required"`
	FlatType  string `json:"flat_type" validate:"required"`
}

type BookRequest struct {
	OfficerID  string `json:"officer_id" validate:"required"`
	UnitNumber string `json:"unit_number"`
}

type ReceiptDTO struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	ApplicantID   string `json:"applicant_id"`
	ProjectID     string `json:"project_id"`
	ProjectName   string `json:"project_name"`
	Neighbourhood string `json:"neighbourhood"`
	FlatType      string `json:"flat_type"`
	UnitNumber    string `json:"unit_number"`
	Price         string `json:"price"`
	OfficerID     string `json:"officer_id"`
	IssuedAt      string `json:"issued_at"`
}

// BookingResponse is returned by a successful booking.
type BookingResponse struct {
	Application ApplicationDTO `json:"application"`
	Receipt     ReceiptDTO     `json:"receipt"`
}

func toApplicationDTO(a *allocation.Application) ApplicationDTO {
	dto := ApplicationDTO{
		ID:                  string(a.ID),
		ApplicantID:         string(a.ApplicantID),
		ProjectID:           string(a.ProjectID),
		FlatType:            string(a.FlatType),
		Status:              string(a.Status),
		WithdrawalRequested: a.WithdrawalRequested,
		CreatedAt:           a.CreatedAt.Format(time.RFC3339),
		ApprovedBy:          string(a.ApprovedBy),
		UnitNumber:          a.UnitNumber,
		BookedBy:            string(a.BookedBy),
		History:             make(map[string]string, len(a.History)),
		Trail:               make([]TransitionDTO, len(a.Trail)),
	}
	for k, at := range a.History {
		dto.History[string(k)] = at.Format(time.RFC3339)
	}
	for i, t := range a.Trail {
		dto.Trail[i] = TransitionDTO{
			Op:                  string(t.Op),
			From:                string(t.From),
			To:                  string(t.To),
			WithdrawalRequested: t.WithdrawalRequested,
			Actor:               t.Actor,
			At:                  t.At.Format(time.RFC3339),
		}
	}
	return dto
}

func toApplicationDTOs(apps []*allocation.Application) []ApplicationDTO {
	sort.SliceStable(apps, func(i, j int) bool { return apps[i].CreatedAt.Before(apps[j].CreatedAt) })
	dtos := make([]ApplicationDTO, len(apps))
	for i, a := range apps {
		dtos[i] = toApplicationDTO(a)
	}
	return dtos
}

func toReceiptDTO(r *allocation.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ID:            string(r.ID),
		ApplicationID: string(r.ApplicationID),
		ApplicantID:   string(r.ApplicantID),
		ProjectID:     string(r.ProjectID),
		ProjectName:   r.ProjectName,
		Neighbourhood: r.Neighbourhood,
		FlatType:      string(r.FlatType),
		UnitNumber:    r.UnitNumber,
		Price:         r.Price.StringFixed(2),
		OfficerID:     string(r.OfficerID),
		IssuedAt:      r.IssuedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response. Reason carries the
// conflict reason for 409 refusals.
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}
