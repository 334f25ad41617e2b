/*
handlers.go - HTTP API handlers for the housing allocation service

PURPOSE:
  Exposes the allocation service via REST API. Handles HTTP request and
  response, JSON serialization, request validation, and delegates every
  workflow step to allocation.Service.

ENDPOINTS:
  Projects:
    GET    /api/projects                                   List projects
    POST   /api/projects                                   Create project
    GET    /api/projects/{id}                              Project + inventory
    POST   /api/projects/{id}/inventory/{flatType}/release Release one unit

  Applicants:
    POST   /api/applicants                                 Register applicant
    GET    /api/applicants/{nric}                          Applicant record
    GET    /api/applicants/{nric}/projects                 Visible projects
    GET    /api/applicants/{nric}/applications             Applications
    POST   /api/applicants/{nric}/applications             Submit
    POST   /api/applicants/{nric}/applications/{id}/withdraw Request withdrawal

  Applications (staff):
    GET    /api/applications/{id}                          Application
    GET    /api/applications/{id}/receipt                  Booking receipt
    POST   /api/applications/{id}/approve                  Approve
    POST   /api/applications/{id}/reject                   Reject
    POST   /api/applications/{id}/book                     Book a unit
    POST   /api/applications/{id}/withdrawal/approve       Approve withdrawal
    POST   /api/applications/{id}/withdrawal/reject        Reject withdrawal

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags)
  3. Call allocation.Service
  4. Serialize response
  5. Map errors and refusals to status codes

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 403: Application belongs to another applicant
  - 404: Resource not found
  - 409: Refusal (already applied, no units left, unit taken, illegal
         transition) or duplicate record
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - allocation/service.go: The operations behind every endpoint
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/housing-engine/allocation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage the HTTP layer reads directly. Writes to projects
// and applications go through the service.
type Backend interface {
	allocation.Store
	allocation.ApplicantStore
	allocation.ReceiptStore
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *allocation.Service
	Store   Backend
	Clock   allocation.Clock
	Log     logrus.FieldLogger

	validate *validator.Validate

	// records serializes read-modify-write of applicant records.
	records sync.Mutex
}

// NewHandler creates a new handler.
func NewHandler(svc *allocation.Service, store Backend, clock allocation.Clock, log logrus.FieldLogger) *Handler {
	return &Handler{
		Service:  svc,
		Store:    store,
		Clock:    clock,
		Log:      log,
		validate: newValidator(),
	}
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// ListProjects returns all projects, including hidden ones.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTOs(projects))
}

// GetProject returns a project with its inventory.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id := allocation.ProjectID(chi.URLParam(r, "id"))

	project, err := h.Store.FindProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get project", err)
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, "Project not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(project))
}

// CreateProject creates a project from a staff request.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv := make(allocation.Inventory, len(req.Inventory))
	for _, item := range req.Inventory {
		ft, err := allocation.ParseFlatType(item.FlatType)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid flat type", err)
			return
		}
		if _, dup := inv[ft]; dup {
			writeError(w, http.StatusBadRequest, "Duplicate flat type", fmt.Errorf("%s listed twice", ft))
			return
		}
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid price", err)
			return
		}
		inv[ft] = allocation.Allotment{Available: item.Units, Price: price}
	}

	project, err := allocation.NewProject(allocation.ProjectSpec{
		ID:            allocation.ProjectID(req.ID),
		Name:          req.Name,
		Neighbourhood: req.Neighbourhood,
		ManagerID:     allocation.StaffID(req.ManagerID),
		OpensAt:       req.OpensAt,
		ClosesAt:      req.ClosesAt,
		Visible:       req.Visible,
		OfficerSlots:  req.OfficerSlots,
		Inventory:     inv,
	}, h.Clock.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	existing, err := h.Store.FindProject(r.Context(), project.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check project", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Project already exists", nil)
		return
	}
	if err := h.Store.SaveProject(r.Context(), project); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save project", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"project_id": project.ID,
		"manager_id": project.ManagerID,
	}).Info("project created")
	writeJSON(w, http.StatusCreated, toProjectDTO(project))
}

// ReleaseUnit returns one unit of a flat type to the project's inventory.
func (h *Handler) ReleaseUnit(w http.ResponseWriter, r *http.Request) {
	ft, err := allocation.ParseFlatType(chi.URLParam(r, "flatType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid flat type", err)
		return
	}
	var req StaffRequest
	if !h.decode(w, r, &req) {
		return
	}

	projectID := allocation.ProjectID(chi.URLParam(r, "id"))
	n, err := h.Service.ReleaseUnit(r.Context(), projectID, ft, allocation.StaffID(req.StaffID))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReleaseUnitResponse{
		ProjectID: string(projectID),
		FlatType:  string(ft),
		Available: n,
	})
}

// =============================================================================
// APPLICANT HANDLERS
// =============================================================================

// CreateApplicant registers an applicant record.
func (h *Handler) CreateApplicant(w http.ResponseWriter, r *http.Request) {
	var req CreateApplicantRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := allocation.ParseMaritalStatus(req.MaritalStatus)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid marital status", err)
		return
	}

	id := allocation.ApplicantID(req.NRIC)
	h.records.Lock()
	defer h.records.Unlock()

	existing, err := h.Store.FindApplicant(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check applicant", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Applicant already exists", nil)
		return
	}

	applicant := &allocation.Applicant{
		ID:            id,
		Name:          req.Name,
		Age:           req.Age,
		MaritalStatus: status,
	}
	if err := h.Store.SaveApplicant(r.Context(), applicant); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save applicant", err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplicantDTO(applicant))
}

// GetApplicant returns an applicant record.
func (h *Handler) GetApplicant(w http.ResponseWriter, r *http.Request) {
	applicant, ok := h.loadApplicant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toApplicantDTO(applicant))
}

// ListVisibleProjects returns the projects the applicant may see now.
func (h *Handler) ListVisibleProjects(w http.ResponseWriter, r *http.Request) {
	applicant, ok := h.loadApplicant(w, r)
	if !ok {
		return
	}
	projects, err := h.Service.VisibleProjects(r.Context(), applicant)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTOs(projects))
}

// ListApplicantApplications returns every application by the applicant.
func (h *Handler) ListApplicantApplications(w http.ResponseWriter, r *http.Request) {
	applicant, ok := h.loadApplicant(w, r)
	if !ok {
		return
	}
	apps, err := h.Store.ListApplicationsByApplicant(r.Context(), applicant.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list applications", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTOs(apps))
}

// SubmitApplication submits an application for the applicant.
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	applicant, ok := h.loadApplicant(w, r)
	if !ok {
		return
	}
	var req SubmitApplicationRequest
	if !h.decode(w, r, &req) {
		return
	}
	ft, err := allocation.ParseFlatType(req.FlatType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid flat type", err)
		return
	}

	res, err := h.Service.SubmitApplication(r.Context(), applicant, allocation.ProjectID(req.ProjectID), ft)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !res.OK {
		writeRefusal(w, res.Refusal)
		return
	}

	projectID := res.Application.ProjectID
	if err := h.updateApplicant(r.Context(), applicant.ID, func(a *allocation.Applicant) {
		a.RecordApplication(projectID)
	}); err != nil {
		// The application itself is saved; the applicant record lags.
		h.Log.WithError(err).WithField("applicant_id", applicant.ID).Error("failed to record application on applicant")
	}
	writeJSON(w, http.StatusCreated, toApplicationDTO(res.Application))
}

// WithdrawApplication records the applicant's withdrawal request.
func (h *Handler) WithdrawApplication(w http.ResponseWriter, r *http.Request) {
	applicant, ok := h.loadApplicant(w, r)
	if !ok {
		return
	}
	id := allocation.ApplicationID(chi.URLParam(r, "id"))

	app, err := h.Service.WithdrawApplication(r.Context(), applicant, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// =============================================================================
// APPLICATION HANDLERS (staff)
// =============================================================================

// GetApplication returns an application with its history and trail.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := h.loadApplication(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// GetReceipt returns the receipt of a booked application.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id := allocation.ApplicationID(chi.URLParam(r, "id"))
	receipt, err := h.Store.FindReceiptByApplication(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get receipt", err)
		return
	}
	if receipt == nil {
		writeError(w, http.StatusNotFound, "Receipt not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(receipt))
}

func (h *Handler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Service.ApproveApplication, nil)
}

func (h *Handler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Service.RejectApplication, nil)
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Service.ApproveWithdrawal, h.clearBooking)
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.Service.RejectWithdrawal, nil)
}

type reviewFunc func(ctx context.Context, app *allocation.Application, staff allocation.StaffID) (allocation.Result, error)

// review runs a staff transition and answers with the updated application.
// after, when set, runs once the transition is committed.
func (h *Handler) review(w http.ResponseWriter, r *http.Request, transition reviewFunc, after func(*http.Request, *allocation.Application)) {
	app, ok := h.loadApplication(w, r)
	if !ok {
		return
	}
	var req StaffRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := transition(r.Context(), app, allocation.StaffID(req.StaffID))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !res.OK {
		writeRefusal(w, res.Refusal)
		return
	}
	if after != nil {
		after(r, app)
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// BookApplication books a unit for a SUCCESSFUL application.
func (h *Handler) BookApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := h.loadApplication(w, r)
	if !ok {
		return
	}
	var req BookRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Service.BookApplication(r.Context(), app, allocation.StaffID(req.OfficerID), req.UnitNumber)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !res.OK {
		writeRefusal(w, res.Refusal)
		return
	}

	h.recordBooking(r, app)
	writeJSON(w, http.StatusOK, BookingResponse{
		Application: toApplicationDTO(app),
		Receipt:     toReceiptDTO(res.Receipt),
	})
}

// recordBooking marks the applicant record, when one exists, as booked.
func (h *Handler) recordBooking(r *http.Request, app *allocation.Application) {
	if err := h.updateApplicant(r.Context(), app.ApplicantID, func(a *allocation.Applicant) {
		a.RecordBooking(app.ProjectID, app.FlatType)
	}); err != nil {
		h.Log.WithError(err).WithField("applicant_id", app.ApplicantID).Error("failed to record booking on applicant")
	}
}

// clearBooking drops the booked flat from the applicant record when the
// withdrawn application was the booked one.
func (h *Handler) clearBooking(r *http.Request, app *allocation.Application) {
	if len(app.Trail) == 0 || app.Trail[len(app.Trail)-1].From != allocation.StatusBooked {
		return
	}
	if err := h.updateApplicant(r.Context(), app.ApplicantID, func(a *allocation.Applicant) {
		if a.BookedProjectID == app.ProjectID && a.BookedFlatType == app.FlatType {
			a.ClearBooking()
		}
	}); err != nil {
		h.Log.WithError(err).WithField("applicant_id", app.ApplicantID).Error("failed to clear booking on applicant")
	}
}

// updateApplicant reloads the applicant record, applies fn and saves it,
// holding the records lock throughout. A missing record is left alone.
func (h *Handler) updateApplicant(ctx context.Context, id allocation.ApplicantID, fn func(*allocation.Applicant)) error {
	h.records.Lock()
	defer h.records.Unlock()

	applicant, err := h.Store.FindApplicant(ctx, id)
	if err != nil {
		return fmt.Errorf("load applicant %s: %w", id, err)
	}
	if applicant == nil {
		return nil
	}
	fn(applicant)
	if err := h.Store.SaveApplicant(ctx, applicant); err != nil {
		return fmt.Errorf("save applicant %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) loadApplicant(w http.ResponseWriter, r *http.Request) (*allocation.Applicant, bool) {
	id := allocation.ApplicantID(chi.URLParam(r, "nric"))
	applicant, err := h.Store.FindApplicant(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get applicant", err)
		return nil, false
	}
	if applicant == nil {
		writeError(w, http.StatusNotFound, "Applicant not found", nil)
		return nil, false
	}
	return applicant, true
}

func (h *Handler) loadApplication(w http.ResponseWriter, r *http.Request) (*allocation.Application, bool) {
	id := allocation.ApplicationID(chi.URLParam(r, "id"))
	app, err := h.Store.FindApplication(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get application", err)
		return nil, false
	}
	if app == nil {
		writeError(w, http.StatusNotFound, "Application not found", nil)
		return nil, false
	}
	return app, true
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeRefusal reports a business refusal as 409.
func writeRefusal(w http.ResponseWriter, refusal error) {
	resp := ErrorResponse{Error: "Request refused", Details: refusal.Error()}
	if reason, ok := allocation.ConflictReasonOf(refusal); ok {
		resp.Reason = string(reason)
	} else if allocation.IsIllegalTransition(refusal) {
		resp.Reason = "illegal_transition"
	}
	writeJSON(w, http.StatusConflict, resp)
}

// writeServiceError maps allocation error kinds to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case allocation.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case allocation.IsForbidden(err):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case allocation.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case allocation.IsIllegalTransition(err), allocation.IsConflict(err):
		writeRefusal(w, err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
