/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the store with a small, realistic data set so the workflow
	can be exercised end to end over HTTP. Applications are created through
	allocation.Service, so every seeded application went through the same
	checks as a real one.

AVAILABLE SCENARIOS:

	launch-day:        two open projects and three applicants, nothing applied
	last-unit:         one two-room unit left and two approved applicants
	withdrawal-review: a booked application waiting on a withdrawal decision

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "last-unit"}

NOTE:

	Scenarios add data; loading one whose records already exist fails with
	409. Project windows are placed around the current clock.

SEE ALSO:
  - handlers.go: Handler dependencies
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/housing-engine/allocation"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "launch-day",
			Name:        "Launch Day",
			Description: "Two open projects and three applicants of different eligibility",
		},
		load: loadLaunchDayScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "last-unit",
			Name:        "Last Unit",
			Description: "One two-room unit left, two approved applicants competing for it",
		},
		load: loadLastUnitScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "withdrawal-review",
			Name:        "Withdrawal Review",
			Description: "Booked application with a pending withdrawal request",
		},
		load: loadWithdrawalReviewScenario,
	},
}

var errScenarioLoaded = errors.New("scenario data already present")

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario loads a scenario by ID.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	for _, s := range scenarios {
		if s.ID != req.ScenarioID {
			continue
		}
		if err := s.load(r.Context(), h); err != nil {
			if errors.Is(err, errScenarioLoaded) {
				writeError(w, http.StatusConflict, "Scenario already loaded", err)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
			return
		}
		h.Log.WithField("scenario", s.ID).Info("scenario loaded")
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
}

// =============================================================================
// LOADERS
// =============================================================================

func loadLaunchDayScenario(ctx context.Context, h *Handler) error {
	if err := h.seedProject(ctx, "acacia-breeze", "Acacia Breeze", "Yishun", 2, 3); err != nil {
		return err
	}
	if err := h.seedProject(ctx, "green-verdant", "Green Verdant", "Tampines", 0, 5); err != nil {
		return err
	}
	for _, a := range []*allocation.Applicant{
		{ID: "S1234567A", Name: "John", Age: 35, MaritalStatus: allocation.Single},
		{ID: "T7654321B", Name: "Sarah", Age: 40, MaritalStatus: allocation.Married},
		{ID: "S9876543C", Name: "Grace", Age: 28, MaritalStatus: allocation.Single},
	} {
		if err := h.seedApplicant(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func loadLastUnitScenario(ctx context.Context, h *Handler) error {
	if err := h.seedProject(ctx, "last-unit", "Punggol Last Light", "Punggol", 1, 0); err != nil {
		return err
	}
	for _, a := range []*allocation.Applicant{
		{ID: "S1111111D", Name: "Daniel", Age: 29, MaritalStatus: allocation.Married},
		{ID: "S2222222E", Name: "Emily", Age: 31, MaritalStatus: allocation.Married},
	} {
		if err := h.seedApplicant(ctx, a); err != nil {
			return err
		}
		if _, err := h.seedApproved(ctx, a, "last-unit", allocation.TwoRoom); err != nil {
			return err
		}
	}
	return nil
}

func loadWithdrawalReviewScenario(ctx context.Context, h *Handler) error {
	if err := h.seedProject(ctx, "withdrawal-review", "Bedok Harbour", "Bedok", 2, 2); err != nil {
		return err
	}
	a := &allocation.Applicant{ID: "S3333333F", Name: "Farid", Age: 45, MaritalStatus: allocation.Married}
	if err := h.seedApplicant(ctx, a); err != nil {
		return err
	}
	app, err := h.seedApproved(ctx, a, "withdrawal-review", allocation.ThreeRoom)
	if err != nil {
		return err
	}
	res, err := h.Service.BookApplication(ctx, app, "officer-1", "08-112")
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("book seeded application: %w", res.Refusal)
	}
	if err := h.updateApplicant(ctx, a.ID, func(rec *allocation.Applicant) {
		rec.RecordBooking(app.ProjectID, app.FlatType)
	}); err != nil {
		return err
	}
	_, err = h.Service.WithdrawApplication(ctx, a, app.ID)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// seedProject creates an open, visible project. A negative count omits the
// flat type.
func (h *Handler) seedProject(ctx context.Context, id, name, neighbourhood string, twoRoom, threeRoom int) error {
	existing, err := h.Store.FindProject(ctx, allocation.ProjectID(id))
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("project %s: %w", id, errScenarioLoaded)
	}

	now := h.Clock.Now()
	inv := allocation.Inventory{}
	if twoRoom >= 0 {
		inv[allocation.TwoRoom] = allocation.Allotment{Available: twoRoom, Price: decimal.NewFromInt(350000)}
	}
	if threeRoom >= 0 {
		inv[allocation.ThreeRoom] = allocation.Allotment{Available: threeRoom, Price: decimal.NewFromInt(450000)}
	}
	p, err := allocation.NewProject(allocation.ProjectSpec{
		ID:            allocation.ProjectID(id),
		Name:          name,
		Neighbourhood: neighbourhood,
		ManagerID:     "manager-1",
		OpensAt:       now.Add(-24 * time.Hour),
		ClosesAt:      now.AddDate(0, 1, 0),
		Visible:       true,
		OfficerSlots:  3,
		Inventory:     inv,
	}, now)
	if err != nil {
		return err
	}
	return h.Store.SaveProject(ctx, p)
}

func (h *Handler) seedApplicant(ctx context.Context, a *allocation.Applicant) error {
	h.records.Lock()
	defer h.records.Unlock()

	existing, err := h.Store.FindApplicant(ctx, a.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("applicant %s: %w", a.ID, errScenarioLoaded)
	}
	return h.Store.SaveApplicant(ctx, a)
}

// seedApproved submits and approves an application for a.
func (h *Handler) seedApproved(ctx context.Context, a *allocation.Applicant, projectID allocation.ProjectID, ft allocation.FlatType) (*allocation.Application, error) {
	sub, err := h.Service.SubmitApplication(ctx, a, projectID, ft)
	if err != nil {
		return nil, err
	}
	if !sub.OK {
		return nil, fmt.Errorf("submit seeded application: %w", sub.Refusal)
	}
	if err := h.updateApplicant(ctx, a.ID, func(rec *allocation.Applicant) {
		rec.RecordApplication(projectID)
	}); err != nil {
		return nil, err
	}

	app := sub.Application
	res, err := h.Service.ApproveApplication(ctx, app, "manager-1")
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("approve seeded application: %w", res.Refusal)
	}
	return app, nil
}
