/*
handlers_test.go - HTTP tests for the allocation endpoints

Tests for:
- Full submit -> approve -> book workflow over HTTP
- Error and refusal status mapping (400/403/404/409)
- Request validation (NRIC, unit number)
- Demo scenarios and the metrics endpoint
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/housing-engine/allocation"
	"github.com/warp/housing-engine/allocation/store"
	"github.com/warp/housing-engine/idgen"
	"github.com/warp/housing-engine/metrics"
)

var t0 = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

type testServer struct {
	router  *chi.Mux
	handler *Handler
	store   *store.Memory
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	m := metrics.New()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clock := allocation.NewFixedClock(t0)

	svc := allocation.NewService(mem,
		allocation.WithClock(clock),
		allocation.WithIDGenerator(idgen.NewSequence(nil)),
		allocation.WithLogger(logger),
		allocation.WithRecorder(m.Recorder()),
	)
	h := NewHandler(svc, mem, clock, logger)
	return &testServer{router: NewRouter(h, m, []string{"*"}), handler: h, store: mem, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func (ts *testServer) createProject(t *testing.T, id string, twoRoom, threeRoom int) {
	t.Helper()
	inv := []InventoryRequest{}
	if twoRoom >= 0 {
		inv = append(inv, InventoryRequest{FlatType: "2-Room", Units: twoRoom, Price: "350000"})
	}
	if threeRoom >= 0 {
		inv = append(inv, InventoryRequest{FlatType: "THREE_ROOM", Units: threeRoom, Price: "450000.00"})
	}
	w := ts.do(t, http.MethodPost, "/api/projects", CreateProjectRequest{
		ID:           id,
		Name:         "Project " + id,
		ManagerID:    "mgr-1",
		OpensAt:      t0.Add(-24 * time.Hour),
		ClosesAt:     t0.AddDate(0, 1, 0),
		Visible:      true,
		OfficerSlots: 2,
		Inventory:    inv,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (ts *testServer) createApplicant(t *testing.T, nric string, age int, status string) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/applicants", CreateApplicantRequest{
		NRIC: nric, Name: "Applicant " + nric, Age: age, MaritalStatus: status,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (ts *testServer) submit(t *testing.T, nric, projectID, flatType string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/api/applicants/"+nric+"/applications", SubmitApplicationRequest{
		ProjectID: projectID, FlatType: flatType,
	})
}

func (ts *testServer) approvedApplication(t *testing.T, nric, projectID, flatType string) string {
	t.Helper()
	w := ts.submit(t, nric, projectID, flatType)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeBody[ApplicationDTO](t, w).ID

	w = ts.do(t, http.MethodPost, "/api/applications/"+id+"/approve", StaffRequest{StaffID: "mgr-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return id
}

// =============================================================================
// WORKFLOW
// =============================================================================

func TestAPI_SubmitApproveBook(t *testing.T) {
	// GIVEN: A project with two two-room units and a married applicant
	ts := newTestServer(t)
	ts.createProject(t, "P1", 2, 1)
	ts.createApplicant(t, "S1234567A", 30, "married")

	// WHEN: The applicant applies, is approved and booked
	id := ts.approvedApplication(t, "S1234567A", "P1", "TWO_ROOM")
	w := ts.do(t, http.MethodPost, "/api/applications/"+id+"/book", BookRequest{OfficerID: "off-1", UnitNumber: "04-001"})

	// THEN: The booking, receipt, inventory and applicant record agree
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	booking := decodeBody[BookingResponse](t, w)
	assert.Equal(t, "BOOKED", booking.Application.Status)
	assert.Equal(t, "04-001", booking.Application.UnitNumber)
	assert.Equal(t, "350000.00", booking.Receipt.Price)
	assert.Equal(t, "RCP-000001", booking.Receipt.ID)
	assert.Len(t, booking.Application.Trail, 3)

	w = ts.do(t, http.MethodGet, "/api/applications/"+id+"/receipt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, booking.Receipt.ID, decodeBody[ReceiptDTO](t, w).ID)

	w = ts.do(t, http.MethodGet, "/api/projects/P1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	project := decodeBody[ProjectDTO](t, w)
	require.Len(t, project.Inventory, 2)
	assert.Equal(t, InventoryDTO{FlatType: "TWO_ROOM", Available: 1, Price: "350000.00"}, project.Inventory[0])

	w = ts.do(t, http.MethodGet, "/api/applicants/S1234567A", nil)
	applicant := decodeBody[ApplicantDTO](t, w)
	assert.Equal(t, []string{"P1"}, applicant.AppliedProjectIDs)
	assert.Equal(t, "P1", applicant.BookedProjectID)
	assert.Equal(t, "TWO_ROOM", applicant.BookedFlatType)
}

func TestAPI_WithdrawalReview(t *testing.T) {
	ts := newTestServer(t)
	ts.createProject(t, "P1", 2, -1)
	ts.createApplicant(t, "S1234567A", 30, "MARRIED")
	w := ts.submit(t, "S1234567A", "P1", "TWO_ROOM")
	id := decodeBody[ApplicationDTO](t, w).ID

	w = ts.do(t, http.MethodPost, "/api/applicants/S1234567A/applications/"+id+"/withdraw", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeBody[ApplicationDTO](t, w).WithdrawalRequested)

	// Reviews are blocked while the request is open
	w = ts.do(t, http.MethodPost, "/api/applications/"+id+"/approve", StaffRequest{StaffID: "mgr-1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/applications/"+id+"/withdrawal/reject", StaffRequest{StaffID: "mgr-2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	app := decodeBody[ApplicationDTO](t, w)
	assert.Equal(t, "PENDING", app.Status)
	assert.False(t, app.WithdrawalRequested)
	assert.Equal(t, "mgr-2", app.ApprovedBy)
}

func TestAPI_ApprovedWithdrawalOfBookingClearsApplicantRecord(t *testing.T) {
	// GIVEN: A booked applicant who asks to withdraw
	ts := newTestServer(t)
	ts.createProject(t, "P1", 2, -1)
	ts.createApplicant(t, "S1234567A", 30, "MARRIED")
	id := ts.approvedApplication(t, "S1234567A", "P1", "TWO_ROOM")
	w := ts.do(t, http.MethodPost, "/api/applications/"+id+"/book", BookRequest{OfficerID: "off-1", UnitNumber: "04-001"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = ts.do(t, http.MethodPost, "/api/applicants/S1234567A/applications/"+id+"/withdraw", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// WHEN: The manager approves the withdrawal
	w = ts.do(t, http.MethodPost, "/api/applications/"+id+"/withdrawal/approve", StaffRequest{StaffID: "mgr-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "WITHDRAWN", decodeBody[ApplicationDTO](t, w).Status)

	// THEN: The applicant no longer holds the flat but keeps the applied project
	w = ts.do(t, http.MethodGet, "/api/applicants/S1234567A", nil)
	applicant := decodeBody[ApplicantDTO](t, w)
	assert.Empty(t, applicant.BookedProjectID)
	assert.Empty(t, applicant.BookedFlatType)
	assert.Equal(t, []string{"P1"}, applicant.AppliedProjectIDs)
}

func TestAPI_ApprovedWithdrawalBeforeBookingKeepsOtherBooking(t *testing.T) {
	ts := newTestServer(t)
	ts.createProject(t, "P1", 2, -1)
	ts.createApplicant(t, "S1234567A", 30, "MARRIED")
	w := ts.submit(t, "S1234567A", "P1", "TWO_ROOM")
	id := decodeBody[ApplicationDTO](t, w).ID

	// A record booked elsewhere is not touched by withdrawing a pending application
	require.NoError(t, ts.handler.updateApplicant(t.Context(), "S1234567A", func(a *allocation.Applicant) {
		a.RecordBooking("P0", allocation.TwoRoom)
	}))
	ts.do(t, http.MethodPost, "/api/applicants/S1234567A/applications/"+id+"/withdraw", nil)
	w = ts.do(t, http.MethodPost, "/api/applications/"+id+"/withdrawal/approve", StaffRequest{StaffID: "mgr-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/applicants/S1234567A", nil)
	assert.Equal(t, "P0", decodeBody[ApplicantDTO](t, w).BookedProjectID)
}

func TestHandler_ConcurrentApplicantUpdatesKeepEveryProject(t *testing.T) {
	ts := newTestServer(t)
	ts.createApplicant(t, "S1234567A", 30, "MARRIED")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(pid allocation.ProjectID) {
			defer wg.Done()
			assert.NoError(t, ts.handler.updateApplicant(t.Context(), "S1234567A", func(a *allocation.Applicant) {
				a.RecordApplication(pid)
			}))
		}(allocation.ProjectID(fmt.Sprintf("P%02d", i)))
	}
	wg.Wait()

	applicant, err := ts.store.FindApplicant(t.Context(), "S1234567A")
	require.NoError(t, err)
	assert.Len(t, applicant.AppliedProjectIDs, n)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_RefusalsAre409(t *testing.T) {
	ts := newTestServer(t)
	ts.createProject(t, "P1", 1, -1)
	ts.createApplicant(t, "S1234567A", 30, "MARRIED")
	ts.createApplicant(t, "S7654321B", 30, "MARRIED")

	id := ts.approvedApplication(t, "S1234567A", "P1", "TWO_ROOM")

	// Already applied
	w := ts.submit(t, "S1234567A", "P1", "TWO_ROOM")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_applied", decodeBody[ErrorResponse](t, w).Reason)

	// Approving twice
	w = ts.do(t, http.MethodPost, "/api/applications/"+id+"/approve", StaffRequest{StaffID: "mgr-1"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "illegal_transition", decodeBody[ErrorResponse](t, w).Reason)

	// Last unit goes, next applicant is refused
	w = ts.do(t, http.MethodPost, "/api/applications/"+id+"/book", BookRequest{OfficerID: "off-1", UnitNumber: "01-001"})
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.submit(t, "S7654321B", "P1", "TWO_ROOM")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_units_left", decodeBody[ErrorResponse](t, w).Reason)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	ts.createProject(t, "P1", 5, 5)
	ts.createApplicant(t, "S1234567A", 40, "SINGLE")
	ts.createApplicant(t, "T7654321B", 30, "MARRIED")
	w := ts.submit(t, "T7654321B", "P1", "TWO_ROOM")
	require.Equal(t, http.StatusCreated, w.Code)
	mine := decodeBody[ApplicationDTO](t, w).ID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"single applicant three-room", http.MethodPost, "/api/applicants/S1234567A/applications",
			SubmitApplicationRequest{ProjectID: "P1", FlatType: "THREE_ROOM"}, http.StatusBadRequest},
		{"unknown flat type", http.MethodPost, "/api/applicants/S1234567A/applications",
			SubmitApplicationRequest{ProjectID: "P1", FlatType: "PENTHOUSE"}, http.StatusBadRequest},
		{"unknown project", http.MethodPost, "/api/applicants/S1234567A/applications",
			SubmitApplicationRequest{ProjectID: "NOPE", FlatType: "TWO_ROOM"}, http.StatusNotFound},
		{"unknown applicant", http.MethodGet, "/api/applicants/S0000000Z/projects", nil, http.StatusNotFound},
		{"someone else's application", http.MethodPost, "/api/applicants/S1234567A/applications/" + mine + "/withdraw",
			nil, http.StatusForbidden},
		{"unknown application", http.MethodPost, "/api/applications/APP-999999/approve",
			StaffRequest{StaffID: "mgr-1"}, http.StatusNotFound},
		{"missing staff id", http.MethodPost, "/api/applications/" + mine + "/reject",
			StaffRequest{}, http.StatusBadRequest},
		{"booking a pending application", http.MethodPost, "/api/applications/" + mine + "/book",
			BookRequest{OfficerID: "off-1", UnitNumber: "04-001"}, http.StatusConflict},
		{"missing officer id", http.MethodPost, "/api/applications/" + mine + "/book",
			BookRequest{UnitNumber: "04-001"}, http.StatusBadRequest},
		{"invalid nric", http.MethodPost, "/api/applicants",
			CreateApplicantRequest{NRIC: "X1234567A", Name: "X", Age: 40, MaritalStatus: "SINGLE"}, http.StatusBadRequest},
		{"duplicate applicant", http.MethodPost, "/api/applicants",
			CreateApplicantRequest{NRIC: "S1234567A", Name: "X", Age: 40, MaritalStatus: "SINGLE"}, http.StatusConflict},
		{"duplicate project", http.MethodPost, "/api/projects", CreateProjectRequest{
			ID: "P1", Name: "Again", ManagerID: "mgr-1", OpensAt: t0, ClosesAt: t0.Add(time.Hour),
			Inventory: []InventoryRequest{{FlatType: "TWO_ROOM", Units: 1, Price: "1"}},
		}, http.StatusConflict},
		{"project closes before it opens", http.MethodPost, "/api/projects", CreateProjectRequest{
			ID: "P2", Name: "Backwards", ManagerID: "mgr-1", OpensAt: t0, ClosesAt: t0.Add(-time.Hour),
			Inventory: []InventoryRequest{{FlatType: "TWO_ROOM", Units: 1, Price: "1"}},
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, w).Error)
		})
	}
}

func TestAPI_BookChecksBookabilityBeforeUnitFormat(t *testing.T) {
	// GIVEN: One pending and one approved application
	ts := newTestServer(t)
	ts.createProject(t, "P1", 5, -1)
	ts.createApplicant(t, "S1234567A", 30, "MARRIED")
	ts.createApplicant(t, "S7654321B", 30, "MARRIED")
	w := ts.submit(t, "S1234567A", "P1", "TWO_ROOM")
	require.Equal(t, http.StatusCreated, w.Code)
	pending := decodeBody[ApplicationDTO](t, w).ID
	approved := ts.approvedApplication(t, "S7654321B", "P1", "TWO_ROOM")

	// WHEN: Both are booked with a malformed unit number
	// THEN: The pending one is refused as not bookable, the approved one fails on format
	w = ts.do(t, http.MethodPost, "/api/applications/"+pending+"/book", BookRequest{OfficerID: "off-1", UnitNumber: "4-1"})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "illegal_transition", decodeBody[ErrorResponse](t, w).Reason)

	for _, unit := range []string{"4-1", ""} {
		w = ts.do(t, http.MethodPost, "/api/applications/"+approved+"/book", BookRequest{OfficerID: "off-1", UnitNumber: unit})
		assert.Equal(t, http.StatusBadRequest, w.Code, "unit %q: %s", unit, w.Body.String())
	}
}

// =============================================================================
// QUERIES AND ADMINISTRATION
// =============================================================================

func TestAPI_VisibleProjects(t *testing.T) {
	ts := newTestServer(t)
	ts.createProject(t, "BOTH", 1, 1)
	ts.createProject(t, "THREE", -1, 4)
	ts.createApplicant(t, "S1234567A", 40, "SINGLE")

	w := ts.do(t, http.MethodGet, "/api/applicants/S1234567A/projects", nil)

	require.Equal(t, http.StatusOK, w.Code)
	projects := decodeBody[[]ProjectDTO](t, w)
	require.Len(t, projects, 1)
	assert.Equal(t, "BOTH", projects[0].ID)
}

func TestAPI_ReleaseUnit(t *testing.T) {
	ts := newTestServer(t)
	ts.createProject(t, "P1", 0, -1)

	w := ts.do(t, http.MethodPost, "/api/projects/P1/inventory/TWO_ROOM/release", StaffRequest{StaffID: "admin-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decodeBody[ReleaseUnitResponse](t, w).Available)

	w = ts.do(t, http.MethodPost, "/api/projects/P1/inventory/THREE_ROOM/release", StaffRequest{StaffID: "admin-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_MetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createProject(t, "P1", 1, -1)
	ts.createApplicant(t, "S1234567A", 30, "MARRIED")
	ts.submit(t, "S1234567A", "P1", "TWO_ROOM")
	ts.submit(t, "S1234567A", "P1", "TWO_ROOM")

	w := ts.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `housing_allocation_operations_total{op="submit",outcome="ok"} 1`)
	assert.Contains(t, body, `housing_allocation_operations_total{op="submit",outcome="refused"} 1`)
	assert.True(t, strings.Contains(body, `route="/api/applicants/{nric}/applications"`))
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAPI_LastUnitScenario(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "last-unit"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/applicants/S1111111D/applications", nil)
	first := decodeBody[[]ApplicationDTO](t, w)
	require.Len(t, first, 1)
	assert.Equal(t, "SUCCESSFUL", first[0].Status)
	w = ts.do(t, http.MethodGet, "/api/applicants/S2222222E/applications", nil)
	second := decodeBody[[]ApplicationDTO](t, w)
	require.Len(t, second, 1)

	w = ts.do(t, http.MethodPost, "/api/applications/"+first[0].ID+"/book", BookRequest{OfficerID: "off-1", UnitNumber: "01-001"})
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/api/applications/"+second[0].ID+"/book", BookRequest{OfficerID: "off-1", UnitNumber: "01-002"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_units_left", decodeBody[ErrorResponse](t, w).Reason)

	// Loading again collides with the seeded records
	w = ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "last-unit"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_Scenarios(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, w), len(scenarios))

	for _, id := range []string{"launch-day", "withdrawal-review"} {
		w := ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", id, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/applicants/S3333333F/applications", nil)
	apps := decodeBody[[]ApplicationDTO](t, w)
	require.Len(t, apps, 1)
	assert.Equal(t, "BOOKED", apps[0].Status)
	assert.True(t, apps[0].WithdrawalRequested)

	w = ts.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
