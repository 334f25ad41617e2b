package allocation_test

import (
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/warp/housing-engine/allocation"
	"github.com/warp/housing-engine/allocation/store"
	"github.com/warp/housing-engine/idgen"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newProject(t *testing.T, id string, twoRoom, threeRoom int) *allocation.Project {
	t.Helper()
	inv := allocation.Inventory{}
	if twoRoom >= 0 {
		inv[allocation.TwoRoom] = allocation.Allotment{Available: twoRoom, Price: price("350000")}
	}
	if threeRoom >= 0 {
		inv[allocation.ThreeRoom] = allocation.Allotment{Available: threeRoom, Price: price("450000")}
	}
	p, err := allocation.NewProject(allocation.ProjectSpec{
		ID:            allocation.ProjectID(id),
		Name:          "Project " + id,
		Neighbourhood: "Yishun",
		ManagerID:     "mgr-1",
		OpensAt:       t0.Add(-24 * time.Hour),
		ClosesAt:      t0.Add(30 * 24 * time.Hour),
		Visible:       true,
		OfficerSlots:  3,
		Inventory:     inv,
	}, t0.Add(-48*time.Hour))
	require.NoError(t, err)
	return p
}

func married(id string) *allocation.Applicant {
	return &allocation.Applicant{ID: allocation.ApplicantID(id), Name: "Married " + id, Age: 30, MaritalStatus: allocation.Married}
}

func single(id string, age int) *allocation.Applicant {
	return &allocation.Applicant{ID: allocation.ApplicantID(id), Name: "Single " + id, Age: age, MaritalStatus: allocation.Single}
}

type fixture struct {
	store *store.Memory
	svc   *allocation.Service
	clock *allocation.FixedClock
	logs  *test.Hook
}

func newFixture(t *testing.T, projects ...*allocation.Project) *fixture {
	t.Helper()
	mem := store.NewMemory()
	for _, p := range projects {
		require.NoError(t, mem.SaveProject(t.Context(), p))
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	hook := test.NewLocal(logger)

	clock := allocation.NewFixedClock(t0)
	svc := allocation.NewService(mem,
		allocation.WithClock(clock),
		allocation.WithIDGenerator(idgen.NewSequence(nil)),
		allocation.WithLogger(logger),
	)
	return &fixture{store: mem, svc: svc, clock: clock, logs: hook}
}

// submit requires an accepted submission.
func (f *fixture) submit(t *testing.T, a *allocation.Applicant, projectID string, ft allocation.FlatType) *allocation.Application {
	t.Helper()
	res, err := f.svc.SubmitApplication(t.Context(), a, allocation.ProjectID(projectID), ft)
	require.NoError(t, err)
	require.True(t, res.OK, "submission refused: %v", res.Refusal)
	return res.Application
}

// approved submits and approves.
func (f *fixture) approved(t *testing.T, a *allocation.Applicant, projectID string, ft allocation.FlatType) *allocation.Application {
	t.Helper()
	app := f.submit(t, a, projectID, ft)
	res, err := f.svc.ApproveApplication(t.Context(), app, "mgr-1")
	require.NoError(t, err)
	require.True(t, res.OK, "approval refused: %v", res.Refusal)
	return app
}

func (f *fixture) available(t *testing.T, projectID string, ft allocation.FlatType) int {
	t.Helper()
	p, err := f.store.FindProject(t.Context(), allocation.ProjectID(projectID))
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.AvailableUnits(ft)
}
