package allocation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/housing-engine/allocation"
)

func newPending() *allocation.Application {
	return allocation.NewApplication("APP-1", "S1234567A", "P1", allocation.TwoRoom, t0)
}

// assertConsistent checks the flag never contradicts the status.
func assertConsistent(t *testing.T, a *allocation.Application) {
	t.Helper()
	assert.True(t, a.Status.Valid(), "status %q", a.Status)
	if a.Status == allocation.StatusWithdrawn {
		assert.False(t, a.WithdrawalRequested, "withdrawn application still flagged")
	}
}

func TestApplication_SubmitIsPending(t *testing.T) {
	a := newPending()

	assert.Equal(t, allocation.StatusPending, a.Status)
	assert.False(t, a.WithdrawalRequested)
	at, ok := a.EnteredAt(allocation.StatusPending.Key())
	require.True(t, ok)
	assert.Equal(t, t0, at)
	require.Len(t, a.Trail, 1)
	assert.Equal(t, allocation.OpSubmit, a.Trail[0].Op)
}

func TestApplication_ApproveTwiceIsIllegal(t *testing.T) {
	a := newPending()

	require.NoError(t, a.Approve("mgr-1", t0.Add(time.Hour)))
	assert.Equal(t, allocation.StatusSuccessful, a.Status)
	assert.Equal(t, allocation.StaffID("mgr-1"), a.ApprovedBy)

	err := a.Approve("mgr-2", t0.Add(2*time.Hour))

	var ite *allocation.IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, allocation.OpApprove, ite.Op)
	assert.Equal(t, allocation.StatusSuccessful, ite.Status)
	assert.False(t, ite.WithdrawalRequested)
	assert.Equal(t, allocation.StaffID("mgr-1"), a.ApprovedBy, "failed guard must not mutate")
}

func TestApplication_Reject(t *testing.T) {
	a := newPending()

	require.NoError(t, a.Reject("mgr-1", t0.Add(time.Hour)))

	assert.Equal(t, allocation.StatusUnsuccessful, a.Status)
	assert.Equal(t, allocation.StaffID("mgr-1"), a.ApprovedBy)
	assert.ErrorIs(t, a.Approve("mgr-1", t0), allocation.ErrIllegalTransition)
	assert.ErrorIs(t, a.RequestWithdrawal(t0), allocation.ErrIllegalTransition)
}

func TestApplication_BookRequiresSuccessful(t *testing.T) {
	a := newPending()
	assert.ErrorIs(t, a.Book("off-1", "04-001", t0), allocation.ErrIllegalTransition)

	require.NoError(t, a.Approve("mgr-1", t0))
	require.NoError(t, a.Book("off-1", "04-001", t0.Add(time.Hour)))

	assert.Equal(t, allocation.StatusBooked, a.Status)
	assert.Equal(t, "04-001", a.UnitNumber)
	assert.Equal(t, allocation.StaffID("off-1"), a.BookedBy)
	assert.ErrorIs(t, a.Book("off-1", "04-002", t0), allocation.ErrIllegalTransition)
}

func TestApplication_WithdrawalRequestBlocksReview(t *testing.T) {
	a := newPending()
	require.NoError(t, a.RequestWithdrawal(t0.Add(time.Minute)))

	assert.Equal(t, allocation.StatusPending, a.Status, "status untouched by request")
	assert.True(t, a.WithdrawalRequested)
	_, ok := a.EnteredAt(allocation.HistoryWithdrawalRequested)
	assert.True(t, ok)

	assert.ErrorIs(t, a.Approve("mgr-1", t0), allocation.ErrIllegalTransition)
	assert.ErrorIs(t, a.Reject("mgr-1", t0), allocation.ErrIllegalTransition)
	assert.ErrorIs(t, a.RequestWithdrawal(t0), allocation.ErrIllegalTransition)
}

func TestApplication_RejectWithdrawalRestoresStatus(t *testing.T) {
	// GIVEN: A successful application with a pending withdrawal request
	a := newPending()
	require.NoError(t, a.Approve("mgr-1", t0.Add(time.Hour)))
	require.NoError(t, a.RequestWithdrawal(t0.Add(2*time.Hour)))
	assert.False(t, a.CanBook())

	// WHEN: The manager rejects the withdrawal
	rejectedAt := t0.Add(3 * time.Hour)
	require.NoError(t, a.RejectWithdrawal("mgr-2", rejectedAt))

	// THEN: Status is unchanged, flag cleared, status re-recorded
	assert.Equal(t, allocation.StatusSuccessful, a.Status)
	assert.False(t, a.WithdrawalRequested)
	assert.Equal(t, allocation.StaffID("mgr-2"), a.ApprovedBy)
	at, _ := a.EnteredAt(allocation.StatusSuccessful.Key())
	assert.Equal(t, rejectedAt, at, "history keeps the most recent entry")
	assert.True(t, a.CanBook())
	assertConsistent(t, a)
}

func TestApplication_ApproveWithdrawalOfBooked(t *testing.T) {
	a := newPending()
	require.NoError(t, a.Approve("mgr-1", t0))
	require.NoError(t, a.Book("off-1", "04-001", t0))
	require.NoError(t, a.RequestWithdrawal(t0))

	require.NoError(t, a.ApproveWithdrawal("mgr-1", t0.Add(time.Hour)))

	assert.Equal(t, allocation.StatusWithdrawn, a.Status)
	assert.False(t, a.WithdrawalRequested)
	assertConsistent(t, a)

	// Terminal
	assert.ErrorIs(t, a.RequestWithdrawal(t0), allocation.ErrIllegalTransition)
	assert.ErrorIs(t, a.ApproveWithdrawal("mgr-1", t0), allocation.ErrIllegalTransition)
	assert.ErrorIs(t, a.RejectWithdrawal("mgr-1", t0), allocation.ErrIllegalTransition)
}

func TestApplication_WithdrawalReviewNeedsRequest(t *testing.T) {
	a := newPending()

	assert.ErrorIs(t, a.ApproveWithdrawal("mgr-1", t0), allocation.ErrIllegalTransition)
	assert.ErrorIs(t, a.RejectWithdrawal("mgr-1", t0), allocation.ErrIllegalTransition)
	assert.Len(t, a.Trail, 1, "refused transitions leave no trail")
}

func TestApplication_TrailIsAppendOnly(t *testing.T) {
	a := newPending()
	require.NoError(t, a.RequestWithdrawal(t0.Add(1*time.Minute)))
	require.NoError(t, a.RejectWithdrawal("mgr-1", t0.Add(2*time.Minute)))
	require.NoError(t, a.Approve("mgr-1", t0.Add(3*time.Minute)))

	ops := make([]allocation.Op, len(a.Trail))
	for i, tr := range a.Trail {
		ops[i] = tr.Op
	}
	assert.Equal(t, []allocation.Op{
		allocation.OpSubmit,
		allocation.OpRequestWithdrawal,
		allocation.OpRejectWithdrawal,
		allocation.OpApprove,
	}, ops)

	// PENDING was entered twice; the map keeps the later one, the trail keeps both.
	at, _ := a.EnteredAt(allocation.StatusPending.Key())
	assert.Equal(t, t0.Add(2*time.Minute), at)
	assert.Equal(t, "S1234567A", a.Trail[1].Actor)
	assert.True(t, a.Trail[1].WithdrawalRequested)
	assert.False(t, a.Trail[2].WithdrawalRequested)
}

// Every operation from every reachable state either succeeds or is refused
// with the state left consistent.
func TestApplication_AllSequencesStayConsistent(t *testing.T) {
	ops := map[string]func(*allocation.Application) error{
		"approve":            func(a *allocation.Application) error { return a.Approve("m", t0) },
		"reject":             func(a *allocation.Application) error { return a.Reject("m", t0) },
		"book":               func(a *allocation.Application) error { return a.Book("o", "01-001", t0) },
		"request_withdrawal": func(a *allocation.Application) error { return a.RequestWithdrawal(t0) },
		"approve_withdrawal": func(a *allocation.Application) error { return a.ApproveWithdrawal("m", t0) },
		"reject_withdrawal":  func(a *allocation.Application) error { return a.RejectWithdrawal("m", t0) },
	}

	var walk func(a *allocation.Application, depth int)
	walk = func(a *allocation.Application, depth int) {
		if depth == 0 {
			return
		}
		for name, op := range ops {
			next := a.Clone()
			before := *next
			if err := op(next); err != nil {
				assert.ErrorIs(t, err, allocation.ErrIllegalTransition, name)
				assert.Equal(t, before.Status, next.Status, name)
				assert.Equal(t, before.WithdrawalRequested, next.WithdrawalRequested, name)
				continue
			}
			assertConsistent(t, next)
			walk(next, depth-1)
		}
	}
	walk(newPending(), 4)
}
