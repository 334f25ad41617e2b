/*
application.go - Application state machine

STATES:
  PENDING ──approve──▶ SUCCESSFUL ──book──▶ BOOKED
     │
     └────reject────▶ UNSUCCESSFUL

  Any of PENDING, SUCCESSFUL, BOOKED may request a withdrawal. The request
  is a flag layered on top of the status, not a status of its own:

    status=SUCCESSFUL, withdrawal=true ──approveWithdrawal──▶ WITHDRAWN
    status=SUCCESSFUL, withdrawal=true ──rejectWithdrawal───▶ SUCCESSFUL

  While the flag is set, approve/reject/book are refused.

HISTORY:
  History maps each status (and WITHDRAWAL_REQUESTED) to the most recent
  time it was entered; revisiting a key overwrites it. Trail keeps every
  transition in order, with the actor, for a full audit log.

GUARDS:
  Every operation checks its guard first and returns IllegalTransitionError
  without touching the application when the guard fails.
*/
package allocation

import "time"

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending      Status = "PENDING"
	StatusSuccessful   Status = "SUCCESSFUL"
	StatusUnsuccessful Status = "UNSUCCESSFUL"
	StatusBooked       Status = "BOOKED"
	StatusWithdrawn    Status = "WITHDRAWN"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccessful, StatusUnsuccessful, StatusBooked, StatusWithdrawn:
		return true
	}
	return false
}

// Active statuses block the applicant from submitting another application.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusSuccessful || s == StatusBooked
}

// HistoryKey is a status name or the withdrawal-requested marker.
type HistoryKey string

const HistoryWithdrawalRequested HistoryKey = "WITHDRAWAL_REQUESTED"

func (s Status) Key() HistoryKey { return HistoryKey(s) }

// Op names a state-machine operation.
type Op string

const (
	OpSubmit            Op = "submit"
	OpApprove           Op = "approve"
	OpReject            Op = "reject"
	OpBook              Op = "book"
	OpRequestWithdrawal Op = "request_withdrawal"
	OpApproveWithdrawal Op = "approve_withdrawal"
	OpRejectWithdrawal  Op = "reject_withdrawal"
)

// Transition is one entry of the append-only audit trail.
type Transition struct {
	Op                  Op
	From                Status // empty for submit
	To                  Status
	WithdrawalRequested bool // flag value after the transition
	Actor               string
	At                  time.Time
}

// =============================================================================
// APPLICATION
// =============================================================================

type Application struct {
	ID          ApplicationID
	ApplicantID ApplicantID
	ProjectID   ProjectID
	FlatType    FlatType

	Status              Status
	WithdrawalRequested bool
	CreatedAt           time.Time

	// ApprovedBy is the last staff member who reviewed the application or
	// its withdrawal. Empty until then.
	ApprovedBy StaffID

	// Set on booking.
	UnitNumber string
	BookedBy   StaffID

	History map[HistoryKey]time.Time
	Trail   []Transition
}

// NewApplication is the submit transition: a fresh PENDING application.
func NewApplication(id ApplicationID, applicantID ApplicantID, projectID ProjectID, ft FlatType, at time.Time) *Application {
	a := &Application{
		ID:          id,
		ApplicantID: applicantID,
		ProjectID:   projectID,
		FlatType:    ft,
		Status:      StatusPending,
		CreatedAt:   at,
		History:     make(map[HistoryKey]time.Time),
	}
	a.record(OpSubmit, "", StatusPending.Key(), string(applicantID), at)
	return a
}

// =============================================================================
// GUARDS
// =============================================================================

// CanReview reports whether approve or reject is legal.
func (a *Application) CanReview() bool {
	return a.Status == StatusPending && !a.WithdrawalRequested
}

func (a *Application) CanBook() bool {
	return a.Status == StatusSuccessful && !a.WithdrawalRequested
}

func (a *Application) CanWithdraw() bool {
	return !a.WithdrawalRequested && a.Status != StatusWithdrawn && a.Status != StatusUnsuccessful
}

func (a *Application) CanReviewWithdrawal() bool {
	return a.WithdrawalRequested
}

// Active reports whether this application blocks new submissions.
func (a *Application) Active() bool {
	return a.Status.Active()
}

func (a *Application) illegal(op Op) error {
	return &IllegalTransitionError{
		Op:                  op,
		ApplicationID:       a.ID,
		Status:              a.Status,
		WithdrawalRequested: a.WithdrawalRequested,
	}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (a *Application) Approve(approver StaffID, at time.Time) error {
	if !a.CanReview() {
		return a.illegal(OpApprove)
	}
	from := a.Status
	a.Status = StatusSuccessful
	a.ApprovedBy = approver
	a.record(OpApprove, from, a.Status.Key(), string(approver), at)
	return nil
}

func (a *Application) Reject(approver StaffID, at time.Time) error {
	if !a.CanReview() {
		return a.illegal(OpReject)
	}
	from := a.Status
	a.Status = StatusUnsuccessful
	a.ApprovedBy = approver
	a.record(OpReject, from, a.Status.Key(), string(approver), at)
	return nil
}

// Book moves a successful application to BOOKED against unitNumber.
// It does not touch inventory; the Service reserves the unit in the same
// critical section.
func (a *Application) Book(officer StaffID, unitNumber string, at time.Time) error {
	if !a.CanBook() {
		return a.illegal(OpBook)
	}
	from := a.Status
	a.Status = StatusBooked
	a.UnitNumber = unitNumber
	a.BookedBy = officer
	a.record(OpBook, from, a.Status.Key(), string(officer), at)
	return nil
}

// RequestWithdrawal sets the withdrawal flag; the status is left as is.
func (a *Application) RequestWithdrawal(at time.Time) error {
	if !a.CanWithdraw() {
		return a.illegal(OpRequestWithdrawal)
	}
	a.WithdrawalRequested = true
	a.record(OpRequestWithdrawal, a.Status, HistoryWithdrawalRequested, string(a.ApplicantID), at)
	return nil
}

func (a *Application) ApproveWithdrawal(manager StaffID, at time.Time) error {
	if !a.CanReviewWithdrawal() {
		return a.illegal(OpApproveWithdrawal)
	}
	from := a.Status
	a.Status = StatusWithdrawn
	a.WithdrawalRequested = false
	a.ApprovedBy = manager
	a.record(OpApproveWithdrawal, from, a.Status.Key(), string(manager), at)
	return nil
}

// RejectWithdrawal clears the flag and re-records the unchanged status.
func (a *Application) RejectWithdrawal(manager StaffID, at time.Time) error {
	if !a.CanReviewWithdrawal() {
		return a.illegal(OpRejectWithdrawal)
	}
	a.WithdrawalRequested = false
	a.ApprovedBy = manager
	a.record(OpRejectWithdrawal, a.Status, a.Status.Key(), string(manager), at)
	return nil
}

func (a *Application) record(op Op, from Status, key HistoryKey, actor string, at time.Time) {
	if a.History == nil {
		a.History = make(map[HistoryKey]time.Time)
	}
	a.History[key] = at
	a.Trail = append(a.Trail, Transition{
		Op:                  op,
		From:                from,
		To:                  a.Status,
		WithdrawalRequested: a.WithdrawalRequested,
		Actor:               actor,
		At:                  at,
	})
}

// EnteredAt returns when the application last entered key.
func (a *Application) EnteredAt(key HistoryKey) (time.Time, bool) {
	t, ok := a.History[key]
	return t, ok
}

// Clone returns a deep copy safe to mutate independently.
func (a *Application) Clone() *Application {
	c := *a
	c.History = make(map[HistoryKey]time.Time, len(a.History))
	for k, v := range a.History {
		c.History[k] = v
	}
	c.Trail = append([]Transition(nil), a.Trail...)
	return &c
}
