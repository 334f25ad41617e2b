/*
service.go - Allocation service: the entry point for every workflow step

PURPOSE:
  Composes the eligibility policy, the application state machine and the
  project inventory into single units of work. Callers never drive the
  entities directly.

OPERATIONS AND WHAT THEY SURFACE:
  ┌─────────────────────┬──────────────────────────────┬───────────────────────────┐
  │ Operation           │ Returned as error            │ Returned as refusal       │
  ├─────────────────────┼──────────────────────────────┼───────────────────────────┤
  │ SubmitApplication   │ validation, not found        │ already applied,          │
  │                     │ (closed project, ineligible) │ no units left             │
  │ Approve/Reject      │ validation, not found        │ illegal transition        │
  │ BookApplication     │ validation (unit format),    │ illegal transition,       │
  │                     │ not found                    │ unit taken, no units left │
  │ WithdrawApplication │ validation, not found,       │ -                         │
  │                     │ forbidden, illegal transition│                           │
  │ Approve/Reject      │ validation, not found        │ illegal transition        │
  │   Withdrawal        │                              │                           │
  │ ReleaseUnit         │ validation, not found        │ -                         │
  └─────────────────────┴──────────────────────────────┴───────────────────────────┘
  Store failures are always returned as wrapped errors.

LOCKING:
  Booking holds the project lock, then the applicant lock, for the whole
  check -> transition -> reserve -> persist sequence. Two bookings against
  one project never both see a free unit. Submission and review hold the
  applicant lock, so two submissions by one applicant never both pass the
  conflicting-application check. Lock order is always project before
  applicant.

VALIDATE, THEN MUTATE:
  Every operation reloads fresh entities under its locks, applies the
  transition to copies, persists the copies, and only then copies the
  result into the caller's entity. A refusal or error leaves the caller's
  entity and the store untouched.

SEE ALSO:
  - application.go: transition guards
  - eligibility.go: submission rules
  - store.go: persistence contract
*/
package allocation

import (
	"context"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
	"github.com/warp/housing-engine/idgen"
)

// unitNumberPattern is floor-unit, e.g. "04-001".
var unitNumberPattern = regexp.MustCompile(`^\d{2}-\d{3}$`)

// ValidUnitNumber reports whether s has the floor-unit format.
func ValidUnitNumber(s string) bool {
	return unitNumberPattern.MatchString(s)
}

// =============================================================================
// RESULTS
// =============================================================================

// Result reports whether an operation took effect. A refused operation is
// an expected business outcome: Refusal explains it and the accompanying
// error is nil.
type Result struct {
	OK      bool
	Refusal error
}

func accepted() Result            { return Result{OK: true} }
func refused(reason error) Result { return Result{Refusal: reason} }

type SubmitResult struct {
	Result
	Application *Application // set when OK
}

type BookResult struct {
	Result
	Receipt *Receipt // set when OK
}

// Outcome labels passed to Recorder.
const (
	OutcomeOK      = "ok"
	OutcomeRefused = "refused"
	OutcomeError   = "error"
)

// Recorder receives operation outcomes and inventory levels.
type Recorder interface {
	Outcome(op Op, outcome string)
	AvailableUnits(projectID ProjectID, ft FlatType, n int)
}

type nopRecorder struct{}

func (nopRecorder) Outcome(Op, string)                      {}
func (nopRecorder) AvailableUnits(ProjectID, FlatType, int) {}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store    Store
	ids      idgen.Generator
	clock    Clock
	log      logrus.FieldLogger
	recorder Recorder

	projects   keyedMutex
	applicants keyedMutex
}

type Option func(*Service)

func WithClock(c Clock) Option                { return func(s *Service) { s.clock = c } }
func WithIDGenerator(g idgen.Generator) Option { return func(s *Service) { s.ids = g } }
func WithLogger(l logrus.FieldLogger) Option   { return func(s *Service) { s.log = l } }
func WithRecorder(r Recorder) Option          { return func(s *Service) { s.recorder = r } }

// NewService creates a service over store. Defaults: system clock, UUID
// identifiers, the logrus standard logger, no metrics.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		ids:      idgen.UUID{},
		clock:    SystemClock{},
		log:      logrus.StandardLogger(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// SUBMISSION
// =============================================================================

// SubmitApplication creates a PENDING application for applicant.
//
// Checks, in order: input present, project exists and is open, flat type
// offered, a unit left (refusal), flat type and age eligibility, no other
// active application by the applicant (refusal). The returned application
// is already saved; recording it on the applicant is the caller's job.
func (s *Service) SubmitApplication(ctx context.Context, applicant *Applicant, projectID ProjectID, ft FlatType) (SubmitResult, error) {
	if applicant == nil || applicant.ID == "" {
		return SubmitResult{}, &ValidationError{Field: "applicant", Reason: "required"}
	}
	if !ft.Valid() {
		return SubmitResult{}, &ValidationError{Field: "flat_type", Reason: fmt.Sprintf("unknown flat type %q", ft)}
	}
	if projectID == "" {
		return SubmitResult{}, &ValidationError{Field: "project", Reason: "required"}
	}

	unlock := s.applicants.Lock(string(applicant.ID))
	defer unlock()

	log := s.log.WithFields(logrus.Fields{
		"op":           OpSubmit,
		"applicant_id": applicant.ID,
		"project_id":   projectID,
		"flat_type":    ft,
	})

	project, err := s.store.FindProject(ctx, projectID)
	if err != nil {
		return SubmitResult{}, s.storeError(OpSubmit, "load project", err)
	}
	if project == nil {
		return SubmitResult{}, &NotFoundError{Entity: "project", ID: string(projectID)}
	}

	now := s.clock.Now()
	if !IsProjectOpen(project, now) {
		return SubmitResult{}, &ValidationError{Field: "project", Reason: "not open for applications"}
	}
	if !project.Offers(ft) {
		return SubmitResult{}, &ValidationError{Field: "flat_type", Reason: fmt.Sprintf("%s not offered by project %s", ft, projectID)}
	}
	if project.AvailableUnits(ft) <= 0 {
		return SubmitResult{Result: s.refuse(log, OpSubmit, &ConflictError{
			Reason:    ConflictNoUnitsLeft,
			ProjectID: projectID,
			FlatType:  ft,
		})}, nil
	}
	if !IsFlatTypeEligible(applicant, ft) {
		return SubmitResult{}, &ValidationError{Field: "flat_type", Reason: fmt.Sprintf("%s applicants may not apply for %s", applicant.MaritalStatus, ft)}
	}
	if !MeetsAgeRequirement(applicant) {
		return SubmitResult{}, &ValidationError{Field: "applicant.age", Reason: fmt.Sprintf("age %d below minimum for %s applicants", applicant.Age, applicant.MaritalStatus)}
	}

	existing, err := s.store.ListApplicationsByApplicant(ctx, applicant.ID)
	if err != nil {
		return SubmitResult{}, s.storeError(OpSubmit, "list applications", err)
	}
	if active := conflictingApplication(applicant.ID, existing); active != nil {
		return SubmitResult{Result: s.refuse(log, OpSubmit, &ConflictError{
			Reason:     ConflictAlreadyApplied,
			ProjectID:  active.ProjectID,
			FlatType:   active.FlatType,
			ExistingID: active.ID,
		})}, nil
	}

	app := NewApplication(ApplicationID(s.ids.New(idgen.KindApplication)), applicant.ID, projectID, ft, now)
	if err := s.store.SaveApplication(ctx, app); err != nil {
		return SubmitResult{}, s.storeError(OpSubmit, "save application", err)
	}

	s.recorder.Outcome(OpSubmit, OutcomeOK)
	log.WithField("application_id", app.ID).Info("application submitted")
	return SubmitResult{Result: accepted(), Application: app.Clone()}, nil
}

// =============================================================================
// STAFF REVIEW
// =============================================================================

// ApproveApplication moves a PENDING application to SUCCESSFUL.
func (s *Service) ApproveApplication(ctx context.Context, app *Application, approver StaffID) (Result, error) {
	return s.review(ctx, OpApprove, app, approver, func(a *Application) error {
		return a.Approve(approver, s.clock.Now())
	})
}

// RejectApplication moves a PENDING application to UNSUCCESSFUL.
func (s *Service) RejectApplication(ctx context.Context, app *Application, approver StaffID) (Result, error) {
	return s.review(ctx, OpReject, app, approver, func(a *Application) error {
		return a.Reject(approver, s.clock.Now())
	})
}

// ApproveWithdrawal moves an application with a pending withdrawal request
// to WITHDRAWN. Inventory of a booked application is not released.
func (s *Service) ApproveWithdrawal(ctx context.Context, app *Application, manager StaffID) (Result, error) {
	return s.review(ctx, OpApproveWithdrawal, app, manager, func(a *Application) error {
		return a.ApproveWithdrawal(manager, s.clock.Now())
	})
}

// RejectWithdrawal clears a withdrawal request and keeps the prior status.
func (s *Service) RejectWithdrawal(ctx context.Context, app *Application, manager StaffID) (Result, error) {
	return s.review(ctx, OpRejectWithdrawal, app, manager, func(a *Application) error {
		return a.RejectWithdrawal(manager, s.clock.Now())
	})
}

// review runs a staff transition. Guard failures are logged and refused.
func (s *Service) review(ctx context.Context, op Op, app *Application, actor StaffID, transition func(*Application) error) (Result, error) {
	if app == nil || app.ID == "" {
		return Result{}, &ValidationError{Field: "application", Reason: "required"}
	}
	if actor == "" {
		return Result{}, &ValidationError{Field: "staff", Reason: "required"}
	}

	current, unlock, err := s.lockApplication(ctx, op, app.ID, false)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	log := s.log.WithFields(logrus.Fields{
		"op":                   op,
		"application_id":       current.ID,
		"staff_id":             actor,
		"status":               current.Status,
		"withdrawal_requested": current.WithdrawalRequested,
	})

	next := current.Clone()
	if err := transition(next); err != nil {
		return s.refuse(log, op, err), nil
	}
	if err := s.store.SaveApplication(ctx, next); err != nil {
		return Result{}, s.storeError(op, "save application", err)
	}

	*app = *next.Clone()
	s.recorder.Outcome(op, OutcomeOK)
	log.WithField("status", next.Status).Info("application reviewed")
	return accepted(), nil
}

// =============================================================================
// BOOKING
// =============================================================================

// BookApplication books a SUCCESSFUL application against unitNumber and
// reserves one unit of its flat type, as one atomic unit.
//
// Checks, in order: application present and bookable (refusal), unit
// number present and well-formed (error), unit not booked by another
// application in the project (refusal), a unit left (refusal).
func (s *Service) BookApplication(ctx context.Context, app *Application, officer StaffID, unitNumber string) (BookResult, error) {
	if app == nil || app.ID == "" {
		return BookResult{}, &ValidationError{Field: "application", Reason: "required"}
	}
	if officer == "" {
		return BookResult{}, &ValidationError{Field: "officer", Reason: "required"}
	}

	current, unlock, err := s.lockApplication(ctx, OpBook, app.ID, true)
	if err != nil {
		return BookResult{}, err
	}
	defer unlock()

	log := s.log.WithFields(logrus.Fields{
		"op":                   OpBook,
		"application_id":       current.ID,
		"status":               current.Status,
		"withdrawal_requested": current.WithdrawalRequested,
		"project_id":           current.ProjectID,
		"flat_type":            current.FlatType,
		"unit_number":          unitNumber,
		"officer_id":           officer,
	})

	if !current.CanBook() {
		return BookResult{Result: s.refuse(log, OpBook, current.illegal(OpBook))}, nil
	}
	if unitNumber == "" {
		return BookResult{}, &ValidationError{Field: "unit_number", Reason: "required"}
	}
	if !ValidUnitNumber(unitNumber) {
		return BookResult{}, &ValidationError{Field: "unit_number", Reason: fmt.Sprintf("%q does not match NN-NNN", unitNumber)}
	}

	project, err := s.store.FindProject(ctx, current.ProjectID)
	if err != nil {
		return BookResult{}, s.storeError(OpBook, "load project", err)
	}
	if project == nil {
		return BookResult{}, &NotFoundError{Entity: "project", ID: string(current.ProjectID)}
	}

	siblings, err := s.store.ListApplicationsByProject(ctx, project.ID)
	if err != nil {
		return BookResult{}, s.storeError(OpBook, "list project applications", err)
	}
	for _, other := range siblings {
		if other.ID != current.ID && other.Status == StatusBooked && other.UnitNumber == unitNumber {
			return BookResult{Result: s.refuse(log, OpBook, &ConflictError{
				Reason:     ConflictUnitTaken,
				ProjectID:  project.ID,
				FlatType:   current.FlatType,
				UnitNumber: unitNumber,
				ExistingID: other.ID,
			})}, nil
		}
	}
	if project.AvailableUnits(current.FlatType) <= 0 {
		return BookResult{Result: s.refuse(log, OpBook, &ConflictError{
			Reason:    ConflictNoUnitsLeft,
			ProjectID: project.ID,
			FlatType:  current.FlatType,
		})}, nil
	}

	// Every guard above was checked under the locks, so neither step below
	// can fail; both still run on copies so a failure writes nothing.
	now := s.clock.Now()
	nextApp := current.Clone()
	if err := nextApp.Book(officer, unitNumber, now); err != nil {
		return BookResult{}, fmt.Errorf("book application %s: %w", current.ID, err)
	}
	nextProject := project.Clone()
	if err := nextProject.ReserveUnit(current.FlatType); err != nil {
		return BookResult{}, fmt.Errorf("reserve unit for %s: %w", current.ID, err)
	}

	receipt := &Receipt{
		ID:            ReceiptID(s.ids.New(idgen.KindReceipt)),
		ApplicationID: nextApp.ID,
		ApplicantID:   nextApp.ApplicantID,
		ProjectID:     nextProject.ID,
		ProjectName:   nextProject.Name,
		Neighbourhood: nextProject.Neighbourhood,
		FlatType:      nextApp.FlatType,
		UnitNumber:    unitNumber,
		Price:         nextProject.Price(nextApp.FlatType),
		OfficerID:     officer,
		IssuedAt:      now,
	}

	err = s.atomically(ctx, func(st Store) error {
		if err := st.SaveApplication(ctx, nextApp); err != nil {
			return fmt.Errorf("save application: %w", err)
		}
		if err := st.SaveProject(ctx, nextProject); err != nil {
			return fmt.Errorf("save project: %w", err)
		}
		if err := st.SaveReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("save receipt: %w", err)
		}
		return nil
	})
	if err != nil {
		return BookResult{}, s.storeError(OpBook, "commit booking", err)
	}

	*app = *nextApp.Clone()
	remaining := nextProject.AvailableUnits(nextApp.FlatType)
	s.recorder.Outcome(OpBook, OutcomeOK)
	s.recorder.AvailableUnits(nextProject.ID, nextApp.FlatType, remaining)
	log.WithFields(logrus.Fields{
		"receipt_id": receipt.ID,
		"remaining":  remaining,
	}).Info("unit booked")
	return BookResult{Result: accepted(), Receipt: receipt}, nil
}

// =============================================================================
// WITHDRAWAL
// =============================================================================

// WithdrawApplication records applicant's request to withdraw the
// application. Every failure is returned as an error: NotFoundError,
// ForbiddenError when the application is someone else's, or
// IllegalTransitionError.
func (s *Service) WithdrawApplication(ctx context.Context, applicant *Applicant, id ApplicationID) (*Application, error) {
	if applicant == nil || applicant.ID == "" {
		return nil, &ValidationError{Field: "applicant", Reason: "required"}
	}
	if id == "" {
		return nil, &ValidationError{Field: "application", Reason: "required"}
	}

	unlock := s.applicants.Lock(string(applicant.ID))
	defer unlock()

	current, err := s.loadApplication(ctx, OpRequestWithdrawal, id)
	if err != nil {
		return nil, err
	}
	if current.ApplicantID != applicant.ID {
		return nil, &ForbiddenError{ApplicantID: applicant.ID, ApplicationID: id}
	}

	next := current.Clone()
	if err := next.RequestWithdrawal(s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.store.SaveApplication(ctx, next); err != nil {
		return nil, s.storeError(OpRequestWithdrawal, "save application", err)
	}

	s.recorder.Outcome(OpRequestWithdrawal, OutcomeOK)
	s.log.WithFields(logrus.Fields{
		"op":             OpRequestWithdrawal,
		"application_id": next.ID,
		"applicant_id":   applicant.ID,
		"status":         next.Status,
	}).Info("withdrawal requested")
	return next, nil
}

// =============================================================================
// ADMINISTRATION AND QUERIES
// =============================================================================

// ReleaseUnit adds one unit of ft back to the project. This is the only way
// inventory grows; it is an administrative correction, not part of any
// applicant workflow. It returns the new count.
func (s *Service) ReleaseUnit(ctx context.Context, projectID ProjectID, ft FlatType, actor StaffID) (int, error) {
	if actor == "" {
		return 0, &ValidationError{Field: "staff", Reason: "required"}
	}
	if !ft.Valid() {
		return 0, &ValidationError{Field: "flat_type", Reason: fmt.Sprintf("unknown flat type %q", ft)}
	}

	unlock := s.projects.Lock(string(projectID))
	defer unlock()

	project, err := s.store.FindProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("load project %s: %w", projectID, err)
	}
	if project == nil {
		return 0, &NotFoundError{Entity: "project", ID: string(projectID)}
	}

	next := project.Clone()
	if err := next.ReleaseUnit(ft); err != nil {
		return 0, &ValidationError{Field: "flat_type", Reason: err.Error()}
	}
	if err := s.store.SaveProject(ctx, next); err != nil {
		return 0, fmt.Errorf("save project %s: %w", projectID, err)
	}

	n := next.AvailableUnits(ft)
	s.recorder.AvailableUnits(projectID, ft, n)
	s.log.WithFields(logrus.Fields{
		"project_id": projectID,
		"flat_type":  ft,
		"staff_id":   actor,
		"available":  n,
	}).Warn("inventory corrected: unit released")
	return n, nil
}

// VisibleProjects lists the projects the applicant is shown right now.
func (s *Service) VisibleProjects(ctx context.Context, applicant *Applicant) ([]*Project, error) {
	if applicant == nil {
		return nil, &ValidationError{Field: "applicant", Reason: "required"}
	}
	all, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	now := s.clock.Now()
	visible := make([]*Project, 0, len(all))
	for _, p := range all {
		if IsVisibleTo(applicant, p, now) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) loadApplication(ctx context.Context, op Op, id ApplicationID) (*Application, error) {
	app, err := s.store.FindApplication(ctx, id)
	if err != nil {
		return nil, s.storeError(op, "load application", err)
	}
	if app == nil {
		return nil, &NotFoundError{Entity: "application", ID: string(id)}
	}
	return app, nil
}

// lockApplication locks on the stored application's keys, never the
// caller's copy, and returns the application reloaded under the locks. The
// project lock, when taken, is taken before the applicant lock. Project and
// applicant never change after submission, so the keys read before locking
// are the keys of the reloaded application.
func (s *Service) lockApplication(ctx context.Context, op Op, id ApplicationID, withProject bool) (*Application, func(), error) {
	stored, err := s.loadApplication(ctx, op, id)
	if err != nil {
		return nil, nil, err
	}

	var unlocks []func()
	if withProject {
		unlocks = append(unlocks, s.projects.Lock(string(stored.ProjectID)))
	}
	unlocks = append(unlocks, s.applicants.Lock(string(stored.ApplicantID)))
	unlock := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	current, err := s.loadApplication(ctx, op, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return current, unlock, nil
}

// atomically runs fn in a store transaction when the store supports one.
func (s *Service) atomically(ctx context.Context, fn func(Store) error) error {
	if tx, ok := s.store.(TxStore); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(s.store)
}

func (s *Service) refuse(log logrus.FieldLogger, op Op, reason error) Result {
	s.recorder.Outcome(op, OutcomeRefused)
	log.WithError(reason).Warn("operation refused")
	return refused(reason)
}

func (s *Service) storeError(op Op, what string, err error) error {
	s.recorder.Outcome(op, OutcomeError)
	return fmt.Errorf("%s: %s: %w", op, what, err)
}
