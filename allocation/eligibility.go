/*
eligibility.go - Who may see and apply for what

Two filters run at different stages and must stay separate:

  VISIBILITY (which projects an applicant is shown):
    - project visible and inside its application window
    - age >= 21 if married, age >= 35 if single or divorced
    - single/divorced applicants only see projects offering TWO_ROOM

  FLAT-TYPE LEGALITY (what an applicant may select):
    - single/divorced: TWO_ROOM only
    - married: any flat type
    Age plays no part here.

All functions are pure.
*/
package allocation

import "time"

const (
	MinAgeMarried   = 21
	MinAgeUnmarried = 35
)

// IsProjectOpen reports whether the project accepts applications at now.
// Both window bounds are exclusive.
func IsProjectOpen(p *Project, now time.Time) bool {
	return p.Visible && now.After(p.OpensAt) && now.Before(p.ClosesAt)
}

// IsFlatTypeEligible reports whether the applicant may select ft.
func IsFlatTypeEligible(a *Applicant, ft FlatType) bool {
	if !ft.Valid() {
		return false
	}
	switch {
	case a.MaritalStatus == Married:
		return true
	case a.MaritalStatus.Unmarried():
		return ft == TwoRoom
	}
	return false
}

// MeetsAgeRequirement applies the minimum age for the applicant's marital status.
func MeetsAgeRequirement(a *Applicant) bool {
	switch {
	case a.MaritalStatus == Married:
		return a.Age >= MinAgeMarried
	case a.MaritalStatus.Unmarried():
		return a.Age >= MinAgeUnmarried
	}
	return false
}

// IsVisibleTo reports whether p appears in the applicant's project list.
func IsVisibleTo(a *Applicant, p *Project, now time.Time) bool {
	if !IsProjectOpen(p, now) || !MeetsAgeRequirement(a) {
		return false
	}
	for _, ft := range p.OfferedFlatTypes() {
		if IsFlatTypeEligible(a, ft) {
			return true
		}
	}
	return false
}

// HasNoConflictingApplication reports whether none of the applicant's
// applications is PENDING, SUCCESSFUL or BOOKED. Applications belonging to
// other applicants are ignored.
func HasNoConflictingApplication(a *Applicant, all []*Application) bool {
	return conflictingApplication(a.ID, all) == nil
}

func conflictingApplication(id ApplicantID, all []*Application) *Application {
	for _, app := range all {
		if app.ApplicantID == id && app.Active() {
			return app
		}
	}
	return nil
}
