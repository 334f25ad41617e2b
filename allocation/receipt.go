package allocation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt records a completed booking. It is written in the same atomic
// unit as the booked application and the decremented project.
type Receipt struct {
	ID            ReceiptID
	ApplicationID ApplicationID
	ApplicantID   ApplicantID
	ProjectID     ProjectID
	ProjectName   string
	Neighbourhood string
	FlatType      FlatType
	UnitNumber    string
	Price         decimal.Decimal
	OfficerID     StaffID
	IssuedAt      time.Time
}
