/*
inventory.go - Project and its per-flat-type unit inventory

PURPOSE:
  A Project offers a fixed number of units of each flat type at a unit
  price. The inventory is the ledger the booking step consumes: one
  successful booking reserves exactly one unit.

INVARIANTS:
  1. Available >= 0 for every flat type, always.
  2. Available only decreases through ReserveUnit (a booking) and only
     increases through ReleaseUnit (administrative correction).
  3. Asking about a flat type the project does not offer is not an error:
     it has 0 units and price 0.

CONCURRENCY:
  Project is a plain value. The Service serializes mutation per project;
  callers that mutate a Project directly own that responsibility.
*/
package allocation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVENTORY
// =============================================================================

// Allotment is the stock of one flat type within a project.
type Allotment struct {
	Available int
	Price     decimal.Decimal
}

// Inventory maps each offered flat type to its stock.
type Inventory map[FlatType]Allotment

func (inv Inventory) clone() Inventory {
	out := make(Inventory, len(inv))
	for k, v := range inv {
		out[k] = v
	}
	return out
}

// =============================================================================
// PROJECT
// =============================================================================

type Project struct {
	ID            ProjectID
	Name          string
	Neighbourhood string
	ManagerID     StaffID

	// Applications are accepted strictly between OpensAt and ClosesAt.
	OpensAt  time.Time
	ClosesAt time.Time
	Visible  bool

	OfficerSlots int
	OfficerIDs   []StaffID

	Inventory Inventory
	CreatedAt time.Time
}

// ProjectSpec describes a project to be created by staff.
type ProjectSpec struct {
	ID            ProjectID
	Name          string
	Neighbourhood string
	ManagerID     StaffID
	OpensAt       time.Time
	ClosesAt      time.Time
	Visible       bool
	OfficerSlots  int
	Inventory     Inventory
}

// NewProject validates spec and returns the project it describes.
func NewProject(spec ProjectSpec, createdAt time.Time) (*Project, error) {
	if spec.ID == "" {
		return nil, &ValidationError{Field: "project.id", Reason: "required"}
	}
	if spec.Name == "" {
		return nil, &ValidationError{Field: "project.name", Reason: "required"}
	}
	if !spec.ClosesAt.After(spec.OpensAt) {
		return nil, &ValidationError{Field: "project.closes_at", Reason: "must be after opens_at"}
	}
	if spec.OfficerSlots < 0 {
		return nil, &ValidationError{Field: "project.officer_slots", Reason: "must not be negative"}
	}
	if len(spec.Inventory) == 0 {
		return nil, &ValidationError{Field: "project.inventory", Reason: "at least one flat type required"}
	}
	for ft, a := range spec.Inventory {
		if !ft.Valid() {
			return nil, &ValidationError{Field: "project.inventory", Reason: fmt.Sprintf("unknown flat type %q", ft)}
		}
		if a.Available < 0 {
			return nil, &ValidationError{Field: "project.inventory", Reason: fmt.Sprintf("%s units must not be negative", ft)}
		}
		if !a.Price.IsPositive() {
			return nil, &ValidationError{Field: "project.inventory", Reason: fmt.Sprintf("%s price must be positive", ft)}
		}
	}

	return &Project{
		ID:            spec.ID,
		Name:          spec.Name,
		Neighbourhood: spec.Neighbourhood,
		ManagerID:     spec.ManagerID,
		OpensAt:       spec.OpensAt,
		ClosesAt:      spec.ClosesAt,
		Visible:       spec.Visible,
		OfficerSlots:  spec.OfficerSlots,
		Inventory:     spec.Inventory.clone(),
		CreatedAt:     createdAt,
	}, nil
}

// Offers reports whether the project sells the flat type at all.
func (p *Project) Offers(ft FlatType) bool {
	_, ok := p.Inventory[ft]
	return ok
}

// AvailableUnits returns the current count, 0 when the flat type is not offered.
func (p *Project) AvailableUnits(ft FlatType) int {
	return p.Inventory[ft].Available
}

// Price returns the unit price, zero when the flat type is not offered.
func (p *Project) Price(ft FlatType) decimal.Decimal {
	a, ok := p.Inventory[ft]
	if !ok {
		return decimal.Zero
	}
	return a.Price
}

// ReserveUnit decrements the count by exactly one.
// Fails with InventoryError if the flat type is absent or already at 0.
func (p *Project) ReserveUnit(ft FlatType) error {
	a, ok := p.Inventory[ft]
	if !ok {
		return &InventoryError{ProjectID: p.ID, FlatType: ft}
	}
	if a.Available <= 0 {
		return &InventoryError{ProjectID: p.ID, FlatType: ft, Available: a.Available, Offered: true}
	}
	a.Available--
	p.Inventory[ft] = a
	return nil
}

// ReleaseUnit increments the count by one. Administrative correction only.
func (p *Project) ReleaseUnit(ft FlatType) error {
	a, ok := p.Inventory[ft]
	if !ok {
		return &InventoryError{ProjectID: p.ID, FlatType: ft}
	}
	a.Available++
	p.Inventory[ft] = a
	return nil
}

// OfferedFlatTypes returns the offered flat types in display order.
func (p *Project) OfferedFlatTypes() []FlatType {
	var out []FlatType
	for _, ft := range FlatTypes {
		if p.Offers(ft) {
			out = append(out, ft)
		}
	}
	return out
}

// Clone returns a deep copy safe to mutate independently.
func (p *Project) Clone() *Project {
	c := *p
	c.Inventory = p.Inventory.clone()
	c.OfficerIDs = append([]StaffID(nil), p.OfficerIDs...)
	return &c
}
