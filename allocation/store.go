/*
store.go - Persistence interfaces consumed by the allocation core

PURPOSE:
  The core never reads or writes durable state itself. It resolves every
  reference (application -> project, applicant -> applications) through
  Store and hands mutated entities back to it.

CONTRACT:
  - Find* return (nil, nil) when the record does not exist.
  - Returned entities are copies; mutating them does not change the store
    until Save* is called.
  - Save* upserts by ID.

ATOMIC WRITES:
  Booking writes an application, a project and a receipt. A TxStore runs
  all three inside WithTx so they commit or roll back together.

IMPLEMENTATIONS:
  - allocation/store/memory.go: in-memory, for tests
  - store/sqlite/sqlite.go: SQLite
*/
package allocation

import "context"

// Store is the persistence collaborator of the Service.
type Store interface {
	FindApplication(ctx context.Context, id ApplicationID) (*Application, error)
	FindProject(ctx context.Context, id ProjectID) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	ListApplicationsByApplicant(ctx context.Context, id ApplicantID) ([]*Application, error)
	ListApplicationsByProject(ctx context.Context, id ProjectID) ([]*Application, error)

	SaveApplication(ctx context.Context, app *Application) error
	SaveProject(ctx context.Context, p *Project) error
	SaveReceipt(ctx context.Context, r *Receipt) error
}

// TxStore runs fn against a transactional view of the store.
// If fn returns an error, nothing fn wrote is kept.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// ReceiptStore reads booking receipts back.
type ReceiptStore interface {
	FindReceiptByApplication(ctx context.Context, id ApplicationID) (*Receipt, error)
	ListReceiptsByProject(ctx context.Context, id ProjectID) ([]*Receipt, error)
}

// ApplicantStore keeps applicant records for the presentation layer.
// The Service itself only receives Applicant values.
type ApplicantStore interface {
	FindApplicant(ctx context.Context, id ApplicantID) (*Applicant, error)
	SaveApplicant(ctx context.Context, a *Applicant) error
}
