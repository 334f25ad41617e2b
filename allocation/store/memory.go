// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/housing-engine/allocation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps copies of every entity. Readers receive copies too, so
// nothing outside the store can change stored state without Save*.
type Memory struct {
	mu           sync.RWMutex
	projects     map[allocation.ProjectID]*allocation.Project
	applications map[allocation.ApplicationID]*allocation.Application
	receipts     map[allocation.ReceiptID]*allocation.Receipt
	applicants   map[allocation.ApplicantID]*allocation.Applicant

	// Failure injection for tests: when set, SaveReceipt returns it.
	FailReceipts error
}

func NewMemory() *Memory {
	return &Memory{
		projects:     make(map[allocation.ProjectID]*allocation.Project),
		applications: make(map[allocation.ApplicationID]*allocation.Application),
		receipts:     make(map[allocation.ReceiptID]*allocation.Receipt),
		applicants:   make(map[allocation.ApplicantID]*allocation.Applicant),
	}
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) FindApplication(_ context.Context, id allocation.ApplicationID) (*allocation.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findApplicationLocked(id), nil
}

func (m *Memory) FindProject(_ context.Context, id allocation.ProjectID) (*allocation.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findProjectLocked(id), nil
}

func (m *Memory) ListProjects(_ context.Context) ([]*allocation.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProjectsLocked(), nil
}

func (m *Memory) ListApplicationsByApplicant(_ context.Context, id allocation.ApplicantID) ([]*allocation.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listApplicationsLocked(func(a *allocation.Application) bool { return a.ApplicantID == id }), nil
}

func (m *Memory) ListApplicationsByProject(_ context.Context, id allocation.ProjectID) ([]*allocation.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listApplicationsLocked(func(a *allocation.Application) bool { return a.ProjectID == id }), nil
}

func (m *Memory) FindReceiptByApplication(_ context.Context, id allocation.ApplicationID) (*allocation.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.receipts {
		if r.ApplicationID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListReceiptsByProject(_ context.Context, id allocation.ProjectID) ([]*allocation.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*allocation.Receipt
	for _, r := range m.receipts {
		if r.ProjectID == id {
			c := *r
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].IssuedAt.Before(result[j].IssuedAt) })
	return result, nil
}

func (m *Memory) FindApplicant(_ context.Context, id allocation.ApplicantID) (*allocation.Applicant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.applicants[id]
	if !ok {
		return nil, nil
	}
	return cloneApplicant(a), nil
}

func (m *Memory) findApplicationLocked(id allocation.ApplicationID) *allocation.Application {
	a, ok := m.applications[id]
	if !ok {
		return nil
	}
	return a.Clone()
}

func (m *Memory) findProjectLocked(id allocation.ProjectID) *allocation.Project {
	p, ok := m.projects[id]
	if !ok {
		return nil
	}
	return p.Clone()
}

func (m *Memory) listProjectsLocked() []*allocation.Project {
	result := make([]*allocation.Project, 0, len(m.projects))
	for _, p := range m.projects {
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (m *Memory) listApplicationsLocked(match func(*allocation.Application) bool) []*allocation.Application {
	var result []*allocation.Application
	for _, a := range m.applications {
		if match(a) {
			result = append(result, a.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// =============================================================================
// WRITES
// =============================================================================

func (m *Memory) SaveApplication(_ context.Context, app *allocation.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applications[app.ID] = app.Clone()
	return nil
}

func (m *Memory) SaveProject(_ context.Context, p *allocation.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p.Clone()
	return nil
}

func (m *Memory) SaveReceipt(_ context.Context, r *allocation.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveReceiptLocked(r)
}

func (m *Memory) SaveApplicant(_ context.Context, a *allocation.Applicant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applicants[a.ID] = cloneApplicant(a)
	return nil
}

func (m *Memory) saveReceiptLocked(r *allocation.Receipt) error {
	if m.FailReceipts != nil {
		return m.FailReceipts
	}
	c := *r
	m.receipts[r.ID] = &c
	return nil
}

func cloneApplicant(a *allocation.Applicant) *allocation.Applicant {
	c := *a
	c.AppliedProjectIDs = append([]allocation.ProjectID(nil), a.AppliedProjectIDs...)
	return &c
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against a locked view of the store.
// Simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(allocation.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	projects     map[allocation.ProjectID]*allocation.Project
	applications map[allocation.ApplicationID]*allocation.Application
	receipts     map[allocation.ReceiptID]*allocation.Receipt
}

// Entities are replaced on save, never mutated, so copying the maps is enough.
func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		projects:     make(map[allocation.ProjectID]*allocation.Project, len(m.projects)),
		applications: make(map[allocation.ApplicationID]*allocation.Application, len(m.applications)),
		receipts:     make(map[allocation.ReceiptID]*allocation.Receipt, len(m.receipts)),
	}
	for k, v := range m.projects {
		s.projects[k] = v
	}
	for k, v := range m.applications {
		s.applications[k] = v
	}
	for k, v := range m.receipts {
		s.receipts[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.projects = s.projects
	m.applications = s.applications
	m.receipts = s.receipts
}

// txView is handed to WithTx callbacks; the parent lock is already held.
type txView struct {
	parent *Memory
}

func (tv *txView) FindApplication(_ context.Context, id allocation.ApplicationID) (*allocation.Application, error) {
	return tv.parent.findApplicationLocked(id), nil
}

func (tv *txView) FindProject(_ context.Context, id allocation.ProjectID) (*allocation.Project, error) {
	return tv.parent.findProjectLocked(id), nil
}

func (tv *txView) ListProjects(_ context.Context) ([]*allocation.Project, error) {
	return tv.parent.listProjectsLocked(), nil
}

func (tv *txView) ListApplicationsByApplicant(_ context.Context, id allocation.ApplicantID) ([]*allocation.Application, error) {
	return tv.parent.listApplicationsLocked(func(a *allocation.Application) bool { return a.ApplicantID == id }), nil
}

func (tv *txView) ListApplicationsByProject(_ context.Context, id allocation.ProjectID) ([]*allocation.Application, error) {
	return tv.parent.listApplicationsLocked(func(a *allocation.Application) bool { return a.ProjectID == id }), nil
}

func (tv *txView) SaveApplication(_ context.Context, app *allocation.Application) error {
	tv.parent.applications[app.ID] = app.Clone()
	return nil
}

func (tv *txView) SaveProject(_ context.Context, p *allocation.Project) error {
	tv.parent.projects[p.ID] = p.Clone()
	return nil
}

func (tv *txView) SaveReceipt(_ context.Context, r *allocation.Receipt) error {
	return tv.parent.saveReceiptLocked(r)
}

// Compile-time checks
var (
	_ allocation.TxStore        = (*Memory)(nil)
	_ allocation.ReceiptStore   = (*Memory)(nil)
	_ allocation.ApplicantStore = (*Memory)(nil)
)
