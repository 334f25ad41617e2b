/*
scheduler.go - Scheduled inventory gauge refresh

PURPOSE:
  Periodically lists every project and publishes its available units per
  flat type to the available_units gauge. Bookings and corrections update
  the gauge as they happen; the refresh covers projects created or edited
  outside the service and a freshly started process.

DESIGN:
  - robfig/cron schedule in UTC, spec from config (default "@every 1m")
  - Runs once on Start, then on every tick
  - Each run has its own timeout; a failed run is logged and counted

USAGE:
  refresher := NewInventoryRefresher(store, m, logger)
  if err := refresher.Start(cfg.InventoryRefreshSpec); err != nil { ... }
  defer refresher.Stop()

SEE ALSO:
  - metrics/metrics.go: available_units gauge, refresh_runs_total
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/housing-engine/allocation"
	"github.com/warp/housing-engine/metrics"
)

const refreshTimeout = 30 * time.Second

// InventoryRefresher publishes inventory levels on a cron schedule.
type InventoryRefresher struct {
	Store   allocation.Store
	Metrics *metrics.Metrics
	Log     logrus.FieldLogger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewInventoryRefresher creates a stopped refresher.
func NewInventoryRefresher(store allocation.Store, m *metrics.Metrics, log logrus.FieldLogger) *InventoryRefresher {
	return &InventoryRefresher{
		Store:   store,
		Metrics: m,
		Log:     log,
	}
}

// Start runs one refresh and schedules the rest.
func (ir *InventoryRefresher) Start(spec string) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	if ir.cron != nil {
		return fmt.Errorf("inventory refresher already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, ir.runOnce); err != nil {
		return fmt.Errorf("schedule inventory refresh %q: %w", spec, err)
	}

	ir.runOnce()
	c.Start()
	ir.cron = c

	ir.Log.WithField("spec", spec).Info("Inventory refresher started")
	return nil
}

// Stop stops the schedule and waits for a running refresh to finish.
func (ir *InventoryRefresher) Stop() {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	if ir.cron == nil {
		return
	}
	<-ir.cron.Stop().Done()
	ir.cron = nil
	ir.Log.Info("Inventory refresher stopped")
}

func (ir *InventoryRefresher) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	n, err := ir.Refresh(ctx)
	ir.Metrics.RecordRefresh(err == nil)
	if err != nil {
		ir.Log.WithError(err).Error("Inventory refresh failed")
		return
	}
	ir.Log.WithField("projects", n).Debug("Inventory refreshed")
}

// Refresh publishes the current inventory of every project and returns the
// number of projects seen.
func (ir *InventoryRefresher) Refresh(ctx context.Context) (int, error) {
	projects, err := ir.Store.ListProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("list projects: %w", err)
	}

	rec := ir.Metrics.Recorder()
	for _, p := range projects {
		for _, ft := range p.OfferedFlatTypes() {
			rec.AvailableUnits(p.ID, ft, p.AvailableUnits(ft))
		}
	}
	return len(projects), nil
}
