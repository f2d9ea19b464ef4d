// Package reconcile runs the periodic counter-healing worker. The cached
// selected_count on a statement can drift when rows are changed outside the
// service (manual SQL, partial restores); the worker folds it back to the
// actual registration count.
package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// CountHealer is the slice of the store the worker needs. The flat-file
// backend never caches counts and does not implement it.
type CountHealer interface {
	ReconcileCounts(ctx context.Context) (int64, error)
}

// Reconciler handles periodic healing of cached statement counters.
type Reconciler struct {
	store    CountHealer
	interval time.Duration
}

// NewReconciler creates a reconcile worker.
func NewReconciler(store CountHealer, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Reconciler{
		store:    store,
		interval: interval,
	}
}

// Start begins the reconcile worker in a goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Reconciler) run(ctx context.Context) {
	slog.Info("reconcile worker started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on start
	r.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	slog.Debug("running reconcile cycle")

	healed, err := r.store.ReconcileCounts(ctx)
	if err != nil {
		slog.Error("failed to reconcile statement counters", "error", err)
		return
	}

	if healed == 0 {
		slog.Debug("statement counters already consistent")
		return
	}
	slog.Info("healed drifted statement counters", "count", healed)
}
