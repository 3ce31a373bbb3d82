package mirror

import (
	"context"
	"fmt"

	"github.com/opsboard/flowmirror/internal/store"
)

// Result reports one entity type's reconciliation: how many incoming
// records were written (inserts and updates alike) and how many stale rows
// were evicted.
type Result struct {
	Upserted int
	Deleted  int
}

// Reconciler applies one cycle's incoming record set to the store. Upserts
// for a batch commit as one unit, stale deletion as another; a failure in
// either leaves the other's work intact.
//
// Staleness is computed against the union of ids reported by all reachable
// sources this cycle. A source that failed to fetch contributes nothing, so
// a prolonged outage evicts its records. That is the documented
// availability trade-off, not a bug.
type Reconciler struct {
	store store.Store
}

func NewReconciler(st store.Store) *Reconciler {
	return &Reconciler{store: st}
}

// ReconcileWorkflows upserts the incoming set, then deletes every stored
// workflow not in it, cascading to executions and access grants so no
// orphaned dependents remain.
func (r *Reconciler) ReconcileWorkflows(ctx context.Context, incoming []store.Workflow) (Result, error) {
	if err := r.store.UpsertWorkflows(ctx, incoming); err != nil {
		return Result{}, fmt.Errorf("upsert workflows: %w", err)
	}
	result := Result{Upserted: len(incoming)}

	currentIDs, err := r.store.ListWorkflowIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("list workflow ids: %w", err)
	}
	incomingIDs := make(map[string]struct{}, len(incoming))
	for _, wf := range incoming {
		incomingIDs[wf.ID] = struct{}{}
	}
	stale := staleIDs(currentIDs, incomingIDs)
	if len(stale) == 0 {
		return result, nil
	}
	if err := r.store.DeleteWorkflowsCascade(ctx, stale); err != nil {
		return result, fmt.Errorf("delete stale workflows: %w", err)
	}
	result.Deleted = len(stale)
	return result, nil
}

// ReconcileExecutions mirrors ReconcileWorkflows for executions. It must
// run after workflow reconciliation: execution staleness depends on the
// now-current workflow set.
func (r *Reconciler) ReconcileExecutions(ctx context.Context, incoming []store.Execution) (Result, error) {
	if err := r.store.UpsertExecutions(ctx, incoming); err != nil {
		return Result{}, fmt.Errorf("upsert executions: %w", err)
	}
	result := Result{Upserted: len(incoming)}

	currentIDs, err := r.store.ListExecutionIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("list execution ids: %w", err)
	}
	incomingIDs := make(map[string]struct{}, len(incoming))
	for _, ex := range incoming {
		incomingIDs[ex.ID] = struct{}{}
	}
	stale := staleIDs(currentIDs, incomingIDs)
	if len(stale) == 0 {
		return result, nil
	}
	if err := r.store.DeleteExecutions(ctx, stale); err != nil {
		return result, fmt.Errorf("delete stale executions: %w", err)
	}
	result.Deleted = len(stale)
	return result, nil
}

func staleIDs(current []string, incoming map[string]struct{}) []string {
	var stale []string
	for _, id := range current {
		if _, ok := incoming[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}
