package mirror

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsboard/flowmirror/internal/store"
	"github.com/opsboard/flowmirror/internal/store/sqlstore"
)

func newTestStore(t *testing.T) *sqlstore.SQLStore {
	t.Helper()
	st, err := sqlstore.Open(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("open test store failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func workflowFixture(id, name string) store.Workflow {
	return store.Workflow{ID: id, Name: name, Active: true, UpdatedAt: time.Now().UTC()}
}

func TestReconcileWorkflowsUpsertsAndEvictsStale(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	reconciler := NewReconciler(st)

	first := []store.Workflow{
		workflowFixture("env:w1", "One"),
		workflowFixture("env:w2", "Two"),
	}
	result, err := reconciler.ReconcileWorkflows(ctx, first)
	if err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}
	if result.Upserted != 2 || result.Deleted != 0 {
		t.Fatalf("unexpected first result: %+v", result)
	}

	// w2 disappears upstream; w1 is renamed.
	second := []store.Workflow{workflowFixture("env:w1", "One renamed")}
	result, err = reconciler.ReconcileWorkflows(ctx, second)
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected 1 stale workflow evicted, got %d", result.Deleted)
	}

	remaining, err := st.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("list workflows failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "env:w1" {
		t.Fatalf("expected only env:w1 to remain, got %+v", remaining)
	}
	if remaining[0].Name != "One renamed" {
		t.Fatalf("expected upsert to overwrite name, got %q", remaining[0].Name)
	}
}

func TestReconcileWorkflowsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	reconciler := NewReconciler(st)

	incoming := []store.Workflow{workflowFixture("env:w1", "One")}
	for i := 0; i < 3; i++ {
		result, err := reconciler.ReconcileWorkflows(ctx, incoming)
		if err != nil {
			t.Fatalf("reconcile %d failed: %v", i, err)
		}
		if result.Deleted != 0 {
			t.Fatalf("reconcile %d evicted %d rows from an unchanged set", i, result.Deleted)
		}
	}
	ids, err := st.ListWorkflowIDs(ctx)
	if err != nil {
		t.Fatalf("list ids failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected exactly one row after repeated reconciles, got %d", len(ids))
	}
}

func TestStaleWorkflowDeletionCascades(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	reconciler := NewReconciler(st)

	workflows := []store.Workflow{
		workflowFixture("env:w1", "Kept"),
		workflowFixture("env:w2", "Doomed"),
	}
	if _, err := reconciler.ReconcileWorkflows(ctx, workflows); err != nil {
		t.Fatalf("seed workflows failed: %v", err)
	}
	executions := []store.Execution{
		{ID: "env:e1", WorkflowID: "env:w1", Status: "finished", Finished: true},
		{ID: "env:e2", WorkflowID: "env:w2", Status: "finished", Finished: true},
	}
	if _, err := reconciler.ReconcileExecutions(ctx, executions); err != nil {
		t.Fatalf("seed executions failed: %v", err)
	}
	if _, _, err := st.GrantAccess(ctx, "user-1", []string{"env:w1", "env:w2"}); err != nil {
		t.Fatalf("seed grants failed: %v", err)
	}

	if _, err := reconciler.ReconcileWorkflows(ctx, workflows[:1]); err != nil {
		t.Fatalf("reconcile with w2 gone failed: %v", err)
	}

	execIDs, err := st.ListExecutionIDs(ctx)
	if err != nil {
		t.Fatalf("list execution ids failed: %v", err)
	}
	if len(execIDs) != 1 || execIDs[0] != "env:e1" {
		t.Fatalf("expected w2's execution to be cascaded away, got %v", execIDs)
	}
	grants, err := st.ListAccessibleWorkflowIDs(ctx, "user-1")
	if err != nil {
		t.Fatalf("list grants failed: %v", err)
	}
	if len(grants) != 1 || grants[0] != "env:w1" {
		t.Fatalf("expected w2's grant to be cascaded away, got %v", grants)
	}
}

func TestReconcileExecutionsEvictsStale(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	reconciler := NewReconciler(st)

	if _, err := reconciler.ReconcileWorkflows(ctx, []store.Workflow{workflowFixture("env:w1", "One")}); err != nil {
		t.Fatalf("seed workflow failed: %v", err)
	}
	first := []store.Execution{
		{ID: "env:e1", WorkflowID: "env:w1", Status: "finished", Finished: true},
		{ID: "env:e2", WorkflowID: "env:w1", Status: "running"},
	}
	if _, err := reconciler.ReconcileExecutions(ctx, first); err != nil {
		t.Fatalf("first execution reconcile failed: %v", err)
	}

	result, err := reconciler.ReconcileExecutions(ctx, first[:1])
	if err != nil {
		t.Fatalf("second execution reconcile failed: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected 1 stale execution evicted, got %d", result.Deleted)
	}
	ids, err := st.ListExecutionIDs(ctx)
	if err != nil {
		t.Fatalf("list execution ids failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "env:e1" {
		t.Fatalf("expected only env:e1 to remain, got %v", ids)
	}
}

func TestReconcileEmptyIncomingClearsStore(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	reconciler := NewReconciler(st)

	if _, err := reconciler.ReconcileWorkflows(ctx, []store.Workflow{workflowFixture("env:w1", "One")}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	result, err := reconciler.ReconcileWorkflows(ctx, nil)
	if err != nil {
		t.Fatalf("empty reconcile failed: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected the lone workflow to be evicted, got %+v", result)
	}
	ids, err := st.ListWorkflowIDs(ctx)
	if err != nil {
		t.Fatalf("list ids failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty store, got %v", ids)
	}
}
