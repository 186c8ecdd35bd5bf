package persistence

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/tasks"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func fixedRand() tasks.Option {
	return tasks.WithRand(func() float64 { return 0.25 })
}

func loopWorkflow(t *testing.T, n int) *scheduler.Workflow {
	t.Helper()
	bp, err := tasks.LoopBlueprint(n, fixedRand())
	if err != nil {
		t.Fatalf("LoopBlueprint failed: %v", err)
	}
	wf, err := scheduler.NewWorkflow(bp)
	if err != nil {
		t.Fatalf("NewWorkflow failed: %v", err)
	}
	return wf
}

// step runs one claimable node and reports whether there was one.
func step(t *testing.T, wf *scheduler.Workflow) bool {
	t.Helper()
	claims := wf.Claim(1)
	if len(claims) == 0 {
		return false
	}
	c := claims[0]
	if c.Err != nil {
		_ = wf.Fail(c.Node.ID, c.Err)
		return true
	}
	action, err := c.Node.Task.Execute(context.Background(), c.Input)
	if err != nil {
		_ = wf.Fail(c.Node.ID, &scheduler.TaskExecutionError{NodeID: c.Node.ID, Kind: c.Node.Kind(), Err: err})
		return true
	}
	if _, err := wf.Complete(c.Node.ID, action); err != nil {
		t.Logf("node %s failed on completion: %v", c.Node.ID, err)
	}
	return true
}

func drive(t *testing.T, wf *scheduler.Workflow) {
	t.Helper()
	for step(t, wf) {
	}
}

func TestSubmitAssignsID(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	wf := loopWorkflow(t, 2)
	id, err := store.Submit(ctx, wf)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("expected a UUID, got %q: %v", id, err)
	}
	if wf.ID() != id {
		t.Errorf("workflow ID = %q, want %q", wf.ID(), id)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 workflow, got %d", len(list))
	}
	got := list[0]
	if got.ID != id || got.Name != "Loop workflow" || got.Nodes != 2 {
		t.Errorf("unexpected summary: %+v", got)
	}
	if got.Status != scheduler.WorkflowPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("bad timestamps: created %v, updated %v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestSubmitKeepsExistingID(t *testing.T) {
	store := testStore(t)

	wf := loopWorkflow(t, 1)
	wf.SetID("wf-fixed")
	id, err := store.Submit(context.Background(), wf)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id != "wf-fixed" {
		t.Errorf("id = %q, want wf-fixed", id)
	}
}

func TestSaveRunRequiresID(t *testing.T) {
	store := testStore(t)

	if err := store.SaveRun(context.Background(), loopWorkflow(t, 1)); err == nil {
		t.Fatal("expected error saving a workflow without ID")
	}
}

func TestSaveRunIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	wf := loopWorkflow(t, 1)
	if _, err := store.Submit(ctx, wf); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.SaveRun(ctx, wf); err != nil {
			t.Fatalf("SaveRun #%d failed: %v", i, err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 workflow after repeated saves, got %d", len(list))
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	wf := loopWorkflow(t, 2)
	if _, err := store.Submit(ctx, wf); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	drive(t, wf)
	if err := store.SaveRun(ctx, wf); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	loaded, err := store.Load(ctx, wf.ID(), tasks.NewRegistry(fixedRand()))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := wf.Report()
	got := loaded.Report()

	if got.Status != scheduler.WorkflowCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if len(got.Nodes) != 9 || len(got.Nodes) != len(want.Nodes) {
		t.Fatalf("expected 9 nodes, got %d (original %d)", len(got.Nodes), len(want.Nodes))
	}

	for _, wn := range want.Nodes {
		gn, ok := got.Node(wn.ID)
		if !ok {
			t.Errorf("node %s missing after load", wn.ID)
			continue
		}
		if gn.Name != wn.Name || gn.Kind != wn.Kind || gn.Origin != wn.Origin || gn.Status != wn.Status {
			t.Errorf("node %s: got %+v, want %+v", wn.ID, gn, wn)
		}
		if !gn.StartedAt.Equal(wn.StartedAt) || !gn.FinishedAt.Equal(wn.FinishedAt) {
			t.Errorf("node %s: timestamps not preserved", wn.ID)
		}
		if !reflect.DeepEqual(loaded.Parents(wn.ID), wf.Parents(wn.ID)) {
			t.Errorf("node %s: parents = %v, want %v", wn.ID, loaded.Parents(wn.ID), wf.Parents(wn.ID))
		}
	}

	if string(got.Results.JSON()) != string(want.Results.JSON()) {
		t.Errorf("results = %s, want %s", got.Results.JSON(), want.Results.JSON())
	}

	n, ok := loaded.Node("analyse/analyse")
	if !ok {
		t.Fatal("detour analysis node not loaded")
	}
	if n.Seed["success"] != true {
		t.Errorf("seed not preserved: %v", n.Seed)
	}
}

func TestLoadResetsInterruptedNodes(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	wf := loopWorkflow(t, 1)
	if _, err := store.Submit(ctx, wf); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if claims := wf.Claim(0); len(claims) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(claims))
	}
	if err := store.SaveRun(ctx, wf); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	loaded, err := store.Load(ctx, wf.ID(), tasks.NewRegistry(fixedRand()))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	n, _ := loaded.Node("generate")
	if n.Status != scheduler.NodePending {
		t.Errorf("generate status = %s, want pending", n.Status)
	}
	if !n.StartedAt.IsZero() {
		t.Error("expected StartedAt to be cleared")
	}
}

func TestLoadedWorkflowResumes(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	reg := tasks.NewRegistry(fixedRand())

	wf := loopWorkflow(t, 2)
	if _, err := store.Submit(ctx, wf); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// generate plus its two structures
	for i := 0; i < 3; i++ {
		if !step(t, wf) {
			t.Fatalf("ran out of nodes after %d steps", i)
		}
	}
	if err := store.SaveRun(ctx, wf); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	loaded, err := store.Load(ctx, wf.ID(), reg)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	drive(t, loaded)

	rep := loaded.Report()
	if rep.Status != scheduler.WorkflowCompleted {
		t.Errorf("status = %s, want completed", rep.Status)
	}
	if rep.Progress.Total != 9 {
		t.Errorf("expected 9 nodes, got %d", rep.Progress.Total)
	}

	if err := store.SaveRun(ctx, loaded); err != nil {
		t.Fatalf("SaveRun of resumed workflow failed: %v", err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].Status != scheduler.WorkflowCompleted || list[0].Nodes != 9 {
		t.Errorf("unexpected summaries: %+v", list)
	}
}

func TestFailedNodeErrorPersisted(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	bp, err := tasks.PipelineBlueprint("db", "42", tasks.PipelineOptions{Failing: []int{3}})
	if err != nil {
		t.Fatalf("PipelineBlueprint failed: %v", err)
	}
	wf, err := scheduler.NewWorkflow(bp)
	if err != nil {
		t.Fatalf("NewWorkflow failed: %v", err)
	}
	if _, err := store.Submit(ctx, wf); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	drive(t, wf)
	if err := store.SaveRun(ctx, wf); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	loaded, err := store.Load(ctx, wf.ID(), tasks.NewRegistry())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	orig, _ := wf.Node("action3")
	n, _ := loaded.Node("action3")
	if n.Status != scheduler.NodeFailed {
		t.Fatalf("action3 status = %s, want failed", n.Status)
	}
	if n.Err == nil || n.Err.Error() != orig.Err.Error() {
		t.Errorf("error = %v, want %v", n.Err, orig.Err)
	}

	rep := loaded.Report()
	if rep.Status != scheduler.WorkflowBlocked {
		t.Errorf("status = %s, want blocked", rep.Status)
	}
	for _, id := range []string{"action4", "save"} {
		nr, _ := rep.Node(id)
		if !nr.Blocked {
			t.Errorf("%s should be blocked", id)
		}
	}
}

func TestLoadNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.Load(context.Background(), "missing", tasks.NewRegistry())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadUnknownKind(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	wf := loopWorkflow(t, 1)
	if _, err := store.Submit(ctx, wf); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, err := store.Load(ctx, wf.ID(), scheduler.NewRegistry())
	var cfgErr *scheduler.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected *ConfigurationError, got %v", err)
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	ctx := context.Background()

	if _, err := a.Submit(ctx, loopWorkflow(t, 1)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	list, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty store, got %d workflows", len(list))
	}
}

func TestNodeOutput(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	wf := loopWorkflow(t, 1)
	id, err := store.Submit(ctx, wf)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	empty, err := store.GetOutput(ctx, id, "generate")
	if err != nil {
		t.Fatalf("GetOutput failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", empty)
	}

	writes := []struct{ node, line string }{
		{"generate", "first"},
		{"analyse", "other"},
		{"generate", "second"},
	}
	for _, w := range writes {
		if err := store.SaveOutput(ctx, id, w.node, w.line); err != nil {
			t.Fatalf("SaveOutput failed: %v", err)
		}
	}

	lines, err := store.GetOutput(ctx, id, "generate")
	if err != nil {
		t.Fatalf("GetOutput failed: %v", err)
	}
	var got []string
	for _, l := range lines {
		got = append(got, l.Line)
	}
	if !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Errorf("lines = %v", got)
	}

	all, err := store.GetOutput(ctx, id, "")
	if err != nil {
		t.Fatalf("GetOutput failed: %v", err)
	}
	if len(all) != 3 || all[1].NodeID != "analyse" {
		t.Errorf("unexpected output: %+v", all)
	}
}

func TestForeignKeyEnforced(t *testing.T) {
	store := testStore(t)

	err := store.SaveOutput(context.Background(), "no-such-workflow", "n", "line")
	if err == nil {
		t.Fatal("expected error when writing output for a non-existent workflow, got nil")
	}
}
