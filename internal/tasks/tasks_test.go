package tasks

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/results"
	"github.com/aristath/taskflow/internal/scheduler"
)

func fixedRand(v float64) Option {
	return WithRand(func() float64 { return v })
}

// apply runs a task against snap and applies its writes to a fresh store
// seeded with snap.
func apply(t *testing.T, task scheduler.Task, snap results.Snapshot) (results.Snapshot, *scheduler.Action) {
	t.Helper()
	action, err := task.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("%s: Execute failed: %v", task.Kind(), err)
	}
	store, err := results.FromJSON(snap.JSON())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Apply(action.Writes()...); err != nil {
		t.Fatalf("%s: applying writes failed: %v", task.Kind(), err)
	}
	return store.Snapshot(), action
}

func TestConstructorsRequireInputs(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		kind    string
		params  scheduler.Params
		missing []string
	}{
		{KindRunMD, nil, []string{"structure"}},
		{KindGenerateStructures, nil, []string{"n_structures"}},
		{KindAnalyse, nil, []string{"n_structures"}},
		{KindFetchItem, scheduler.Params{"item_id": "1"}, []string{"db_data"}},
		{KindFetchItem, nil, []string{"db_data", "item_id"}},
		{KindProcessItem, nil, []string{"action"}},
		{KindSaveItem, nil, []string{"item_id"}},
		{KindCommand, nil, []string{"command"}},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			_, err := reg.Build(tt.kind, tt.params)
			var cfgErr *scheduler.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigurationError, got %v", err)
			}
			if !reflect.DeepEqual(cfgErr.Missing, tt.missing) {
				t.Errorf("missing = %v, want %v", cfgErr.Missing, tt.missing)
			}
		})
	}
}

func TestConstructorsRejectBadValues(t *testing.T) {
	reg := NewRegistry()
	bad := []struct {
		kind   string
		params scheduler.Params
	}{
		{KindRunMD, scheduler.Params{"structure": -1}},
		{KindRunMD, scheduler.Params{"structure": "abc"}},
		{KindGenerateStructures, scheduler.Params{"n_structures": 1.5}},
		{KindCommand, scheduler.Params{"command": ""}},
		{KindCommand, scheduler.Params{"command": "echo", "args": []any{"a", 1}}},
	}
	for _, tt := range bad {
		if _, err := reg.Build(tt.kind, tt.params); err == nil {
			t.Errorf("%s %v: expected error", tt.kind, tt.params)
		}
	}
}

func TestRegistryKinds(t *testing.T) {
	want := []string{KindAnalyse, KindCommand, KindFetchItem, KindGenerateStructures, KindProcessItem, KindRunMD, KindSaveItem}
	if got := NewRegistry().Kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}
}

func TestRunMDMergesScore(t *testing.T) {
	task, err := NewRunMD(scheduler.Params{"structure": 7}, fixedRand(0.25))
	if err != nil {
		t.Fatal(err)
	}
	snap, _ := apply(t, task, results.EmptySnapshot())

	got, ok := snap.Lookup(KeyMDResults, "structure7")
	if !ok || got != 0.25 {
		t.Errorf("md_results->structure7 = %v, %v", got, ok)
	}
}

func TestGenerateStructuresDetour(t *testing.T) {
	task, err := NewGenerateStructures(scheduler.Params{"n_structures": 3})
	if err != nil {
		t.Fatal(err)
	}
	action, err := task.Execute(context.Background(), results.EmptySnapshot())
	if err != nil {
		t.Fatal(err)
	}

	bp := action.DetourBlueprint()
	if bp == nil || len(bp.Nodes) != 3 {
		t.Fatalf("expected 3-node detour, got %+v", bp)
	}
	for i, spec := range bp.Nodes {
		if spec.Task.Kind() != KindRunMD {
			t.Errorf("node %d: expected run_md, got %s", i, spec.Task.Kind())
		}
		if len(spec.Parents) != 0 {
			t.Errorf("node %d: run_md nodes should be parallel, parents %v", i, spec.Parents)
		}
		if n, _ := spec.Task.Params().Int("structure"); n != i {
			t.Errorf("node %d: structure %d", i, n)
		}
	}
}

func TestAnalyseDetoursUntilSuccess(t *testing.T) {
	task, err := NewAnalyse(scheduler.Params{"n_structures": 2})
	if err != nil {
		t.Fatal(err)
	}

	action, err := task.Execute(context.Background(), results.EmptySnapshot())
	if err != nil {
		t.Fatal(err)
	}
	bp := action.DetourBlueprint()
	if bp == nil {
		t.Fatal("expected a detour when success is not set")
	}
	if bp.Name != "Loop workflow" || len(bp.Nodes) != 2 {
		t.Fatalf("unexpected detour %s with %d nodes", bp.Name, len(bp.Nodes))
	}
	if n, _ := bp.Nodes[0].Task.Params().Int("n_structures"); n != 3 {
		t.Errorf("expected next loop with 3 structures, got %d", n)
	}
	if seed := bp.Terminal().Seed[KeySuccess]; seed != true {
		t.Errorf("terminal node should be seeded with success, got %v", seed)
	}

	seeded, err := results.EmptySnapshot().With(map[string]any{KeySuccess: true})
	if err != nil {
		t.Fatal(err)
	}
	action, err = task.Execute(context.Background(), seeded)
	if err != nil {
		t.Fatal(err)
	}
	if action.DetourBlueprint() != nil || len(action.Writes()) != 0 {
		t.Error("analysis should finish without effects on success")
	}
}

func TestFetchProcessSave(t *testing.T) {
	fetch, _ := NewFetchItem(scheduler.Params{"item_id": "42", "db_data": "localhost"})
	snap, _ := apply(t, fetch, results.EmptySnapshot())
	if got := snap.String(KeyItemToProcess); got != "item-42" {
		t.Fatalf("item_to_process = %q", got)
	}

	process, _ := NewProcessItem(scheduler.Params{"action": "action0"})
	snap, _ = apply(t, process, snap)
	if got := snap.String(KeyItemToProcess); got != "item-42" {
		t.Errorf("process_item changed the item: %q", got)
	}

	save, _ := NewSaveItem(scheduler.Params{"item_id": "42", "db_data": "localhost"})
	_, action := apply(t, save, snap)
	if action != nil {
		t.Errorf("save_item should have no effects, got %+v", action)
	}

	failing, _ := NewProcessItem(scheduler.Params{"action": "action3", "fail": true})
	if _, err := failing.Execute(context.Background(), snap); err == nil || !strings.Contains(err.Error(), "item-42") {
		t.Errorf("expected failure mentioning the item, got %v", err)
	}
}

func TestTasksHonourCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetch, _ := NewFetchItem(scheduler.Params{"item_id": "1", "db_data": "x"})
	if _, err := fetch.Execute(ctx, results.EmptySnapshot()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCommandStoresOutput(t *testing.T) {
	task, err := NewCommand(scheduler.Params{
		"command":    "sh",
		"args":       []any{"-c", "echo '  hello  '; echo warn >&2"},
		"result_key": "greeting",
	})
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicNode, 10)
	ctx := events.WithNodeOutput(context.Background(), bus, "wf", "cmd")

	action, err := task.Execute(ctx, results.EmptySnapshot())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	store := results.NewStore()
	if err := store.Apply(action.Writes()...); err != nil {
		t.Fatal(err)
	}
	if got := store.Snapshot().String("greeting"); got != "hello" {
		t.Errorf("greeting = %q, want hello", got)
	}

	lines := 0
	for len(ch) > 0 {
		ev := <-ch
		if _, ok := ev.(events.NodeOutputEvent); ok {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("expected 2 output events, got %d", lines)
	}
}

func TestCommandDefaultsAndFailure(t *testing.T) {
	task, err := NewCommand(scheduler.Params{"command": "sh", "args": []string{"-c", "exit 2"}})
	if err != nil {
		t.Fatal(err)
	}
	if task.key != DefaultResultKey {
		t.Errorf("expected default result key, got %q", task.key)
	}
	if _, err := task.Execute(context.Background(), results.EmptySnapshot()); err == nil {
		t.Error("expected error from failing command")
	}
}

func TestLoopBlueprint(t *testing.T) {
	bp, err := LoopBlueprint(2)
	if err != nil {
		t.Fatal(err)
	}
	if err := bp.Validate(); err != nil {
		t.Fatal(err)
	}
	if bp.Name != "Loop workflow" {
		t.Errorf("unexpected name %q", bp.Name)
	}
	if bp.Nodes[0].Task.Kind() != KindGenerateStructures || bp.Nodes[1].Task.Kind() != KindAnalyse {
		t.Errorf("unexpected kinds %s -> %s", bp.Nodes[0].Task.Kind(), bp.Nodes[1].Task.Kind())
	}
	if !reflect.DeepEqual(bp.Nodes[1].Parents, []string{"generate"}) {
		t.Errorf("analyse parents = %v", bp.Nodes[1].Parents)
	}
}

func TestPipelineBlueprint(t *testing.T) {
	tests := []struct {
		name     string
		opts     PipelineOptions
		wantKeys []string
		failing  []string
		wantErr  bool
	}{
		{
			name:     "default",
			wantKeys: []string{"fetch", "action0", "action1", "action2", "action3", "action4", "save"},
		},
		{
			name:     "action3 fails",
			opts:     PipelineOptions{Failing: []int{3}},
			wantKeys: []string{"fetch", "action0", "action1", "action2", "action3", "action4", "save"},
			failing:  []string{"action3"},
		},
		{
			name:     "extra failing step",
			opts:     PipelineOptions{Steps: 2, ExtraFailingStep: true},
			wantKeys: []string{"fetch", "action0", "action1", "action2", "save"},
			failing:  []string{"action2"},
		},
		{name: "out of range", opts: PipelineOptions{Failing: []int{5}}, wantErr: true},
		{name: "negative steps", opts: PipelineOptions{Steps: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bp, err := PipelineBlueprint("localhost", "42", tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			var keys, failing []string
			for i, spec := range bp.Nodes {
				keys = append(keys, spec.Key)
				if spec.Task.Params().Bool("fail") {
					failing = append(failing, spec.Key)
				}
				if i > 0 && !reflect.DeepEqual(spec.Parents, []string{bp.Nodes[i-1].Key}) {
					t.Errorf("%s parents = %v, want linear chain", spec.Key, spec.Parents)
				}
			}
			if !reflect.DeepEqual(keys, tt.wantKeys) {
				t.Errorf("keys = %v, want %v", keys, tt.wantKeys)
			}
			if !reflect.DeepEqual(failing, tt.failing) {
				t.Errorf("failing = %v, want %v", failing, tt.failing)
			}
		})
	}
}
