package tasks

import (
	"fmt"

	"github.com/aristath/taskflow/internal/scheduler"
)

// LoopBlueprint builds the simulation/analysis loop: a structure generation
// node followed by its analysis.
func LoopBlueprint(n int, opts ...Option) (*scheduler.Blueprint, error) {
	generate, err := NewGenerateStructures(scheduler.Params{"n_structures": n}, opts...)
	if err != nil {
		return nil, err
	}
	analyse, err := NewAnalyse(scheduler.Params{"n_structures": n}, opts...)
	if err != nil {
		return nil, err
	}

	bp := scheduler.NewBlueprint("Loop workflow")
	bp.Add("generate", "Select structures", generate)
	bp.Add("analyse", "analyse and check", analyse, "generate")
	return bp, nil
}

// PipelineOptions shapes a pipeline workflow.
type PipelineOptions struct {
	Steps   int   // Number of action nodes, 5 when zero
	Failing []int // Indices of action nodes configured to fail
	// ExtraFailingStep appends one more action that always fails, after the
	// regular steps.
	ExtraFailingStep bool
}

// PipelineBlueprint builds fetch -> action0..action(N-1) -> save.
func PipelineBlueprint(dbData, itemID string, po PipelineOptions, opts ...Option) (*scheduler.Blueprint, error) {
	steps := po.Steps
	if steps == 0 {
		steps = 5
	}
	if steps < 0 {
		return nil, &scheduler.ConfigurationError{Kind: "Pipeline workflow", Reason: fmt.Sprintf("steps must be positive, got %d", steps)}
	}

	failing := make(map[int]bool, len(po.Failing))
	for _, i := range po.Failing {
		if i < 0 || i >= steps {
			return nil, &scheduler.ConfigurationError{Kind: "Pipeline workflow", Reason: fmt.Sprintf("failing step %d out of range [0, %d)", i, steps)}
		}
		failing[i] = true
	}

	bp := scheduler.NewBlueprint("Pipeline workflow")

	fetch, err := NewFetchItem(scheduler.Params{"item_id": itemID, "db_data": dbData}, opts...)
	if err != nil {
		return nil, err
	}
	bp.Add("fetch", "Fetch from DB", fetch)
	parent := "fetch"

	addAction := func(i int, fail bool) error {
		params := scheduler.Params{"action": fmt.Sprintf("action%d", i)}
		if fail {
			params["fail"] = true
		}
		task, err := NewProcessItem(params, opts...)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("action%d", i)
		bp.Add(key, fmt.Sprintf("task %d", i), task, parent)
		parent = key
		return nil
	}

	for i := 0; i < steps; i++ {
		if err := addAction(i, failing[i]); err != nil {
			return nil, err
		}
	}
	if po.ExtraFailingStep {
		if err := addAction(steps, true); err != nil {
			return nil, err
		}
	}

	save, err := NewSaveItem(scheduler.Params{"item_id": itemID, "db_data": dbData}, opts...)
	if err != nil {
		return nil, err
	}
	bp.Add("save", "Save to DB", save, parent)

	return bp, nil
}
