package tasks

import (
	"context"
	"fmt"

	"github.com/aristath/taskflow/internal/results"
	"github.com/aristath/taskflow/internal/scheduler"
)

// RunMD simulates a molecular dynamics run on one structure and records a
// score under md_results->structure<N>.
type RunMD struct {
	base
	structure int
}

// NewRunMD requires "structure".
func NewRunMD(params scheduler.Params, opts ...Option) (*RunMD, error) {
	b, err := newBase(KindRunMD, params, opts, "structure")
	if err != nil {
		return nil, err
	}
	structure, ok := b.params.Int("structure")
	if !ok || structure < 0 {
		return nil, &scheduler.ConfigurationError{Kind: KindRunMD, Reason: fmt.Sprintf("structure must be a non-negative integer, got %v", b.params["structure"])}
	}
	return &RunMD{base: b, structure: structure}, nil
}

func (t *RunMD) Execute(ctx context.Context, _ results.Snapshot) (*scheduler.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.env.log.Info("Running MD calculation", "structure", t.structure)

	score := t.env.rand()
	return scheduler.NewAction().MergePath([]string{KeyMDResults, structureKey(t.structure)}, score), nil
}

func structureKey(n int) string {
	return fmt.Sprintf("structure%d", n)
}

// GenerateStructures selects n structures and detours one run_md node per
// structure. The run_md nodes are siblings, so they may run in parallel.
type GenerateStructures struct {
	base
	n    int
	opts []Option
}

// NewGenerateStructures requires "n_structures".
func NewGenerateStructures(params scheduler.Params, opts ...Option) (*GenerateStructures, error) {
	b, err := newBase(KindGenerateStructures, params, opts, "n_structures")
	if err != nil {
		return nil, err
	}
	n, err := structureCount(KindGenerateStructures, b.params)
	if err != nil {
		return nil, err
	}
	return &GenerateStructures{base: b, n: n, opts: opts}, nil
}

func (t *GenerateStructures) Execute(_ context.Context, _ results.Snapshot) (*scheduler.Action, error) {
	bp := scheduler.NewBlueprint("structures")
	for i := 0; i < t.n; i++ {
		task, err := NewRunMD(scheduler.Params{"structure": i}, t.opts...)
		if err != nil {
			return nil, err
		}
		bp.Add(fmt.Sprintf("run_md_%d", i), fmt.Sprintf("run_md_%d", i), task)
	}

	t.env.log.Info("Generated structures", "n_structures", t.n)
	return scheduler.NewAction().Detour(bp), nil
}

// Analyse inspects the md_results of the loop. When the node's snapshot
// carries success=true the loop ends; otherwise a fresh loop with one more
// structure is detoured, its analysis node pre-seeded with success=true.
type Analyse struct {
	base
	n    int
	opts []Option
}

// NewAnalyse requires "n_structures".
func NewAnalyse(params scheduler.Params, opts ...Option) (*Analyse, error) {
	b, err := newBase(KindAnalyse, params, opts, "n_structures")
	if err != nil {
		return nil, err
	}
	n, err := structureCount(KindAnalyse, b.params)
	if err != nil {
		return nil, err
	}
	return &Analyse{base: b, n: n, opts: opts}, nil
}

func (t *Analyse) Execute(_ context.Context, in results.Snapshot) (*scheduler.Action, error) {
	t.env.log.Info("Results from previous calculations", "md_results", in.Map(KeyMDResults))

	if in.Bool(KeySuccess) {
		t.env.log.Info("Saving to DB", "n_structures", t.n)
		return nil, nil
	}

	t.env.log.Info("Generating new set of calculations", "n_structures", t.n+1)
	bp, err := LoopBlueprint(t.n+1, t.opts...)
	if err != nil {
		return nil, err
	}
	bp.Terminal().WithSeed(KeySuccess, true)
	return scheduler.NewAction().Detour(bp), nil
}

func structureCount(kind string, p scheduler.Params) (int, error) {
	n, ok := p.Int("n_structures")
	if !ok || n < 0 {
		return 0, &scheduler.ConfigurationError{Kind: kind, Reason: fmt.Sprintf("n_structures must be a non-negative integer, got %v", p["n_structures"])}
	}
	return n, nil
}
