// Package tasks holds the domain payloads the engine ships with and the
// generators that assemble them into workflows.
package tasks

import (
	"math/rand/v2"

	"github.com/aristath/taskflow/internal/logger"
	"github.com/aristath/taskflow/internal/process"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Task kinds.
const (
	KindRunMD              = "run_md"
	KindGenerateStructures = "generate_structures"
	KindAnalyse            = "analyse"
	KindFetchItem          = "fetch_item"
	KindProcessItem        = "process_item"
	KindSaveItem           = "save_item"
	KindCommand            = "command"
)

// Well-known result store keys.
const (
	KeyMDResults     = "md_results"
	KeyItemToProcess = "item_to_process"
	KeySuccess       = "success"
	DefaultResultKey = "command_output"
)

// Option configures the runtime dependencies of task instances.
type Option func(*env)

type env struct {
	rand  func() float64
	log   logger.Logger
	procs *process.Manager
}

func newEnv(opts []Option) *env {
	e := &env{
		rand: rand.Float64,
		log:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithRand sets the score source used by run_md. fn must be safe for
// concurrent use.
func WithRand(fn func() float64) Option {
	return func(e *env) {
		if fn != nil {
			e.rand = fn
		}
	}
}

// WithLogger sets the logger tasks report progress to.
func WithLogger(l logger.Logger) Option {
	return func(e *env) {
		if l != nil {
			e.log = l
		}
	}
}

// WithProcessManager tracks subprocesses started by command tasks.
func WithProcessManager(pm *process.Manager) Option {
	return func(e *env) {
		e.procs = pm
	}
}

// base carries kind and params for every task in this package.
type base struct {
	kind   string
	params scheduler.Params
	env    *env
}

func newBase(kind string, params scheduler.Params, opts []Option, required ...string) (base, error) {
	p := scheduler.NewParams(params)
	if err := p.Require(kind, required...); err != nil {
		return base{}, err
	}
	return base{kind: kind, params: p, env: newEnv(opts)}, nil
}

func (b base) Kind() string { return b.kind }

func (b base) Params() scheduler.Params { return b.params.Clone() }

// NewRegistry returns a registry with every kind in this package. The
// options are applied to each task it builds.
func NewRegistry(opts ...Option) *scheduler.Registry {
	reg := scheduler.NewRegistry()
	reg.MustRegister(KindRunMD, func(p scheduler.Params) (scheduler.Task, error) { return NewRunMD(p, opts...) })
	reg.MustRegister(KindGenerateStructures, func(p scheduler.Params) (scheduler.Task, error) { return NewGenerateStructures(p, opts...) })
	reg.MustRegister(KindAnalyse, func(p scheduler.Params) (scheduler.Task, error) { return NewAnalyse(p, opts...) })
	reg.MustRegister(KindFetchItem, func(p scheduler.Params) (scheduler.Task, error) { return NewFetchItem(p, opts...) })
	reg.MustRegister(KindProcessItem, func(p scheduler.Params) (scheduler.Task, error) { return NewProcessItem(p, opts...) })
	reg.MustRegister(KindSaveItem, func(p scheduler.Params) (scheduler.Task, error) { return NewSaveItem(p, opts...) })
	reg.MustRegister(KindCommand, func(p scheduler.Params) (scheduler.Task, error) { return NewCommand(p, opts...) })
	return reg
}
