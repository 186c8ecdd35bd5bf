package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/logger"
	"github.com/aristath/taskflow/internal/metrics"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/process"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/tasks"
	"github.com/aristath/taskflow/internal/tui"
)

// runOptions are the flags shared by the run subcommands.
type runOptions struct {
	concurrency int
	nodeTimeout time.Duration
	metricsAddr string
	tui         bool
}

// blueprintFunc builds the workflow to run once the task options are known.
type blueprintFunc func(opts ...tasks.Option) (*scheduler.Blueprint, error)

// resolveFunc picks the blueprint once the config is loaded.
type resolveFunc func(cfg *config.Config) (blueprintFunc, error)

func fixed(build blueprintFunc) resolveFunc {
	return func(*config.Config) (blueprintFunc, error) { return build, nil }
}

func newRunCmd(g *globalOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workflow",
	}

	flags := cmd.PersistentFlags()
	flags.IntVar(&ro.concurrency, "concurrency", 0, "Maximum nodes running at once (overrides config)")
	flags.DurationVar(&ro.nodeTimeout, "node-timeout", 0, "Per-node time limit, 0 for none (overrides config)")
	flags.StringVar(&ro.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	flags.BoolVar(&ro.tui, "tui", false, "Show the terminal UI")

	cmd.AddCommand(
		newRunLoopCmd(g, ro),
		newRunPipelineCmd(g, ro),
		newRunCommandCmd(g, ro),
		newRunPresetCmd(g, ro),
		newResumeCmd(g, ro),
	)

	return cmd
}

func newRunLoopCmd(g *globalOptions, ro *runOptions) *cobra.Command {
	var structures int

	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Generate structures and analyse them until the analysis succeeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBlueprint(cmd, g, ro, fixed(func(opts ...tasks.Option) (*scheduler.Blueprint, error) {
				return tasks.LoopBlueprint(structures, opts...)
			}))
		},
	}

	cmd.Flags().IntVar(&structures, "structures", 2, "Number of structures to generate")
	return cmd
}

func newRunPipelineCmd(g *globalOptions, ro *runOptions) *cobra.Command {
	var (
		itemID string
		dbData string
		po     tasks.PipelineOptions
	)

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Fetch an item, process it through a chain of actions and save it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBlueprint(cmd, g, ro, fixed(func(opts ...tasks.Option) (*scheduler.Blueprint, error) {
				return tasks.PipelineBlueprint(dbData, itemID, po, opts...)
			}))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&itemID, "item-id", "", "Item to process")
	flags.StringVar(&dbData, "db-data", "", "Source database of the item")
	flags.IntVar(&po.Steps, "steps", 5, "Number of action steps")
	flags.IntSliceVar(&po.Failing, "failing", nil, "Indices of action steps that fail")
	flags.BoolVar(&po.ExtraFailingStep, "extra-failing-step", false, "Append one more action that always fails")
	_ = cmd.MarkFlagRequired("item-id")
	_ = cmd.MarkFlagRequired("db-data")
	return cmd
}

func newRunCommandCmd(g *globalOptions, ro *runOptions) *cobra.Command {
	var resultKey string

	cmd := &cobra.Command{
		Use:   "command -- <program> [args...]",
		Short: "Run one external program as a single-node workflow",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlueprint(cmd, g, ro, fixed(func(opts ...tasks.Option) (*scheduler.Blueprint, error) {
				task, err := tasks.NewCommand(scheduler.Params{
					"command":    args[0],
					"args":       args[1:],
					"result_key": resultKey,
				}, opts...)
				if err != nil {
					return nil, err
				}
				bp := scheduler.NewBlueprint("Command workflow")
				bp.Add("command", args[0], task)
				return bp, nil
			}))
		},
	}

	cmd.Flags().StringVar(&resultKey, "result-key", tasks.DefaultResultKey, "Result key for the program's stdout")
	return cmd
}

func newRunPresetCmd(g *globalOptions, ro *runOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "preset <name>",
		Short: "Run a workflow preset from the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlueprint(cmd, g, ro, func(cfg *config.Config) (blueprintFunc, error) {
				return presetBlueprint(cfg, args[0])
			})
		},
	}
}

func newResumeCmd(g *globalOptions, ro *runOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <workflow-id>",
		Short: "Continue a stored workflow from where it stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.setup(cmd, ro.tui)
			if err != nil {
				return err
			}
			defer a.close()

			pm := process.NewManager()
			reg := tasks.NewRegistry(tasks.WithLogger(a.log), tasks.WithProcessManager(pm))
			wf, err := a.store.Load(cmd.Context(), args[0], reg)
			if err != nil {
				return err
			}
			return execute(cmd, a, ro, pm, wf)
		},
	}
}

// presetBlueprint turns a configured preset into a blueprint.
func presetBlueprint(cfg *config.Config, name string) (blueprintFunc, error) {
	p, ok := cfg.Presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", name)
	}
	switch p.Type {
	case config.PresetLoop:
		return func(opts ...tasks.Option) (*scheduler.Blueprint, error) {
			return tasks.LoopBlueprint(p.Structures, opts...)
		}, nil
	case config.PresetPipeline:
		return func(opts ...tasks.Option) (*scheduler.Blueprint, error) {
			return tasks.PipelineBlueprint(p.DBData, p.ItemID, tasks.PipelineOptions{Steps: p.Steps, Failing: p.Failing}, opts...)
		}, nil
	default:
		return nil, fmt.Errorf("preset %q has unknown type %q", name, p.Type)
	}
}

// runBlueprint builds a new workflow, registers it with the store and runs it.
func runBlueprint(cmd *cobra.Command, g *globalOptions, ro *runOptions, resolve resolveFunc) error {
	a, err := g.setup(cmd, ro.tui)
	if err != nil {
		return err
	}
	defer a.close()

	build, err := resolve(a.cfg)
	if err != nil {
		return err
	}

	pm := process.NewManager()
	bp, err := build(tasks.WithLogger(a.log), tasks.WithProcessManager(pm))
	if err != nil {
		return err
	}
	wf, err := scheduler.NewWorkflow(bp)
	if err != nil {
		return err
	}
	if _, err := a.store.Submit(cmd.Context(), wf); err != nil {
		return fmt.Errorf("submitting workflow: %w", err)
	}

	return execute(cmd, a, ro, pm, wf)
}

// execute runs wf to completion, or until interrupted, then prints the report.
func execute(cmd *cobra.Command, a *app, ro *runOptions, pm *process.Manager, wf *scheduler.Workflow) error {
	flags := cmd.Flags()
	concurrency := a.cfg.Concurrency
	if flags.Changed("concurrency") {
		concurrency = ro.concurrency
	}
	nodeTimeout := time.Duration(a.cfg.NodeTimeout)
	if flags.Changed("node-timeout") {
		nodeTimeout = ro.nodeTimeout
	}
	metricsAddr := a.cfg.MetricsAddr
	if flags.Changed("metrics-addr") {
		metricsAddr = ro.metricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	recorded := recordOutput(a, bus)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if metricsAddr != "" {
		shutdown := serveMetrics(a, metricsAddr, reg)
		defer shutdown()
	}

	runner := orchestrator.NewRunner(orchestrator.Config{
		Concurrency: concurrency,
		NodeTimeout: nodeTimeout,
		Logger:      a.log,
		Bus:         bus,
		Metrics:     m,
		Store:       a.store,
	})

	// On a signal running nodes get to finish, but subprocesses are killed
	// so command nodes do not hold the stop up.
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Restore default handling so a second signal exits immediately
			stop()
			a.log.Warn("Shutdown signal received, stopping workflow")
			if err := pm.KillAll(); err != nil {
				a.log.Error("Failed to kill subprocesses", "error", err)
			}
		case <-finished:
		}
	}()

	var (
		rep    *scheduler.Report
		runErr error
	)
	if ro.tui {
		rep, runErr = runWithTUI(ctx, a, runner, bus, wf)
	} else {
		rep, runErr = runner.Run(ctx, wf)
	}
	close(finished)

	bus.Close()
	<-recorded
	reportDropped(a.log, bus)

	if rep != nil {
		printReport(a.out, rep)
	}
	return runErr
}

// runWithTUI shows the UI while the runner works. Quitting the UI early asks
// the runner to stop.
func runWithTUI(ctx context.Context, a *app, runner *orchestrator.Runner, bus *events.EventBus, wf *scheduler.Workflow) (*scheduler.Report, error) {
	p := tea.NewProgram(tui.New(bus, a.cfg, a.globalPath, a.projectPath), tea.WithAltScreen())

	var (
		wg     sync.WaitGroup
		rep    *scheduler.Report
		runErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		rep, runErr = runner.Run(ctx, wf)
	}()

	if _, err := p.Run(); err != nil {
		a.log.Error("TUI exited with error", "error", err)
	}
	runner.Stop()
	wg.Wait()

	return rep, runErr
}

// outputBufSize absorbs command output bursts while the recorder writes to
// the database.
const outputBufSize = 8192

// reportDropped warns when subscribers lost events to full buffers.
func reportDropped(log logger.Logger, bus *events.EventBus) {
	if n := bus.Dropped(); n > 0 {
		log.Warn("Dropped node events", "count", n)
	}
}

// recordOutput stores every NodeOutputEvent until the bus is closed. The
// returned channel is closed once the subscriber has drained.
func recordOutput(a *app, bus *events.EventBus) <-chan struct{} {
	sub := bus.Subscribe(events.TopicNode, outputBufSize)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range sub {
			out, ok := ev.(events.NodeOutputEvent)
			if !ok {
				continue
			}
			if err := a.store.SaveOutput(context.Background(), out.WorkflowID, out.ID, out.Line); err != nil {
				a.log.Warn("Failed to record node output", "node", out.ID, "error", err)
			}
		}
	}()

	return done
}

// serveMetrics exposes reg on addr until the returned func is called.
func serveMetrics(a *app, addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.log.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Warn("Metrics server shutdown", "error", err)
		}
	}
}
