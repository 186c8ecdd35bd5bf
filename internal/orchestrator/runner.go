package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/logger"
	"github.com/aristath/taskflow/internal/metrics"
	"github.com/aristath/taskflow/internal/results"
	"github.com/aristath/taskflow/internal/scheduler"
)

const (
	tracerName = "github.com/aristath/taskflow/internal/orchestrator"

	// storeBreaker names the circuit breaker guarding the workflow store.
	storeBreaker = "workflow-store"
)

// ErrAlreadyRunning is returned when Run is called on a busy Runner.
var ErrAlreadyRunning = errors.New("runner is already running a workflow")

// Config configures the runner.
type Config struct {
	Concurrency int           // Max concurrent nodes (default 4)
	NodeTimeout time.Duration // Per-node execution limit, 0 disables

	Logger  logger.Logger    // Defaults to a no-op logger
	Bus     *events.EventBus // Optional event bus
	Metrics *metrics.Metrics // Optional Prometheus collectors
	Tracer  trace.Tracer     // Defaults to the global otel provider

	// Store, if set, receives a checkpoint after every finished node and the
	// final state once the run ends. The workflow must already have an ID.
	Store    Persister
	Retry    RetryConfig
	Breakers *CircuitBreakerRegistry
}

// Runner executes a workflow's nodes as their parents complete, with bounded
// parallelism.
type Runner struct {
	cfg Config

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	stopped bool
}

// NewRunner creates a runner, filling in defaults.
func NewRunner(cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Breakers == nil {
		cfg.Breakers = NewCircuitBreakerRegistry(cfg.Logger)
	}
	return &Runner{cfg: cfg}
}

// Stop asks the current run to stop claiming nodes. Running nodes are allowed
// to finish. It is a no-op when nothing is running.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running || r.stopped {
		return
	}
	r.stopped = true
	close(r.stop)
}

func (r *Runner) begin() (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil, ErrAlreadyRunning
	}
	r.running = true
	r.stopped = false
	r.stop = make(chan struct{})
	return r.stop, nil
}

func (r *Runner) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

// Run executes wf until nothing is running and nothing can be claimed, then
// returns its report. Task failures are recorded on their nodes and never
// returned; the error is non-nil only for misuse or when the final state
// could not be persisted, in which case the report is still returned.
//
// Cancelling ctx or calling Stop ends the run gracefully: no new nodes are
// claimed, and nodes already running finish under a context detached from
// ctx.
func (r *Runner) Run(ctx context.Context, wf *scheduler.Workflow) (*scheduler.Report, error) {
	if wf == nil {
		return nil, errors.New("workflow cannot be nil")
	}
	stop, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer r.end()

	start := time.Now()
	log := r.cfg.Logger.With("workflow", wf.ID())

	ctx, span := r.cfg.Tracer.Start(ctx, "taskflow.run", trace.WithAttributes(
		attribute.String("taskflow.workflow.id", wf.ID()),
		attribute.String("taskflow.workflow.name", wf.Name()),
	))
	defer span.End()

	log.Info("Starting workflow", "name", wf.Name(), "concurrency", r.cfg.Concurrency)

	// Tasks keep their span parent but not ctx's cancellation
	taskCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	done := make(chan struct{}, r.cfg.Concurrency)

	ctxDone := ctx.Done()
	stopCh := stop
	stopping := false
	halt := func(reason string) {
		stopping = true
		ctxDone = nil
		stopCh = nil
		log.Warn("Stopping workflow, waiting for running nodes", "reason", reason)
	}

	inflight := 0
	for {
		if !stopping {
			select {
			case <-ctxDone:
				halt(ctx.Err().Error())
			case <-stopCh:
				halt("stop requested")
			default:
			}
		}

		// Claim(0) would claim everything, so only claim when there is room
		if free := r.cfg.Concurrency - inflight; !stopping && free > 0 {
			claims := wf.Claim(free)
			for _, c := range claims {
				inflight++
				g.Go(func() error {
					r.execute(taskCtx, wf, c)
					done <- struct{}{}
					return nil
				})
			}
			if len(claims) > 0 {
				r.publishProgress(wf)
			}
		}

		if inflight == 0 {
			break
		}

		select {
		case <-done:
			inflight--
			r.checkpoint(taskCtx, wf, log)
			r.publishProgress(wf)
		case <-ctxDone:
			halt(ctx.Err().Error())
		case <-stopCh:
			halt("stop requested")
		}
	}
	_ = g.Wait()

	var saveErr error
	if r.cfg.Store != nil {
		cb := r.cfg.Breakers.Get(storeBreaker)
		if err := saveWithRetry(taskCtx, r.cfg.Store, wf, cb, r.cfg.Retry); err != nil {
			saveErr = fmt.Errorf("persisting workflow %q: %w", wf.ID(), err)
			log.Error("Failed to persist workflow", "err", err)
		}
	}

	rep := wf.Report()
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.String("taskflow.workflow.status", string(rep.Status)),
		attribute.Int("taskflow.workflow.nodes", rep.Progress.Total),
	)
	if rep.Status == scheduler.WorkflowFailed || rep.Status == scheduler.WorkflowBlocked {
		span.SetStatus(codes.Error, string(rep.Status))
	}
	if saveErr != nil {
		span.RecordError(saveErr)
	}

	r.cfg.Metrics.SetPending(rep.Progress.Pending)
	r.publish(events.TopicWorkflow, events.WorkflowFinishedEvent{
		WorkflowID: rep.WorkflowID,
		Name:       rep.Name,
		Status:     string(rep.Status),
		Duration:   elapsed,
		Timestamp:  time.Now(),
	})
	log.Info("Workflow finished",
		"status", rep.Status,
		"completed", rep.Progress.Completed,
		"failed", rep.Progress.Failed,
		"blocked", rep.Progress.Blocked,
		"duration", elapsed,
	)

	return rep, saveErr
}

// execute runs one claimed node and records its outcome on the workflow.
func (r *Runner) execute(ctx context.Context, wf *scheduler.Workflow, c scheduler.Claim) {
	n := c.Node
	kind := n.Kind()
	log := r.cfg.Logger.With("workflow", wf.ID(), "node", n.ID, "kind", kind)

	ctx, span := r.cfg.Tracer.Start(ctx, "taskflow.node", trace.WithAttributes(
		attribute.String("taskflow.node.id", n.ID),
		attribute.String("taskflow.node.kind", kind),
	))
	defer span.End()

	r.cfg.Metrics.NodeStarted()
	r.publish(events.TopicNode, events.NodeStartedEvent{
		WorkflowID: wf.ID(),
		ID:         n.ID,
		Name:       n.Name,
		Kind:       kind,
		Origin:     n.Origin,
		Timestamp:  time.Now(),
	})
	log.Info("Starting task", "name", n.Name)

	start := time.Now()
	action, err := r.invoke(ctx, wf, c)
	var added []string
	if err == nil {
		added, err = wf.Complete(n.ID, action)
	} else if ferr := wf.Fail(n.ID, err); ferr != nil {
		log.Error("Failed to record node failure", "err", ferr)
	}
	elapsed := time.Since(start)

	if err != nil {
		status := metrics.StatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = metrics.StatusTimeout
		}
		if errors.Is(err, results.ErrMergeConflict) {
			r.cfg.Metrics.MergeConflict()
		}
		r.cfg.Metrics.NodeFinished(kind, status, elapsed)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("taskflow.node.status", status))

		log.Error("Task failed", "err", err, "duration", elapsed)
		r.publish(events.TopicNode, events.NodeFailedEvent{
			WorkflowID: wf.ID(),
			ID:         n.ID,
			Kind:       kind,
			Err:        err,
			Duration:   elapsed,
			Timestamp:  time.Now(),
		})
		return
	}

	r.cfg.Metrics.NodeFinished(kind, metrics.StatusCompleted, elapsed)
	span.SetAttributes(
		attribute.String("taskflow.node.status", metrics.StatusCompleted),
		attribute.Int("taskflow.node.detour", len(added)),
	)

	log.Info("Task completed", "writes", len(action.Writes()), "duration", elapsed)
	r.publish(events.TopicNode, events.NodeCompletedEvent{
		WorkflowID: wf.ID(),
		ID:         n.ID,
		Kind:       kind,
		Writes:     len(action.Writes()),
		Duration:   elapsed,
		Timestamp:  time.Now(),
	})

	if len(added) > 0 {
		r.cfg.Metrics.DetourSpliced(kind, len(added))
		log.Info("Detour spliced", "nodes", added)
		r.publish(events.TopicNode, events.DetourSplicedEvent{
			WorkflowID: wf.ID(),
			Origin:     n.ID,
			Nodes:      added,
			Timestamp:  time.Now(),
		})
	}
}

type outcome struct {
	action *scheduler.Action
	err    error
}

// invoke calls the task's Execute, enforcing the node timeout and turning
// panics into errors.
func (r *Runner) invoke(ctx context.Context, wf *scheduler.Workflow, c scheduler.Claim) (*scheduler.Action, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	n := c.Node
	ctx = events.WithNodeOutput(ctx, r.cfg.Bus, wf.ID(), n.ID)
	if r.cfg.NodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.NodeTimeout)
		defer cancel()
	}

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("task panicked: %v", p)}
			}
		}()
		action, err := n.Task.Execute(ctx, c.Input)
		ch <- outcome{action: action, err: err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		out.err = fmt.Errorf("timed out after %s: %w", r.cfg.NodeTimeout, ctx.Err())
	}

	if out.err != nil {
		var te *scheduler.TaskExecutionError
		if errors.As(out.err, &te) {
			return nil, out.err
		}
		return nil, &scheduler.TaskExecutionError{NodeID: n.ID, Kind: n.Kind(), Err: out.err}
	}
	return out.action, nil
}

// checkpoint saves intermediate state with a single attempt. Failures are
// logged; the final save retries.
func (r *Runner) checkpoint(ctx context.Context, wf *scheduler.Workflow, log logger.Logger) {
	if r.cfg.Store == nil {
		return
	}
	cb := r.cfg.Breakers.Get(storeBreaker)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, r.cfg.Store.SaveRun(ctx, wf)
	})
	if err != nil {
		log.Warn("Checkpoint failed", "err", err)
	}
}

func (r *Runner) publishProgress(wf *scheduler.Workflow) {
	p := wf.Progress()
	r.cfg.Metrics.SetPending(p.Pending)
	r.publish(events.TopicWorkflow, events.WorkflowProgressEvent{
		WorkflowID: wf.ID(),
		Total:      p.Total,
		Completed:  p.Completed,
		Running:    p.Running,
		Failed:     p.Failed,
		Pending:    p.Pending,
		Blocked:    p.Blocked,
		Timestamp:  time.Now(),
	})
}

func (r *Runner) publish(topic string, e events.Event) {
	if r.cfg.Bus == nil {
		return
	}
	r.cfg.Bus.Publish(topic, e)
}
