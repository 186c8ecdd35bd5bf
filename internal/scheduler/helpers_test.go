package scheduler

import (
	"context"
	"errors"

	"github.com/aristath/taskflow/internal/results"
)

// stubTask is a configurable Task for tests.
type stubTask struct {
	kind   string
	params Params
	run    func(ctx context.Context, in results.Snapshot) (*Action, error)
}

func (s *stubTask) Kind() string   { return s.kind }
func (s *stubTask) Params() Params { return s.params }

func (s *stubTask) Execute(ctx context.Context, in results.Snapshot) (*Action, error) {
	if s.run == nil {
		return nil, nil
	}
	return s.run(ctx, in)
}

func noop() Task { return &stubTask{kind: "noop"} }

func failing(msg string) Task {
	return &stubTask{kind: "fail", run: func(context.Context, results.Snapshot) (*Action, error) {
		return nil, errors.New(msg)
	}}
}

func writing(key string, value any) Task {
	return &stubTask{kind: "write", run: func(context.Context, results.Snapshot) (*Action, error) {
		return NewAction().Replace(key, value), nil
	}}
}

// drive executes a workflow sequentially until nothing is claimable and
// returns the completion order.
func drive(wf *Workflow) []string {
	var order []string
	for {
		claims := wf.Claim(1)
		if len(claims) == 0 {
			return order
		}
		c := claims[0]
		if c.Err != nil {
			_ = wf.Fail(c.Node.ID, c.Err)
			continue
		}
		action, err := c.Node.Task.Execute(context.Background(), c.Input)
		if err != nil {
			_ = wf.Fail(c.Node.ID, &TaskExecutionError{NodeID: c.Node.ID, Kind: c.Node.Kind(), Err: err})
			continue
		}
		if _, err := wf.Complete(c.Node.ID, action); err == nil {
			order = append(order, c.Node.ID)
		}
	}
}
