package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/process"
	"github.com/aristath/taskflow/internal/results"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Command runs an external program and stores its trimmed stdout under
// result_key. Output lines are streamed to the event bus while it runs.
type Command struct {
	base
	name string
	args []string
	key  string
}

// NewCommand requires "command". Optional: "args" (list of strings),
// "result_key", "dir".
func NewCommand(params scheduler.Params, opts ...Option) (*Command, error) {
	b, err := newBase(KindCommand, params, opts, "command")
	if err != nil {
		return nil, err
	}

	name := b.params.String("command")
	if name == "" {
		return nil, &scheduler.ConfigurationError{Kind: KindCommand, Reason: "command cannot be empty"}
	}

	var args []string
	if b.params.Has("args") {
		var ok bool
		if args, ok = b.params.Strings("args"); !ok {
			return nil, &scheduler.ConfigurationError{Kind: KindCommand, Reason: "args must be a list of strings"}
		}
	}

	key := b.params.String("result_key")
	if key == "" {
		key = DefaultResultKey
	}

	return &Command{base: b, name: name, args: args, key: key}, nil
}

func (t *Command) Execute(ctx context.Context, _ results.Snapshot) (*scheduler.Action, error) {
	t.env.log.Debug("Running command", "command", t.name, "args", strings.Join(t.args, " "))

	res, err := process.Run(ctx, t.env.procs, process.Spec{
		Name: t.name,
		Args: t.args,
		Dir:  t.params.String("dir"),
		OnLine: func(stream process.Stream, line string) {
			events.EmitOutput(ctx, fmt.Sprintf("[%s] %s", stream, line))
		},
	})
	if err != nil {
		return nil, err
	}

	return scheduler.NewAction().Replace(t.key, strings.TrimSpace(string(res.Stdout))), nil
}
