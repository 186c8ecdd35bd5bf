package tasks

import (
	"context"
	"fmt"

	"github.com/aristath/taskflow/internal/results"
	"github.com/aristath/taskflow/internal/scheduler"
)

// FetchItem loads an item and publishes it as item_to_process.
type FetchItem struct {
	base
}

// NewFetchItem requires "item_id" and "db_data".
func NewFetchItem(params scheduler.Params, opts ...Option) (*FetchItem, error) {
	b, err := newBase(KindFetchItem, params, opts, "item_id", "db_data")
	if err != nil {
		return nil, err
	}
	return &FetchItem{base: b}, nil
}

func (t *FetchItem) Execute(ctx context.Context, _ results.Snapshot) (*scheduler.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := t.params.String("item_id")
	t.env.log.Info("Getting item", "item_id", id, "db_data", t.params.String("db_data"))

	return scheduler.NewAction().Replace(KeyItemToProcess, "item-"+id), nil
}

// ProcessItem applies one named action to item_to_process. With "fail" set
// it always fails.
type ProcessItem struct {
	base
}

// NewProcessItem requires "action".
func NewProcessItem(params scheduler.Params, opts ...Option) (*ProcessItem, error) {
	b, err := newBase(KindProcessItem, params, opts, "action")
	if err != nil {
		return nil, err
	}
	return &ProcessItem{base: b}, nil
}

func (t *ProcessItem) Execute(ctx context.Context, in results.Snapshot) (*scheduler.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item := in.String(KeyItemToProcess)
	t.env.log.Info("Processing item", "item", item, "action", t.params.String("action"))

	if t.params.Bool("fail") {
		return nil, fmt.Errorf("error while processing item %s", item)
	}
	return scheduler.NewAction().Replace(KeyItemToProcess, item), nil
}

// SaveItem persists item_to_process. It has no store effects.
type SaveItem struct {
	base
}

// NewSaveItem requires "item_id".
func NewSaveItem(params scheduler.Params, opts ...Option) (*SaveItem, error) {
	b, err := newBase(KindSaveItem, params, opts, "item_id")
	if err != nil {
		return nil, err
	}
	return &SaveItem{base: b}, nil
}

func (t *SaveItem) Execute(ctx context.Context, in results.Snapshot) (*scheduler.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.env.log.Info("Saving item", "item", in.String(KeyItemToProcess), "db_data", t.params.String("db_data"))
	return nil, nil
}
