package events

import (
	"context"
	"time"
)

type outputKey struct{}

type outputSink struct {
	bus        *EventBus
	workflowID string
	nodeID     string
}

// WithNodeOutput returns a context through which a running task can stream
// output lines to the bus as NodeOutputEvents.
func WithNodeOutput(ctx context.Context, bus *EventBus, workflowID, nodeID string) context.Context {
	if bus == nil {
		return ctx
	}
	return context.WithValue(ctx, outputKey{}, outputSink{bus: bus, workflowID: workflowID, nodeID: nodeID})
}

// EmitOutput publishes a line for the node bound to ctx. It is a no-op when
// ctx carries no sink.
func EmitOutput(ctx context.Context, line string) {
	sink, ok := ctx.Value(outputKey{}).(outputSink)
	if !ok {
		return
	}
	sink.bus.Publish(TopicNode, NodeOutputEvent{
		WorkflowID: sink.workflowID,
		ID:         sink.nodeID,
		Line:       line,
		Timestamp:  time.Now(),
	})
}
