package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicNode, 10)

	bus.Publish(TopicNode, NodeStartedEvent{
		WorkflowID: "wf-1",
		ID:         "fetch",
		Kind:       "fetch_item",
		Timestamp:  time.Now(),
	})

	select {
	case received := <-ch:
		if received.NodeID() != "fetch" {
			t.Errorf("expected node ID 'fetch', got '%s'", received.NodeID())
		}
		if received.EventType() != EventTypeNodeStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeNodeStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicNode, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicNode, NodeCompletedEvent{ID: fmt.Sprintf("action%d", i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("Dropped() = %d, want 9", got)
	}

	select {
	case received := <-ch:
		if received.NodeID() != "action0" {
			t.Errorf("expected first event kept, got %s", received.NodeID())
		}
	default:
		t.Error("expected one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicNode, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close()

	for _, c := range []<-chan Event{ch, all} {
		if _, ok := <-c; ok {
			t.Error("expected closed channel")
		}
	}

	// Publishing and subscribing after close must not panic
	bus.Publish(TopicNode, NodeStartedEvent{ID: "late"})
	if _, ok := <-bus.Subscribe(TopicNode, 1); ok {
		t.Error("subscription after close should be closed")
	}
}

// TestTopicIsolation verifies node subscribers don't see workflow events.
func TestTopicIsolation(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	nodeCh := bus.Subscribe(TopicNode, 10)
	wfCh := bus.Subscribe(TopicWorkflow, 10)
	allCh := bus.SubscribeAll(10)

	bus.Publish(TopicNode, NodeFailedEvent{ID: "action3", Err: errors.New("boom")})
	bus.Publish(TopicWorkflow, WorkflowProgressEvent{Total: 7, Completed: 4, Failed: 1, Pending: 2, Blocked: 2})

	if ev := <-nodeCh; ev.EventType() != EventTypeNodeFailed {
		t.Errorf("node channel: expected failed event, got %s", ev.EventType())
	}
	if ev := <-wfCh; ev.EventType() != EventTypeWorkflowProgress {
		t.Errorf("workflow channel: expected progress event, got %s", ev.EventType())
	}

	select {
	case ev := <-nodeCh:
		t.Errorf("node channel received unexpected %s", ev.EventType())
	case <-time.After(10 * time.Millisecond):
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-allCh:
			got[ev.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event on SubscribeAll")
		}
	}
	if !got[EventTypeNodeFailed] || !got[EventTypeWorkflowProgress] {
		t.Errorf("SubscribeAll missed events: %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicNode, 10)
	all := bus.SubscribeAll(10)
	bus.Unsubscribe(ch)
	bus.Unsubscribe(all)

	bus.Publish(TopicNode, NodeStartedEvent{ID: "x"})

	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel should be closed")
	}
	if _, ok := <-all; ok {
		t.Error("unsubscribed all-topic channel should be closed")
	}
}

func TestEmitOutput(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(TopicNode, 10)

	// Without a sink nothing happens
	EmitOutput(context.Background(), "ignored")

	ctx := WithNodeOutput(context.Background(), bus, "wf-1", "cmd")
	EmitOutput(ctx, "hello")

	select {
	case ev := <-ch:
		out, ok := ev.(NodeOutputEvent)
		if !ok {
			t.Fatalf("expected NodeOutputEvent, got %T", ev)
		}
		if out.Line != "hello" || out.ID != "cmd" || out.WorkflowID != "wf-1" {
			t.Errorf("unexpected output event: %+v", out)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for output event")
	}

	select {
	case ev := <-ch:
		t.Errorf("unexpected extra event %+v", ev)
	default:
	}

	if got := WithNodeOutput(ctx, nil, "", ""); got != ctx {
		t.Error("nil bus should return ctx unchanged")
	}
}
