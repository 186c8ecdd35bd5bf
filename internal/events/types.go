package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	NodeID() string
}

// Topic constants
const (
	TopicNode     = "node"
	TopicWorkflow = "workflow"
)

// Event type constants
const (
	EventTypeNodeStarted      = "node.started"
	EventTypeNodeOutput       = "node.output"
	EventTypeNodeCompleted    = "node.completed"
	EventTypeNodeFailed       = "node.failed"
	EventTypeDetourSpliced    = "node.detour"
	EventTypeWorkflowProgress = "workflow.progress"
	EventTypeWorkflowFinished = "workflow.finished"
)

// NodeStartedEvent is published when a node is claimed and its task starts.
type NodeStartedEvent struct {
	WorkflowID string
	ID         string
	Name       string
	Kind       string
	Origin     string
	Timestamp  time.Time
}

func (e NodeStartedEvent) EventType() string { return EventTypeNodeStarted }
func (e NodeStartedEvent) NodeID() string    { return e.ID }

// NodeOutputEvent carries one line of output from a running task.
type NodeOutputEvent struct {
	WorkflowID string
	ID         string
	Line       string
	Timestamp  time.Time
}

func (e NodeOutputEvent) EventType() string { return EventTypeNodeOutput }
func (e NodeOutputEvent) NodeID() string    { return e.ID }

// NodeCompletedEvent is published after a node's action has been applied.
type NodeCompletedEvent struct {
	WorkflowID string
	ID         string
	Kind       string
	Writes     int
	Duration   time.Duration
	Timestamp  time.Time
}

func (e NodeCompletedEvent) EventType() string { return EventTypeNodeCompleted }
func (e NodeCompletedEvent) NodeID() string    { return e.ID }

// NodeFailedEvent is published when a task fails or its action is rejected.
type NodeFailedEvent struct {
	WorkflowID string
	ID         string
	Kind       string
	Err        error
	Duration   time.Duration
	Timestamp  time.Time
}

func (e NodeFailedEvent) EventType() string { return EventTypeNodeFailed }
func (e NodeFailedEvent) NodeID() string    { return e.ID }

// DetourSplicedEvent is published when a node's detour has been inserted.
type DetourSplicedEvent struct {
	WorkflowID string
	Origin     string
	Nodes      []string
	Timestamp  time.Time
}

func (e DetourSplicedEvent) EventType() string { return EventTypeDetourSpliced }
func (e DetourSplicedEvent) NodeID() string    { return e.Origin }

// WorkflowProgressEvent is published whenever node counts change.
type WorkflowProgressEvent struct {
	WorkflowID string
	Total      int
	Completed  int
	Running    int
	Failed     int
	Pending    int
	Blocked    int
	Timestamp  time.Time
}

func (e WorkflowProgressEvent) EventType() string { return EventTypeWorkflowProgress }
func (e WorkflowProgressEvent) NodeID() string    { return "" }

// WorkflowFinishedEvent is published once when a run returns.
type WorkflowFinishedEvent struct {
	WorkflowID string
	Name       string
	Status     string
	Duration   time.Duration
	Timestamp  time.Time
}

func (e WorkflowFinishedEvent) EventType() string { return EventTypeWorkflowFinished }
func (e WorkflowFinishedEvent) NodeID() string    { return "" }
