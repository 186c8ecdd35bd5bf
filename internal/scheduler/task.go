package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/mohae/deepcopy"

	"github.com/aristath/taskflow/internal/results"
)

// NodeStatus represents the current state of a node.
type NodeStatus int

const (
	NodePending   NodeStatus = iota // Waiting for parents
	NodeReady                       // All parents completed, not yet claimed
	NodeRunning                     // Task is executing
	NodeCompleted                   // Action applied
	NodeFailed                      // Task or action application failed
)

func (s NodeStatus) String() string {
	switch s {
	case NodePending:
		return "pending"
	case NodeReady:
		return "ready"
	case NodeRunning:
		return "running"
	case NodeCompleted:
		return "completed"
	case NodeFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Task is a unit of work. It runs exactly once per node, reads the snapshot
// it is given and expresses every intended effect in the returned Action.
// A nil Action means success with no effects.
type Task interface {
	Kind() string
	Params() Params
	Execute(ctx context.Context, in results.Snapshot) (*Action, error)
}

// Params is the immutable configuration of a task.
type Params map[string]any

// NewParams deep-copies m so later changes to it do not leak into a task.
func NewParams(m map[string]any) Params {
	if m == nil {
		return Params{}
	}
	cp, _ := deepcopy.Copy(m).(map[string]any)
	return Params(cp)
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	return NewParams(p)
}

// Require fails with a ConfigurationError naming every missing key.
func (p Params) Require(kind string, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if v, ok := p[k]; !ok || v == nil {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ConfigurationError{Kind: kind, Missing: missing}
	}
	return nil
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Get returns the raw value at key.
func (p Params) Get(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

// String returns the value at key formatted as a string, "" if missing.
func (p Params) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}

// Int returns the value at key as an int. JSON numbers (float64) are accepted
// when they hold a whole number.
func (p Params) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// Bool returns the value at key as a bool, false if missing.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Strings returns the value at key as a string slice. Both []string and the
// []any produced by JSON decoding are accepted.
func (p Params) Strings(key string) ([]string, bool) {
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case nil:
		return nil, false
	default:
		return nil, false
	}
}
