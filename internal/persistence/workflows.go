package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/taskflow/internal/results"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Submit stores a new workflow. A workflow without an ID is given a fresh
// UUID first. Returns the workflow ID.
func (s *SQLiteStore) Submit(ctx context.Context, wf *scheduler.Workflow) (string, error) {
	if wf == nil {
		return "", errors.New("workflow cannot be nil")
	}
	if wf.ID() == "" {
		wf.SetID(uuid.NewString())
	}
	if err := s.SaveRun(ctx, wf); err != nil {
		return "", err
	}
	return wf.ID(), nil
}

// SaveRun saves or updates a workflow: every node including spliced ones,
// the edge set, node statuses, the result store and the workflow status.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveRun(ctx context.Context, wf *scheduler.Workflow) error {
	st := wf.Export()
	if st.ID == "" {
		return errors.New("workflow has no ID, submit it first")
	}

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, status, results, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			results = excluded.results,
			updated_at = excluded.updated_at
	`, st.ID, st.Name, string(st.Status), string(st.Results.JSON()), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert workflow: %w", err)
	}

	for seq, n := range st.Nodes {
		if err := saveNode(ctx, tx, st.ID, seq, n); err != nil {
			return err
		}
	}

	// Splices rewrite parent lists, so edges are replaced wholesale
	_, err = tx.ExecContext(ctx, `DELETE FROM node_parents WHERE workflow_id = ?`, st.ID)
	if err != nil {
		return fmt.Errorf("failed to delete old edges: %w", err)
	}
	for _, n := range st.Nodes {
		for _, p := range st.Parents[n.ID] {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO node_parents (workflow_id, node_id, parent_id)
				VALUES (?, ?, ?)
			`, st.ID, n.ID, p)
			if err != nil {
				return fmt.Errorf("failed to insert edge %s -> %s: %w", p, n.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func saveNode(ctx context.Context, tx *sql.Tx, workflowID string, seq int, n *scheduler.Node) error {
	var params scheduler.Params
	if n.Task != nil {
		params = n.Task.Params()
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params of node %q: %w", n.ID, err)
	}

	var seed sql.NullString
	if len(n.Seed) > 0 {
		b, err := json.Marshal(n.Seed)
		if err != nil {
			return fmt.Errorf("failed to encode seed of node %q: %w", n.ID, err)
		}
		seed = sql.NullString{String: string(b), Valid: true}
	}

	var errStr sql.NullString
	if n.Err != nil {
		errStr = sql.NullString{String: n.Err.Error(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (workflow_id, id, seq, name, kind, params, seed, origin, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, id) DO UPDATE SET
			seq = excluded.seq,
			name = excluded.name,
			kind = excluded.kind,
			params = excluded.params,
			seed = excluded.seed,
			origin = excluded.origin,
			status = excluded.status,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, workflowID, n.ID, seq, n.Name, n.Kind(), string(paramsJSON), seed, n.Origin, int(n.Status), errStr,
		unixNano(n.StartedAt), unixNano(n.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert node %q: %w", n.ID, err)
	}
	return nil
}

// Load rebuilds a stored workflow, constructing each task through reg.
// Nodes that were Ready or Running when the workflow was saved are reset to
// Pending so the run can be resumed.
func (s *SQLiteStore) Load(ctx context.Context, id string, reg *scheduler.Registry) (*scheduler.Workflow, error) {
	var name, resultsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, results FROM workflows WHERE id = ?
	`, id).Scan(&name, &resultsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}

	nodes, err := s.loadNodes(ctx, id, reg)
	if err != nil {
		return nil, err
	}
	parents, err := s.loadParents(ctx, id)
	if err != nil {
		return nil, err
	}

	store, err := results.FromJSON([]byte(resultsJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to decode results of workflow %q: %w", id, err)
	}

	wf, err := scheduler.Restore(id, name, nodes, parents, store)
	if err != nil {
		return nil, fmt.Errorf("failed to restore workflow %q: %w", id, err)
	}
	wf.ResetInterrupted()
	return wf, nil
}

func (s *SQLiteStore) loadNodes(ctx context.Context, workflowID string, reg *scheduler.Registry) ([]*scheduler.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, params, seed, origin, status, error, started_at, finished_at
		FROM nodes
		WHERE workflow_id = ?
		ORDER BY seq ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*scheduler.Node
	for rows.Next() {
		var (
			n                 scheduler.Node
			kind, paramsJSON  string
			seed, errStr      sql.NullString
			status            int
			started, finished int64
		)
		if err := rows.Scan(&n.ID, &n.Name, &kind, &paramsJSON, &seed, &n.Origin, &status, &errStr, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		var params map[string]any
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return nil, fmt.Errorf("failed to decode params of node %q: %w", n.ID, err)
		}
		task, err := reg.Build(kind, scheduler.NewParams(params))
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild task of node %q: %w", n.ID, err)
		}
		n.Task = task

		if seed.Valid {
			if err := json.Unmarshal([]byte(seed.String), &n.Seed); err != nil {
				return nil, fmt.Errorf("failed to decode seed of node %q: %w", n.ID, err)
			}
		}
		if errStr.Valid {
			n.Err = errors.New(errStr.String)
		}
		n.Status = scheduler.NodeStatus(status)
		n.StartedAt = fromUnixNano(started)
		n.FinishedAt = fromUnixNano(finished)

		nodes = append(nodes, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

func (s *SQLiteStore) loadParents(ctx context.Context, workflowID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.node_id, p.parent_id
		FROM node_parents p
		JOIN nodes n ON n.workflow_id = p.workflow_id AND n.id = p.parent_id
		WHERE p.workflow_id = ?
		ORDER BY p.node_id, n.seq
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	parents := make(map[string][]string)
	for rows.Next() {
		var nodeID, parentID string
		if err := rows.Scan(&nodeID, &parentID); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		parents[nodeID] = append(parents[nodeID], parentID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}

	return parents, nil
}

// List returns a summary of every stored workflow, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]WorkflowSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.status, w.created_at, w.updated_at,
			(SELECT COUNT(*) FROM nodes n WHERE n.workflow_id = w.id)
		FROM workflows w
		ORDER BY w.created_at ASC, w.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	summaries := []WorkflowSummary{}
	for rows.Next() {
		var (
			ws               WorkflowSummary
			status           string
			created, updated int64
		)
		if err := rows.Scan(&ws.ID, &ws.Name, &status, &created, &updated, &ws.Nodes); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		ws.Status = scheduler.WorkflowStatus(status)
		ws.CreatedAt = fromUnixNano(created)
		ws.UpdatedAt = fromUnixNano(updated)
		summaries = append(summaries, ws)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return summaries, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
