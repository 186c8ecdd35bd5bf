package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are Unix nanoseconds, 0 meaning unset.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		results TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		workflow_id TEXT NOT NULL,
		id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		params TEXT NOT NULL,
		seed TEXT,
		origin TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (workflow_id, id),
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_workflow_seq ON nodes(workflow_id, seq);

	CREATE TABLE IF NOT EXISTS node_parents (
		workflow_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		PRIMARY KEY (workflow_id, node_id, parent_id),
		FOREIGN KEY (workflow_id, node_id) REFERENCES nodes(workflow_id, id) ON DELETE CASCADE,
		FOREIGN KEY (workflow_id, parent_id) REFERENCES nodes(workflow_id, id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS node_output (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		line TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_node_output_node
		ON node_output(workflow_id, node_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
