package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveOutput appends one output line of a node.
func (s *SQLiteStore) SaveOutput(ctx context.Context, workflowID, nodeID, line string) error {
	// Create 5-second timeout context
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Append-only, no upsert needed
	_, err = tx.ExecContext(ctx, `
		INSERT INTO node_output (workflow_id, node_id, line, timestamp)
		VALUES (?, ?, ?, ?)
	`, workflowID, nodeID, line, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save output: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetOutput returns the captured lines of a node in the order they were
// written. An empty nodeID returns the lines of every node.
// Returns empty slice (not nil) if nothing was captured.
func (s *SQLiteStore) GetOutput(ctx context.Context, workflowID, nodeID string) ([]OutputLine, error) {
	// Create 5-second timeout context
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, line, timestamp
		FROM node_output
		WHERE workflow_id = ? AND (? = '' OR node_id = ?)
		ORDER BY id ASC
	`, workflowID, nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query output: %w", err)
	}
	defer rows.Close()

	lines := []OutputLine{}
	for rows.Next() {
		var (
			l  OutputLine
			ts int64
		)
		if err := rows.Scan(&l.NodeID, &l.Line, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan output line: %w", err)
		}
		l.Timestamp = time.Unix(0, ts)
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating output: %w", err)
	}

	return lines, nil
}
