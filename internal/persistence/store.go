package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/taskflow/internal/scheduler"
)

// ErrNotFound is returned when a workflow ID is not in the store.
var ErrNotFound = errors.New("workflow not found")

// WorkflowSummary is one row of List.
type WorkflowSummary struct {
	ID        string
	Name      string
	Status    scheduler.WorkflowStatus
	Nodes     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OutputLine is one captured line of a node's output.
type OutputLine struct {
	NodeID    string
	Line      string
	Timestamp time.Time
}

// Store defines the persistence interface for workflows and node output.
type Store interface {
	// Workflow operations
	Submit(ctx context.Context, wf *scheduler.Workflow) (string, error)
	SaveRun(ctx context.Context, wf *scheduler.Workflow) error
	Load(ctx context.Context, id string, reg *scheduler.Registry) (*scheduler.Workflow, error)
	List(ctx context.Context) ([]WorkflowSummary, error)

	// Node output
	SaveOutput(ctx context.Context, workflowID, nodeID, line string) error
	GetOutput(ctx context.Context, workflowID, nodeID string) ([]OutputLine, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	// Create parent directories
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite applies _pragma parameters on every new connection
	connStr := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each store
// gets its own named database so tests do not share state.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection avoids lock errors on the
	// shared in-memory cache
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
