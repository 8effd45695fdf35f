package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// historySchema is compatible across postgres, mysql, and sqlite.
const historySchema = `
CREATE TABLE IF NOT EXISTS pipeline_state_history (
    id VARCHAR(255) PRIMARY KEY,
    project_id VARCHAR(255) NOT NULL,
    workspace_id VARCHAR(255) NOT NULL,
    workflow_id VARCHAR(255) NOT NULL,
    previous_state VARCHAR(50) NOT NULL,
    new_state VARCHAR(50) NOT NULL,
    triggered_by VARCHAR(255) NOT NULL,
    reason TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_state_history_project_id ON pipeline_state_history(project_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_state_history_created_at ON pipeline_state_history(created_at);
`

// failureRecoveryHistorySchema is C2's failure-history sibling table (§4.6
// step 2/5): one row per recovery attempt, written pending at classification
// time and updated in place once the chosen strategy resolves.
const failureRecoveryHistorySchema = `
CREATE TABLE IF NOT EXISTS failure_recovery_history (
    id VARCHAR(255) PRIMARY KEY,
    project_id VARCHAR(255) NOT NULL,
    workspace_id VARCHAR(255) NOT NULL,
    failure_id VARCHAR(255) NOT NULL,
    failure_type VARCHAR(50) NOT NULL,
    severity VARCHAR(50) NOT NULL,
    recovery_strategy VARCHAR(50) NOT NULL,
    success BOOLEAN NOT NULL,
    retry_count_before INTEGER NOT NULL,
    retry_count_after INTEGER NOT NULL,
    checkpoint_id VARCHAR(255),
    details TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_failure_recovery_history_project_id ON failure_recovery_history(project_id);
`

// History is the C2 append-only journal: every transition is recorded here
// and nothing is ever updated or deleted. Its failure-recovery sibling rows
// are the one exception: a row is written pending at classification time and
// updated once with its final outcome, never deleted.
type History interface {
	Append(ctx context.Context, entry StateHistoryEntry) error
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]StateHistoryEntry, error)

	// AppendFailureRecovery writes a pending recovery-history row and
	// returns its generated ID for a later UpdateFailureRecoveryOutcome call.
	AppendFailureRecovery(ctx context.Context, entry FailureRecoveryHistoryEntry) (string, error)
	// UpdateFailureRecoveryOutcome records a recovery attempt's final
	// strategy, success, and retryCountAfter against the row id returned by
	// AppendFailureRecovery.
	UpdateFailureRecoveryOutcome(ctx context.Context, id string, strategy RecoveryStrategy, success bool, retryCountAfter int, checkpointID string) error
	ListFailureRecoveryByProject(ctx context.Context, projectID string, limit, offset int) ([]FailureRecoveryHistoryEntry, error)

	Close() error
}

// SQLHistory implements History over database/sql, switching placeholder
// syntax between postgres ($1..$n) and mysql/sqlite (?).
type SQLHistory struct {
	db      *sql.DB
	dialect string
}

// NewSQLHistory wraps an already-open *sql.DB. dialect is one of "postgres",
// "mysql", "sqlite".
func NewSQLHistory(db *sql.DB, dialect string) (*SQLHistory, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	h := &SQLHistory{db: db, dialect: dialect}
	if err := h.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return h, nil
}

func (h *SQLHistory) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := h.db.ExecContext(ctx, historySchema); err != nil {
		return err
	}
	_, err := h.db.ExecContext(ctx, failureRecoveryHistorySchema)
	return err
}

// placeholder returns the nth bind placeholder for this dialect (1-indexed).
func (h *SQLHistory) placeholder(n int) string {
	if h.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (h *SQLHistory) placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = h.placeholder(i + 1)
	}
	return strings.Join(ps, ", ")
}

func (h *SQLHistory) Append(ctx context.Context, entry StateHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return ErrInternal(err, "failed to encode history metadata")
	}

	query := fmt.Sprintf(`
INSERT INTO pipeline_state_history
    (id, project_id, workspace_id, workflow_id, previous_state, new_state, triggered_by, reason, metadata, created_at)
VALUES (%s)
`, h.placeholders(10))

	_, err = h.db.ExecContext(ctx, query,
		entry.ID, entry.ProjectID, entry.WorkspaceID, entry.WorkflowID,
		string(entry.PreviousState), string(entry.NewState),
		entry.TriggeredBy, entry.Reason, string(metadata), entry.CreatedAt,
	)
	if err != nil {
		return ErrInternal(err, "failed to append history entry")
	}
	return nil
}

func (h *SQLHistory) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]StateHistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(`
SELECT id, project_id, workspace_id, workflow_id, previous_state, new_state, triggered_by, reason, metadata, created_at
FROM pipeline_state_history
WHERE project_id = %s
ORDER BY created_at DESC
LIMIT %s OFFSET %s
`, h.placeholder(1), h.placeholder(2), h.placeholder(3))

	rows, err := h.db.QueryContext(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, ErrInternal(err, "failed to query history")
	}
	defer rows.Close()

	var entries []StateHistoryEntry
	for rows.Next() {
		var e StateHistoryEntry
		var previousState, newState, metadata string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.WorkspaceID, &e.WorkflowID,
			&previousState, &newState, &e.TriggeredBy, &e.Reason, &metadata, &e.CreatedAt); err != nil {
			return nil, ErrInternal(err, "failed to scan history row")
		}
		e.PreviousState = State(previousState)
		e.NewState = State(newState)
		if metadata != "" && metadata != "null" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, ErrInternal(err, "failed to decode history metadata")
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (h *SQLHistory) AppendFailureRecovery(ctx context.Context, entry FailureRecoveryHistoryEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return "", ErrInternal(err, "failed to encode recovery history details")
	}

	query := fmt.Sprintf(`
INSERT INTO failure_recovery_history
    (id, project_id, workspace_id, failure_id, failure_type, severity, recovery_strategy, success, retry_count_before, retry_count_after, checkpoint_id, details, created_at)
VALUES (%s)
`, h.placeholders(13))

	_, err = h.db.ExecContext(ctx, query,
		entry.ID, entry.ProjectID, entry.WorkspaceID, entry.FailureID,
		string(entry.FailureType), string(entry.Severity), string(entry.RecoveryStrategy), entry.Success,
		entry.RetryCountBefore, entry.RetryCountAfter, entry.CheckpointID, string(details), entry.CreatedAt,
	)
	if err != nil {
		return "", ErrInternal(err, "failed to append recovery history entry")
	}
	return entry.ID, nil
}

func (h *SQLHistory) UpdateFailureRecoveryOutcome(ctx context.Context, id string, strategy RecoveryStrategy, success bool, retryCountAfter int, checkpointID string) error {
	query := fmt.Sprintf(`
UPDATE failure_recovery_history
SET recovery_strategy = %s, success = %s, retry_count_after = %s, checkpoint_id = %s
WHERE id = %s
`, h.placeholder(1), h.placeholder(2), h.placeholder(3), h.placeholder(4), h.placeholder(5))

	_, err := h.db.ExecContext(ctx, query, string(strategy), success, retryCountAfter, checkpointID, id)
	if err != nil {
		return ErrInternal(err, "failed to update recovery history outcome")
	}
	return nil
}

func (h *SQLHistory) ListFailureRecoveryByProject(ctx context.Context, projectID string, limit, offset int) ([]FailureRecoveryHistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(`
SELECT id, project_id, workspace_id, failure_id, failure_type, severity, recovery_strategy, success, retry_count_before, retry_count_after, checkpoint_id, details, created_at
FROM failure_recovery_history
WHERE project_id = %s
ORDER BY created_at DESC
LIMIT %s OFFSET %s
`, h.placeholder(1), h.placeholder(2), h.placeholder(3))

	rows, err := h.db.QueryContext(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, ErrInternal(err, "failed to query recovery history")
	}
	defer rows.Close()

	var entries []FailureRecoveryHistoryEntry
	for rows.Next() {
		var e FailureRecoveryHistoryEntry
		var failureType, severity, strategy, details string
		var checkpointID sql.NullString
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.WorkspaceID, &e.FailureID,
			&failureType, &severity, &strategy, &e.Success, &e.RetryCountBefore, &e.RetryCountAfter,
			&checkpointID, &details, &e.CreatedAt); err != nil {
			return nil, ErrInternal(err, "failed to scan recovery history row")
		}
		e.FailureType = FailureType(failureType)
		e.Severity = Severity(severity)
		e.RecoveryStrategy = RecoveryStrategy(strategy)
		e.CheckpointID = checkpointID.String
		if details != "" && details != "null" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, ErrInternal(err, "failed to decode recovery history details")
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (h *SQLHistory) Close() error {
	return h.db.Close()
}

var _ History = (*SQLHistory)(nil)
