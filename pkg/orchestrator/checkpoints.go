package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// checkpointSchema is compatible across postgres, mysql, and sqlite. One row
// per (project_id, phase); saving again for the same pair replaces the
// snapshot rather than appending, since rollback only ever wants the latest
// checkpoint for a phase.
const checkpointSchema = `
CREATE TABLE IF NOT EXISTS pipeline_checkpoints (
    id VARCHAR(255) PRIMARY KEY,
    project_id VARCHAR(255) NOT NULL,
    phase VARCHAR(50) NOT NULL,
    snapshot TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (project_id, phase)
);

CREATE INDEX IF NOT EXISTS idx_pipeline_checkpoints_project_id ON pipeline_checkpoints(project_id);
`

// CheckpointStore is the C7 durable snapshot surface the recovery engine
// rolls back to.
type CheckpointStore interface {
	Save(ctx context.Context, projectID string, phase Phase, snapshot *PipelineContext) (*Checkpoint, error)
	LoadLatest(ctx context.Context, projectID string, phase Phase) (*Checkpoint, error)
	DeleteByProject(ctx context.Context, projectID string) error
}

// SQLCheckpointStore implements CheckpointStore over database/sql, sharing
// the placeholder-switching approach used by SQLHistory.
type SQLCheckpointStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLCheckpointStore wraps an already-open *sql.DB.
func NewSQLCheckpointStore(db *sql.DB, dialect string) (*SQLCheckpointStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	cs := &SQLCheckpointStore{db: db, dialect: dialect}
	if err := cs.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize checkpoint schema: %w", err)
	}
	return cs, nil
}

func (cs *SQLCheckpointStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := cs.db.ExecContext(ctx, checkpointSchema)
	return err
}

func (cs *SQLCheckpointStore) placeholder(n int) string {
	if cs.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Save upserts the checkpoint for (projectID, phase). The upsert dialect
// differs enough between postgres/mysql/sqlite that we fall back to
// delete-then-insert inside a transaction, which is portable across all
// three and simple enough for checkpoint write volume.
func (cs *SQLCheckpointStore) Save(ctx context.Context, projectID string, phase Phase, snapshot *PipelineContext) (*Checkpoint, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, ErrInternal(err, "failed to encode checkpoint snapshot")
	}

	cp := &Checkpoint{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Phase:     phase,
		Snapshot:  snapshot,
		CreatedAt: time.Now(),
	}

	tx, err := cs.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ErrInternal(err, "failed to begin checkpoint transaction")
	}
	defer tx.Rollback()

	delQuery := fmt.Sprintf(`DELETE FROM pipeline_checkpoints WHERE project_id = %s AND phase = %s`,
		cs.placeholder(1), cs.placeholder(2))
	if _, err := tx.ExecContext(ctx, delQuery, projectID, string(phase)); err != nil {
		return nil, ErrInternal(err, "failed to replace checkpoint")
	}

	insQuery := fmt.Sprintf(`
INSERT INTO pipeline_checkpoints (id, project_id, phase, snapshot, created_at)
VALUES (%s, %s, %s, %s, %s)
`, cs.placeholder(1), cs.placeholder(2), cs.placeholder(3), cs.placeholder(4), cs.placeholder(5))
	if _, err := tx.ExecContext(ctx, insQuery, cp.ID, cp.ProjectID, string(cp.Phase), string(data), cp.CreatedAt); err != nil {
		return nil, ErrInternal(err, "failed to insert checkpoint")
	}

	if err := tx.Commit(); err != nil {
		return nil, ErrInternal(err, "failed to commit checkpoint transaction")
	}

	slog.Debug("saved checkpoint", "project_id", projectID, "phase", phase)
	return cp, nil
}

func (cs *SQLCheckpointStore) LoadLatest(ctx context.Context, projectID string, phase Phase) (*Checkpoint, error) {
	query := fmt.Sprintf(`
SELECT id, project_id, phase, snapshot, created_at
FROM pipeline_checkpoints
WHERE project_id = %s AND phase = %s
`, cs.placeholder(1), cs.placeholder(2))

	var cp Checkpoint
	var phaseStr, snapshot string
	err := cs.db.QueryRowContext(ctx, query, projectID, string(phase)).Scan(
		&cp.ID, &cp.ProjectID, &phaseStr, &snapshot, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound("no checkpoint for project %s phase %s", projectID, phase)
	}
	if err != nil {
		return nil, ErrInternal(err, "failed to query checkpoint")
	}

	cp.Phase = Phase(phaseStr)
	var snap PipelineContext
	if err := json.Unmarshal([]byte(snapshot), &snap); err != nil {
		return nil, ErrInternal(err, "failed to decode checkpoint snapshot")
	}
	cp.Snapshot = &snap
	return &cp, nil
}

func (cs *SQLCheckpointStore) DeleteByProject(ctx context.Context, projectID string) error {
	query := fmt.Sprintf(`DELETE FROM pipeline_checkpoints WHERE project_id = %s`, cs.placeholder(1))
	if _, err := cs.db.ExecContext(ctx, query, projectID); err != nil {
		return ErrInternal(err, "failed to delete checkpoints")
	}
	return nil
}

var _ CheckpointStore = (*SQLCheckpointStore)(nil)
