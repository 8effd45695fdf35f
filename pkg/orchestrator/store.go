package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowforge/orchestrator/pkg/kvprovider"
)

// storeKeyPrefix is the C1 key namespace: pipeline:state:{projectId}.
const storeKeyPrefix = "pipeline:state:"

func storeKey(projectID string) string {
	return storeKeyPrefix + projectID
}

// Store is the hot KV surface of C1: atomic create, single-writer update,
// lookup, deletion, scan-by-prefix.
type Store interface {
	// CreateIfAbsent atomically persists ctx, failing with a KindConflict
	// *Error if a context already exists for ctx.ProjectID.
	CreateIfAbsent(ctx context.Context, pctx *PipelineContext) error

	// Get returns the context for projectID, or (nil, nil) if absent.
	Get(ctx context.Context, projectID string) (*PipelineContext, error)

	// Update performs an optimistic read-modify-write: mutator is applied
	// to the current context and the result is persisted. Callers must
	// hold the per-project lock (see lockTable) before calling Update;
	// Update does not itself serialize concurrent callers for the same
	// project.
	Update(ctx context.Context, projectID string, mutator func(*PipelineContext) error) (*PipelineContext, error)

	// Delete removes the context for projectID. Deleting a missing
	// projectID is not an error.
	Delete(ctx context.Context, projectID string) error

	// ScanProjectIDs returns every projectID with a live context, for the
	// Recovery Sweeper (C5).
	ScanProjectIDs(ctx context.Context) ([]string, error)
}

// StoreConfig configures the KV-backed Store.
type StoreConfig struct {
	KV kvprovider.KV

	// HotContextTTL bounds orphaned hot rows (default 7 days per
	// spec.md §8 "hotContextTtlSeconds").
	HotContextTTL time.Duration
}

// kvStore implements Store on top of a kvprovider.KV backend.
type kvStore struct {
	kv  kvprovider.KV
	ttl time.Duration
}

// NewStore creates a Store backed by cfg.KV. If cfg.KV is nil, an in-memory
// backend is created (the default for single-process deployments and every
// test in this module).
func NewStore(cfg StoreConfig) Store {
	kv := cfg.KV
	if kv == nil {
		kv = kvprovider.NewMemoryKV()
	}
	ttl := cfg.HotContextTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &kvStore{kv: kv, ttl: ttl}
}

func (s *kvStore) CreateIfAbsent(ctx context.Context, pctx *PipelineContext) error {
	data, err := json.Marshal(pctx)
	if err != nil {
		return ErrInternal(err, "failed to encode pipeline context")
	}

	ok, err := s.kv.SetIfNotExists(ctx, storeKey(pctx.ProjectID), data, s.ttl)
	if err != nil {
		return ErrInternal(err, "store unavailable")
	}
	if !ok {
		return ErrConflict("pipeline already active for project %s", pctx.ProjectID)
	}
	return nil
}

func (s *kvStore) Get(ctx context.Context, projectID string) (*PipelineContext, error) {
	data, found, err := s.kv.Get(ctx, storeKey(projectID))
	if err != nil {
		return nil, ErrInternal(err, "store unavailable")
	}
	if !found {
		return nil, nil
	}

	var pctx PipelineContext
	if err := json.Unmarshal(data, &pctx); err != nil {
		return nil, ErrInternal(err, "failed to decode pipeline context")
	}
	return &pctx, nil
}

func (s *kvStore) Update(ctx context.Context, projectID string, mutator func(*PipelineContext) error) (*PipelineContext, error) {
	pctx, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if pctx == nil {
		return nil, ErrNotFound("no active pipeline for project %s", projectID)
	}

	if err := mutator(pctx); err != nil {
		return nil, err
	}
	pctx.UpdatedAt = time.Now()

	data, err := json.Marshal(pctx)
	if err != nil {
		return nil, ErrInternal(err, "failed to encode pipeline context")
	}
	if err := s.kv.Set(ctx, storeKey(projectID), data); err != nil {
		return nil, ErrInternal(err, "store unavailable")
	}
	return pctx, nil
}

func (s *kvStore) Delete(ctx context.Context, projectID string) error {
	if err := s.kv.Delete(ctx, storeKey(projectID)); err != nil {
		return ErrInternal(err, "store unavailable")
	}
	return nil
}

func (s *kvStore) ScanProjectIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.ScanPrefix(ctx, storeKeyPrefix)
	if err != nil {
		return nil, ErrInternal(err, "store unavailable")
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(storeKeyPrefix):])
	}
	return ids, nil
}

var _ Store = (*kvStore)(nil)
