package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/flowforge/orchestrator/pkg/kvprovider"
)

// failureKeyPrefix namespaces Active Failure Records in the shared KV
// backend, parallel to storeKeyPrefix. projectIndexPrefix is a second,
// disjoint namespace holding projectId -> failureId so getRecoveryStatus
// can find a project's open failure without scanning every record.
const (
	failureKeyPrefix   = "pipeline:failure:"
	projectIndexPrefix = "pipeline:failure-by-project:"
)

func failureKey(failureID string) string      { return failureKeyPrefix + failureID }
func projectIndexKey(projectID string) string { return projectIndexPrefix + projectID }

// FailureStore holds Active Failure Records (§4.6 "Active Failure Record").
// At most one open record exists per projectId at a time: escalating a new
// failure for a project that already has one replaces it.
type FailureStore interface {
	Save(ctx context.Context, rec *ActiveFailureRecord) error
	Get(ctx context.Context, failureID string) (*ActiveFailureRecord, error)
	GetByProject(ctx context.Context, projectID string) (*ActiveFailureRecord, error)
	Delete(ctx context.Context, failureID string, projectID string) error
}

type kvFailureStore struct {
	kv kvprovider.KV
}

// NewFailureStore builds a FailureStore over kv, or an in-memory KV if kv is
// nil — the same optionality convention as NewStore.
func NewFailureStore(kv kvprovider.KV) FailureStore {
	if kv == nil {
		kv = kvprovider.NewMemoryKV()
	}
	return &kvFailureStore{kv: kv}
}

func (s *kvFailureStore) Save(ctx context.Context, rec *ActiveFailureRecord) error {
	if rec.FailureID == "" {
		rec.FailureID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return ErrInternal(err, "failed to marshal failure record")
	}
	if err := s.kv.Set(ctx, failureKey(rec.FailureID), data); err != nil {
		return ErrInternal(err, "failed to save failure record")
	}
	if err := s.kv.Set(ctx, projectIndexKey(rec.ProjectID), []byte(rec.FailureID)); err != nil {
		return ErrInternal(err, "failed to index failure record by project")
	}
	return nil
}

func (s *kvFailureStore) Get(ctx context.Context, failureID string) (*ActiveFailureRecord, error) {
	data, found, err := s.kv.Get(ctx, failureKey(failureID))
	if err != nil {
		return nil, ErrInternal(err, "failed to load failure record")
	}
	if !found {
		return nil, nil
	}
	var rec ActiveFailureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrInternal(err, "failed to unmarshal failure record")
	}
	return &rec, nil
}

func (s *kvFailureStore) GetByProject(ctx context.Context, projectID string) (*ActiveFailureRecord, error) {
	data, found, err := s.kv.Get(ctx, projectIndexKey(projectID))
	if err != nil {
		return nil, ErrInternal(err, "failed to load failure index")
	}
	if !found {
		return nil, nil
	}
	return s.Get(ctx, string(data))
}

func (s *kvFailureStore) Delete(ctx context.Context, failureID, projectID string) error {
	if err := s.kv.Delete(ctx, failureKey(failureID)); err != nil {
		return ErrInternal(err, "failed to delete failure record")
	}
	if err := s.kv.Delete(ctx, projectIndexKey(projectID)); err != nil {
		return ErrInternal(err, "failed to delete failure index")
	}
	return nil
}

// scanFailurePrefix reports whether key is a failure/index key rather than
// a state-store key when both share a backend. Nothing in the module calls
// it.
func scanFailurePrefix(key string) bool {
	return strings.HasPrefix(key, failureKeyPrefix) || strings.HasPrefix(key, projectIndexPrefix)
}

var _ FailureStore = (*kvFailureStore)(nil)
