// Package agentqueue defines the contract for the external agent execution
// substrate the orchestrator enqueues phase jobs onto. The orchestrator only
// enqueues; the workers that actually run planner/implementer/QA/deploy
// agents live outside this module and call back through the Control
// Surface.
package agentqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobPayload is the fixed shape of a phase-agent job.
type JobPayload struct {
	ProjectID  string
	WorkflowID string
	Phase      string
	AgentType  string
	StoryID    string
	Metadata   map[string]any
}

// DispatchOptions carries the optional delay used by retry backoff.
type DispatchOptions struct {
	DelaySeconds int
}

// Dispatcher enqueues agent jobs. Implementations must not block the caller
// on job execution; enqueue only.
type Dispatcher interface {
	Enqueue(ctx context.Context, queueName string, payload JobPayload, opts DispatchOptions) (jobID string, err error)
}

// queuedJob is retained by MemoryDispatcher purely for introspection in
// tests; nothing in the orchestrator reads it back.
type queuedJob struct {
	JobID        string
	QueueName    string
	Payload      JobPayload
	DelaySeconds int
	EnqueuedAt   time.Time
}

// MemoryDispatcher is an in-process reference Dispatcher: it records jobs
// instead of handing them to a real worker pool. Useful for tests and for
// running the orchestrator standalone without wiring a real queue.
type MemoryDispatcher struct {
	mu   sync.Mutex
	jobs []queuedJob
}

// NewMemoryDispatcher creates an empty MemoryDispatcher.
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{}
}

func (d *MemoryDispatcher) Enqueue(ctx context.Context, queueName string, payload JobPayload, opts DispatchOptions) (string, error) {
	if queueName == "" {
		return "", fmt.Errorf("queueName is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	jobID := uuid.NewString()
	d.jobs = append(d.jobs, queuedJob{
		JobID:        jobID,
		QueueName:    queueName,
		Payload:      payload,
		DelaySeconds: opts.DelaySeconds,
		EnqueuedAt:   time.Now(),
	})
	return jobID, nil
}

// Jobs returns a snapshot of every job enqueued so far, oldest first.
func (d *MemoryDispatcher) Jobs() []queuedJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]queuedJob, len(d.jobs))
	copy(out, d.jobs)
	return out
}

// Count returns the number of jobs enqueued for queueName.
func (d *MemoryDispatcher) Count(queueName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, j := range d.jobs {
		if j.QueueName == queueName {
			n++
		}
	}
	return n
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
