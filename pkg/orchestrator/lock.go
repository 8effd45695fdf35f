package orchestrator

import "sync"

// lockTable serializes mutating operations on the same project (spec.md
// §5). It is a mapping from projectId to a single-permit semaphore guarded
// by a coarse mutex; entries are reaped when a project terminates so the
// table never grows unbounded over a long-running process.
//
// For a multi-replica control plane, replace this with
// kvprovider.DistributedLock keyed on projectId (see SPEC_FULL.md §4.11);
// the StateMachine only depends on the acquire/release shape, not on this
// type, so swapping is a constructor-level decision.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// acquire returns the mutex for projectId, creating it if necessary, and
// locks it. The caller must call release to unlock.
func (t *lockTable) acquire(projectID string) func() {
	t.mu.Lock()
	l, ok := t.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[projectID] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// reap removes the lock entry for projectID. Safe to call even while no
// lock is held; only removes the map entry, never touches a locked mutex.
func (t *lockTable) reap(projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, projectID)
}
