package kvprovider

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// DistributedLock serializes mutating operations on a single project across
// control-plane replicas, replacing the in-process per-project mutex table
// described in spec.md §5 when running more than one replica.
type DistributedLock interface {
	// Acquire blocks until the lock for key is held or ctx is done. The
	// returned release function must be called to give the lock up; lease
	// bounds how long the lock is held if release is never called (process
	// crash) so another replica is never blocked forever.
	Acquire(ctx context.Context, key string, lease time.Duration) (release func(context.Context) error, err error)
}

const zkLockRoot = "/pipeline/locks"

// ZKLock implements DistributedLock using the standard Zookeeper recipe:
// a sequential ephemeral znode per waiter, granted the lock once it is the
// lowest-numbered child of the lock directory.
type ZKLock struct {
	conn *zk.Conn
}

// NewZKLock connects to the given Zookeeper ensemble.
func NewZKLock(endpoints []string) (*ZKLock, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZKLock{conn: conn}, nil
}

func (l *ZKLock) ensureDir(path string) error {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		exists, _, err := l.conn.Exists(cur)
		if err != nil {
			return fmt.Errorf("zk exists %s: %w", cur, err)
		}
		if !exists {
			_, err := l.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && err != zk.ErrNodeExists {
				return fmt.Errorf("zk create %s: %w", cur, err)
			}
		}
	}
	return nil
}

// Acquire implements DistributedLock.
//
// lease is advisory here: Zookeeper ephemeral nodes are already bound to the
// client session, so a crashed holder releases automatically when its
// session expires. lease is accepted for interface parity with KV-backend
// locks that lack session semantics.
func (l *ZKLock) Acquire(ctx context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	dir := zkLockRoot + "/" + key
	if err := l.ensureDir(dir); err != nil {
		return nil, err
	}

	path, err := l.conn.CreateProtectedEphemeralSequential(dir+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("zk create sequential lock node: %w", err)
	}

	for {
		children, _, err := l.conn.Children(dir)
		if err != nil {
			return nil, fmt.Errorf("zk children %s: %w", dir, err)
		}
		sort.Strings(children)

		myName := path[strings.LastIndex(path, "/")+1:]
		lowest := children[0]
		if myName == lowest {
			break // we hold the lock
		}

		// Watch the node immediately before ours; wake up when it's removed.
		predecessor := ""
		for _, c := range children {
			if c >= myName {
				break
			}
			predecessor = c
		}
		if predecessor == "" {
			continue // raced with a concurrent delete; re-check
		}

		exists, _, eventCh, err := l.conn.ExistsW(dir + "/" + predecessor)
		if err != nil {
			return nil, fmt.Errorf("zk watch predecessor: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case <-eventCh:
		case <-ctx.Done():
			_ = l.conn.Delete(path, -1)
			return nil, ctx.Err()
		}
	}

	release := func(_ context.Context) error {
		if err := l.conn.Delete(path, -1); err != nil && err != zk.ErrNoNode {
			return fmt.Errorf("zk release %s: %w", path, err)
		}
		return nil
	}
	return release, nil
}

func (l *ZKLock) Close() error {
	l.conn.Close()
	return nil
}

// sequenceNumber extracts the trailing sequence counter Zookeeper appends to
// a sequential znode name, useful for diagnostics.
func sequenceNumber(name string) (int, error) {
	idx := strings.LastIndex(name, "-")
	if idx < 0 {
		return 0, fmt.Errorf("not a sequential node: %s", name)
	}
	return strconv.Atoi(name[idx+1:])
}

var _ DistributedLock = (*ZKLock)(nil)
