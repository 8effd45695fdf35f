package kvprovider

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdKV backs the State Store with etcd, giving multi-replica
// deployments a shared, linearizable hot store (see SPEC_FULL.md §4.10).
type EtcdKV struct {
	client    *clientv3.Client
	namespace string
}

// NewEtcdKV dials the given etcd endpoints.
func NewEtcdKV(endpoints []string, namespace string) (*EtcdKV, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &EtcdKV{client: client, namespace: namespace}, nil
}

func (e *EtcdKV) nsKey(key string) string {
	if e.namespace == "" {
		return key
	}
	return strings.TrimRight(e.namespace, "/") + "/" + key
}

func (e *EtcdKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := e.client.Get(ctx, e.nsKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("etcd get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

// SetIfNotExists uses a transaction guarded on CreateRevision(key)=0, the
// standard etcd idiom for atomic "create if absent".
func (e *EtcdKV) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	full := e.nsKey(key)

	var opts []clientv3.OpOption
	if ttl > 0 {
		lease, err := e.client.Grant(ctx, int64(ttl.Seconds()))
		if err != nil {
			return false, fmt.Errorf("etcd lease grant: %w", err)
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}

	txn := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(full), "=", 0)).
		Then(clientv3.OpPut(full, string(value), opts...))

	resp, err := txn.Commit()
	if err != nil {
		return false, fmt.Errorf("etcd txn create %s: %w", key, err)
	}
	return resp.Succeeded, nil
}

func (e *EtcdKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := e.client.Put(ctx, e.nsKey(key), string(value)); err != nil {
		return fmt.Errorf("etcd put %s: %w", key, err)
	}
	return nil
}

func (e *EtcdKV) Delete(ctx context.Context, key string) error {
	if _, err := e.client.Delete(ctx, e.nsKey(key)); err != nil {
		return fmt.Errorf("etcd delete %s: %w", key, err)
	}
	return nil
}

func (e *EtcdKV) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	resp, err := e.client.Get(ctx, e.nsKey(prefix), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("etcd scan %s: %w", prefix, err)
	}

	trim := e.nsKey("")
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, strings.TrimPrefix(string(kv.Key), trim))
	}
	return keys, nil
}

func (e *EtcdKV) Close() error {
	return e.client.Close()
}

var _ KV = (*EtcdKV)(nil)
