package kvprovider

import (
	"fmt"
	"strings"
	"time"

	"context"

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulKV backs the State Store with Consul's KV store, an alternative to
// EtcdKV for deployments that already run Consul for service discovery.
type ConsulKV struct {
	client    *consulapi.Client
	namespace string
}

// NewConsulKV dials the first reachable Consul endpoint.
func NewConsulKV(endpoints []string, namespace string) (*ConsulKV, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("consul endpoints are required")
	}

	cfg := consulapi.DefaultConfig()
	cfg.Address = endpoints[0]

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulKV{client: client, namespace: namespace}, nil
}

func (c *ConsulKV) nsKey(key string) string {
	if c.namespace == "" {
		return key
	}
	return strings.TrimRight(c.namespace, "/") + "/" + key
}

func (c *ConsulKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	pair, _, err := c.client.KV().Get(c.nsKey(key), nil)
	if err != nil {
		return nil, false, fmt.Errorf("consul get %s: %w", key, err)
	}
	if pair == nil {
		return nil, false, nil
	}
	return pair.Value, true, nil
}

// SetIfNotExists relies on Consul's check-and-set: a CAS write with
// ModifyIndex=0 only succeeds if the key does not yet exist.
func (c *ConsulKV) SetIfNotExists(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	full := c.nsKey(key)

	pair := &consulapi.KVPair{Key: full, Value: value, ModifyIndex: 0}
	ok, _, err := c.client.KV().CAS(pair, nil)
	if err != nil {
		return false, fmt.Errorf("consul cas create %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	if ttl > 0 {
		if err := c.scheduleExpiry(full, ttl); err != nil {
			// TTL scheduling is advisory (Consul KV has no native per-key
			// TTL); failing to schedule it must not undo the create.
			return true, fmt.Errorf("created but failed to schedule expiry for %s: %w", key, err)
		}
	}
	return true, nil
}

// scheduleExpiry is a best-effort advisory expiry: it fires a background
// delete once ttl elapses. Consul's KV store has no native per-key TTL
// outside of session-bound keys, which would require a long-lived session
// per project; an advisory sweep is sufficient because the Recovery
// Sweeper (C5) reconciles stale hot entries independently of TTL.
func (c *ConsulKV) scheduleExpiry(key string, ttl time.Duration) error {
	go func() {
		time.Sleep(ttl)
		_, _ = c.client.KV().Delete(key, nil)
	}()
	return nil
}

func (c *ConsulKV) Set(_ context.Context, key string, value []byte) error {
	pair := &consulapi.KVPair{Key: c.nsKey(key), Value: value}
	if _, err := c.client.KV().Put(pair, nil); err != nil {
		return fmt.Errorf("consul put %s: %w", key, err)
	}
	return nil
}

func (c *ConsulKV) Delete(_ context.Context, key string) error {
	if _, err := c.client.KV().Delete(c.nsKey(key), nil); err != nil {
		return fmt.Errorf("consul delete %s: %w", key, err)
	}
	return nil
}

func (c *ConsulKV) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	keys, _, err := c.client.KV().Keys(c.nsKey(prefix), "", nil)
	if err != nil {
		return nil, fmt.Errorf("consul scan %s: %w", prefix, err)
	}

	trim := c.nsKey("")
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, trim))
	}
	return out, nil
}

func (c *ConsulKV) Close() error { return nil }

var _ KV = (*ConsulKV)(nil)
