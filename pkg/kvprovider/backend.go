// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kvprovider abstracts the hot KV store behind the State Store (C1)
// and the distributed lock used to serialize per-project mutations across
// control-plane replicas.
//
// Backends are selected through a small Backend enum plus a factory, so the
// rest of the system never imports etcd/consul/zk directly.
package kvprovider

import (
	"context"
	"fmt"
	"time"
)

// Backend identifies a KV backend implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendEtcd   Backend = "etcd"
	BackendConsul Backend = "consul"
)

// ParseBackend converts a string to a Backend, defaulting to memory.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "", "memory":
		return BackendMemory, nil
	case "etcd":
		return BackendEtcd, nil
	case "consul":
		return BackendConsul, nil
	default:
		return "", fmt.Errorf("unknown kv backend: %s", s)
	}
}

// KV is the storage surface the State Store (C1) is built on.
//
// Implementations must be safe for concurrent use. SetIfNotExists must be
// atomic with respect to other callers of the same backend instance — it is
// what gives startPipeline its create-if-absent guarantee.
type KV interface {
	// Get returns the value for key, or found=false if it does not exist.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// SetIfNotExists atomically creates key with value and the given TTL,
	// returning ok=false without error if the key already exists.
	// ttl <= 0 means no expiry.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Set unconditionally overwrites key, preserving any existing TTL
	// semantics the backend applies (implementations may choose to refresh
	// or drop the TTL; the State Store never relies on TTL refresh order).
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanPrefix returns every key that starts with prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Close releases backend resources (connections, watchers, ...).
	Close() error
}

// Config configures backend construction.
type Config struct {
	Backend Backend

	// Endpoints for networked backends (etcd, consul).
	Endpoints []string

	// Namespace prefixes every key this backend touches, so multiple
	// orchestrator deployments can safely share one etcd/consul cluster.
	Namespace string
}

// New constructs a KV backend from Config.
func New(cfg Config) (KV, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryKV(), nil
	case BackendEtcd:
		return NewEtcdKV(cfg.Endpoints, cfg.Namespace)
	case BackendConsul:
		return NewConsulKV(cfg.Endpoints, cfg.Namespace)
	default:
		return nil, fmt.Errorf("unknown kv backend: %s", cfg.Backend)
	}
}
