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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/flowforge/orchestrator/pkg/dbconfig"
	"github.com/flowforge/orchestrator/pkg/kvprovider"
	"github.com/flowforge/orchestrator/pkg/observability"
	"github.com/flowforge/orchestrator/pkg/orchestrator"
)

// configWatchDebounce mirrors the debounce window the teacher's FileProvider
// uses to collapse a burst of writes (e.g. an editor's save-via-rename) into
// a single reload.
const configWatchDebounce = 100 * time.Millisecond

// AppConfig is the orchestrator process's top-level configuration: where it
// listens, which KV/journal backends it binds the core to, and the core's
// own recognised options.
type AppConfig struct {
	Server        ServerConfig             `yaml:"server"`
	Database      *dbconfig.DatabaseConfig `yaml:"database,omitempty"`
	KV            KVConfig                 `yaml:"kv"`
	Orchestrator  orchestrator.Config      `yaml:"orchestrator"`
	Observability observability.Config     `yaml:"observability"`
	Logger        LoggerConfig             `yaml:"logger"`
}

// ServerConfig configures the HTTP transport demo (pkg/pipelinehttp).
type ServerConfig struct {
	Port int `yaml:"port"`
}

// KVConfig selects and configures the hot-store backend (§4.10).
type KVConfig struct {
	Backend   string   `yaml:"backend,omitempty"`
	Endpoints []string `yaml:"endpoints,omitempty"`
	Namespace string   `yaml:"namespace,omitempty"`
}

// LoggerConfig configures process-wide structured logging.
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`
	File   string `yaml:"file,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// SetDefaults applies every sub-config's defaults, including the orchestrator
// core's own (§8 "Environment / configuration").
func (c *AppConfig) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.KV.Backend == "" {
		c.KV.Backend = string(kvprovider.BackendMemory)
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "simple"
	}
	if c.Database != nil {
		c.Database.SetDefaults()
	}
	c.Orchestrator.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every sub-config for internal consistency.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if _, err := kvprovider.ParseBackend(c.KV.Backend); err != nil {
		return fmt.Errorf("kv.backend: %w", err)
	}
	if c.Database != nil {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// LoadConfig reads an AppConfig from a YAML file, applying defaults and
// validating the result. A .env file alongside path, if present, is loaded
// first so ${VAR}-style values in the YAML resolve against it.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load(path + ".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// WatchConfig watches path for changes and invokes onReload with the
// freshly loaded, validated config each time the file is written. Rapid
// successive writes are debounced the same way the teacher's
// FileProvider.watchLoop debounces editor saves. Only the logger section is
// safe to apply without a restart today (§8); onReload callers decide what,
// if anything, to act on.
//
// The directory containing path is watched rather than path itself, since
// some editors replace a file via rename-on-save rather than writing it in
// place, which wouldn't otherwise surface a watchable event for path.
func WatchConfig(ctx context.Context, path string, onReload func(*AppConfig)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	go watchConfigLoop(ctx, watcher, path, onReload)

	return watcher.Close, nil
}

func watchConfigLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, onReload func(*AppConfig)) {
	target := filepath.Clean(path)
	var debounce *time.Timer

	reload := func() {
		cfg, err := LoadConfig(path)
		if err != nil {
			slog.Warn("config reload failed, keeping previous configuration", "path", path, "error", err)
			return
		}
		onReload(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(configWatchDebounce, reload)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "path", path, "error", watchErr)
		}
	}
}
