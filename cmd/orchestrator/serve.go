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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowforge/orchestrator/pkg/dbconfig"
	"github.com/flowforge/orchestrator/pkg/kvprovider"
	"github.com/flowforge/orchestrator/pkg/observability"
	"github.com/flowforge/orchestrator/pkg/orchestrator"
	"github.com/flowforge/orchestrator/pkg/pipelinehttp"
)

// ServeCmd starts the HTTP control surface and the recovery sweeper.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config file)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := LoadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if cli.LogLevel == "" && cli.LogFile == "" && cli.LogFormat == "" {
		if err := applyLoggerConfig(cfg.Logger); err != nil {
			return fmt.Errorf("failed to apply logger configuration: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cli.LogLevel == "" && cli.LogFile == "" && cli.LogFormat == "" {
		stopWatch, err := WatchConfig(ctx, cli.Config, func(reloaded *AppConfig) {
			if err := applyLoggerConfig(reloaded.Logger); err != nil {
				slog.Warn("failed to apply reloaded logger configuration", "error", err)
				return
			}
			slog.Info("logger configuration reloaded", "path", cli.Config)
		})
		if err != nil {
			slog.Warn("config hot-reload disabled", "error", err)
		} else {
			defer stopWatch() //nolint:errcheck
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	kv, err := kvprovider.New(kvprovider.Config{
		Backend:   kvprovider.Backend(cfg.KV.Backend),
		Endpoints: cfg.KV.Endpoints,
		Namespace: cfg.KV.Namespace,
	})
	if err != nil {
		return fmt.Errorf("failed to construct kv backend: %w", err)
	}
	defer kv.Close()

	var history orchestrator.History
	var checkpoints orchestrator.CheckpointStore
	if cfg.Database != nil {
		dbPool := dbconfig.NewDBPool()
		defer dbPool.Close()

		db, err := dbPool.Get(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		history, err = orchestrator.NewSQLHistory(db, cfg.Database.Dialect())
		if err != nil {
			return fmt.Errorf("failed to initialize history store: %w", err)
		}
		checkpoints, err = orchestrator.NewSQLCheckpointStore(db, cfg.Database.Dialect())
		if err != nil {
			return fmt.Errorf("failed to initialize checkpoint store: %w", err)
		}
		slog.Info("journal backed by database", "driver", cfg.Database.Driver, "database", cfg.Database.Describe())
	} else {
		slog.Warn("no database configured: history and checkpoints are disabled")
	}

	obsManager, err := observability.NewManager(ctx, &cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer obsManager.Shutdown(ctx) //nolint:errcheck

	var tracer orchestrator.Tracer = observability.NoopTracer{}
	if obsManager.TracingEnabled() {
		tracer = obsManager.Tracer()
	}
	var metrics observability.Recorder = observability.NoopMetrics{}
	if obsManager.MetricsEnabled() {
		metrics = obsManager.Metrics()
	}

	store := orchestrator.NewStore(orchestrator.StoreConfig{
		KV:            kv,
		HotContextTTL: time.Duration(cfg.Orchestrator.HotContextTTLSeconds) * time.Second,
	})
	bus := orchestrator.NewEventBus()

	machine := orchestrator.NewStateMachine(&cfg.Orchestrator, orchestrator.Deps{
		Store:       store,
		History:     history,
		Checkpoints: checkpoints,
		Bus:         bus,
		Tracer:      tracer,
		Metrics:     metrics,
	})
	engine := orchestrator.NewRecoveryEngine(&cfg.Orchestrator, machine, orchestrator.RecoveryDeps{
		Failures: orchestrator.NewFailureStore(kv),
	})
	control := orchestrator.NewControlSurface(machine, engine)

	sweeper := orchestrator.NewRecoverySweeper(&cfg.Orchestrator, machine, engine)
	go sweeper.Run(ctx, time.Minute)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: pipelinehttp.NewServer(control),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("orchestrator listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}

	<-sweeper.Stopped()
	slog.Info("orchestrator shut down gracefully")
	return nil
}
