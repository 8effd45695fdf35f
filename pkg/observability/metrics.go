// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the orchestrator.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	transitionsTotal      *prometheus.CounterVec
	failuresTotal         *prometheus.CounterVec
	recoveryStrategyTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance from configuration.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.initPipelineMetrics()

	return m, nil
}

func (m *Metrics) initPipelineMetrics() {
	m.transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "pipeline",
			Name:      "transitions_total",
			Help:      "Total number of pipeline state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	m.failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Total number of reported pipeline failures by type and severity",
		},
		[]string{"failure_type", "severity"},
	)

	m.recoveryStrategyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "pipeline",
			Name:      "recovery_strategy_total",
			Help:      "Total number of recovery strategies executed by outcome",
		},
		[]string{"strategy", "success"},
	)

	m.registry.MustRegister(m.transitionsTotal, m.failuresTotal, m.recoveryStrategyTotal)
}

// RecordTransition increments the transition counter for (from, to).
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordFailure increments the failure counter for (failureType, severity).
func (m *Metrics) RecordFailure(failureType, severity string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(failureType, severity).Inc()
}

// RecordRecoveryStrategy increments the recovery-strategy counter.
func (m *Metrics) RecordRecoveryStrategy(strategy string, success bool) {
	if m == nil {
		return
	}
	m.recoveryStrategyTotal.WithLabelValues(strategy, boolLabel(success)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
