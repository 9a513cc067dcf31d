// Copyright 2025 UMH Systems GmbH
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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lindylearn/unclutter-sync/pkg/logger"
	"github.com/lindylearn/unclutter-sync/pkg/sentry"
)

const (
	// Component labels.
	ComponentPush  = "push"
	ComponentPull  = "pull"
	ComponentPoke  = "poke"
	ComponentStore = "store"
	ComponentAPI   = "api"

	// Outcome labels.
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
	OutcomeUnknown = "unknown"
)

var (
	namespace = "unclutter"
	subsystem = "sync"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	requestDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_milliseconds",
			Help:      "Time taken to serve a push or pull (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"component"},
	)

	txAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tx_attempts_total",
			Help:      "Serializable transaction attempts by outcome",
		},
		[]string{"outcome"},
	)

	txRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tx_retries_total",
			Help:      "Transactions restarted after a serialization failure or deadlock",
		},
	)

	mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mutations_total",
			Help:      "Mutations seen by push, by mutator and outcome",
		},
		[]string{"mutator", "outcome"},
	)

	pullPatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pull_patch_size",
			Help:      "Number of operations in a pull patch",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	pokes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pokes_total",
			Help:      "Pokes delivered to SSE listeners by source",
		},
		[]string{"source"},
	)

	sseListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sse_listeners",
			Help:      "Currently connected poke listeners",
		},
	)
)

// SetupMetricsEndpoint serves /metrics on addr in the background.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For("metrics"))
		}
	}()

	return server
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// ObserveRequestTime records how long a push or pull took.
func ObserveRequestTime(component string, duration time.Duration) {
	requestDuration.WithLabelValues(component).Observe(float64(duration.Milliseconds()))
}

// IncTxAttempt counts one transaction attempt.
func IncTxAttempt(outcome string) {
	txAttempts.WithLabelValues(outcome).Inc()
}

// IncTxRetry counts one restart of a transaction.
func IncTxRetry() {
	txRetries.Inc()
}

// IncMutation counts one mutation of a push batch.
func IncMutation(mutator, outcome string) {
	mutations.WithLabelValues(mutator, outcome).Inc()
}

// ObservePullPatchSize records the size of a pull patch.
func ObservePullPatchSize(size int) {
	pullPatchSize.Observe(float64(size))
}

// IncPoke counts a poke delivered from source ("local", "redis", "postgres").
func IncPoke(source string) {
	pokes.WithLabelValues(source).Inc()
}

// AddSSEListeners adjusts the connected listener gauge.
func AddSSEListeners(delta float64) {
	sseListeners.Add(delta)
}
