// SPDX-License-Identifier: AGPL-3.0-or-later
// DMRHub - Run a DMR network server in a single binary
// Copyright (C) 2023-2024 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/USA-RedDragon/DMRHub>

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// KV Store metrics
	KVOperationsTotal   *prometheus.CounterVec
	KVOperationDuration *prometheus.HistogramVec
	KVKeysTotal         prometheus.Gauge
	KVExpiredKeysTotal  prometheus.Counter
	KVCleanupDuration   prometheus.Histogram

	// Protocol metrics
	MessagesDecodedTotal  *prometheus.CounterVec
	MessagesDecodeErrors  prometheus.Counter
	CacheHitsTotal        *prometheus.CounterVec
	CacheMissesTotal      *prometheus.CounterVec
	QueryTimeoutsTotal    prometheus.Counter
	FeatureAbortsTotal    *prometheus.CounterVec
	DiscoveryStateChanges *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		KVOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kv_operations_total",
			Help: "The total number of KV operations performed",
		}, []string{"operation", "status"}),
		KVOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kv_operation_duration_seconds",
			Help:    "Duration of KV operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		KVKeysTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kv_keys_total",
			Help: "The current number of keys in the KV store",
		}),
		KVExpiredKeysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kv_expired_keys_total",
			Help: "The total number of expired keys cleaned up",
		}),
		KVCleanupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kv_cleanup_duration_seconds",
			Help:    "Duration of KV cleanup operations",
			Buckets: prometheus.DefBuckets,
		}),
		MessagesDecodedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lip_messages_decoded_total",
			Help: "The total number of LIP wire messages decoded, by opcode",
		}, []string{"opcode"}),
		MessagesDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lip_messages_decode_errors_total",
			Help: "The total number of LIP wire messages that failed to decode",
		}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lip_cache_hits_total",
			Help: "The total number of latency cache lookups satisfied without a downstream query",
		}, []string{"dimension"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lip_cache_misses_total",
			Help: "The total number of latency cache lookups requiring a downstream query",
		}, []string{"dimension"}),
		QueryTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lip_query_timeouts_total",
			Help: "The total number of pending latency queries that timed out waiting for a downstream reply",
		}),
		FeatureAbortsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lip_feature_aborts_total",
			Help: "The total number of Feature Abort messages observed, by reason",
		}, []string{"reason"}),
		DiscoveryStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lip_discovery_state_changes_total",
			Help: "The total number of downstream discovery state transitions",
		}, []string{"state"}),
	}
	metrics.register()
	return metrics
}

func (m *Metrics) register() {
	prometheus.MustRegister(m.KVOperationsTotal)
	prometheus.MustRegister(m.KVOperationDuration)
	prometheus.MustRegister(m.KVKeysTotal)
	prometheus.MustRegister(m.KVExpiredKeysTotal)
	prometheus.MustRegister(m.KVCleanupDuration)
	prometheus.MustRegister(m.MessagesDecodedTotal)
	prometheus.MustRegister(m.MessagesDecodeErrors)
	prometheus.MustRegister(m.CacheHitsTotal)
	prometheus.MustRegister(m.CacheMissesTotal)
	prometheus.MustRegister(m.QueryTimeoutsTotal)
	prometheus.MustRegister(m.FeatureAbortsTotal)
	prometheus.MustRegister(m.DiscoveryStateChanges)
}

// KV Store metrics methods
func (m *Metrics) RecordKVOperation(operation, status string, duration float64) {
	m.KVOperationsTotal.WithLabelValues(operation, status).Inc()
	m.KVOperationDuration.WithLabelValues(operation).Observe(duration)
}

func (m *Metrics) SetKVKeysTotal(count float64) {
	m.KVKeysTotal.Set(count)
}

func (m *Metrics) IncrementKVExpiredKeys(count float64) {
	m.KVExpiredKeysTotal.Add(count)
}

func (m *Metrics) RecordKVCleanup(duration float64) {
	m.KVCleanupDuration.Observe(duration)
}
