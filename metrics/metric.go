// Copyright 2023 The ZiboFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ZiboFS",
			Name:      "request_duration_seconds",
			Help:      "rpc handling latency by service, operation and status code",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"service", "operation", "code"},
	)

	ChunkBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ZiboFS",
			Name:      "chunk_io_bytes_total",
			Help:      "bytes moved through chunk read and write paths",
		},
		[]string{"service", "operation"},
	)

	ClusterNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ZiboFS",
			Name:      "cluster_nodes",
			Help:      "node count by health state",
		},
		[]string{"health"},
	)

	FailoverTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ZiboFS",
			Name:      "group_failover_total",
			Help:      "primary to secondary swaps performed by the scheduler",
		},
	)

	ArchivedChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ZiboFS",
			Name:      "archived_chunks_total",
			Help:      "chunks copied to the optical tier",
		},
	)
)

func init() {
	Registry.MustRegister(
		RequestDuration,
		ChunkBytes,
		ClusterNodes,
		FailoverTotal,
		ArchivedChunks,
	)
}

// Handler exposes the registry for the service http servers.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
