/*
Copyright 2024 The ZKWire Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package zk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zkwire",
		Name:      "connects_total",
		Help:      "Successful session handshakes, including reconnects.",
	})
	metricDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zkwire",
		Name:      "disconnects_total",
		Help:      "Connection losses that triggered a queue drain.",
	})
	metricPacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zkwire",
		Name:      "packets_sent_total",
		Help:      "Frames written to the server, pings included.",
	})
	metricPacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zkwire",
		Name:      "packets_received_total",
		Help:      "Frames read from the server.",
	})
	metricWatchEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zkwire",
		Name:      "watch_events_total",
		Help:      "Watcher notifications delivered to the dispatcher.",
	})
	metricPingRTT = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zkwire",
		Name:      "ping_rtt_seconds",
		Help:      "Round trip of session pings.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)
