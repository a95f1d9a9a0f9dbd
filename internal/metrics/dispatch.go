// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnvelopesDispatched tracks envelopes successfully routed to a saga.
	EnvelopesDispatched = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "envelopes_dispatched_total",
			Help:      "Total number of envelopes successfully routed to a saga",
		},
		[]string{"kind"},
	)

	// EnvelopesRequeued tracks envelopes that could not be acted on yet and
	// were enqueued for retry.
	EnvelopesRequeued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "envelopes_requeued_total",
			Help:      "Total number of envelopes requeued for retry",
		},
		[]string{"kind"},
	)

	// EnvelopesDropped tracks envelopes that failed signature, freshness or
	// body verification, or whose routing handler failed.
	EnvelopesDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "envelopes_dropped_total",
			Help:      "Total number of envelopes dropped before dispatch",
		},
		[]string{"reason"}, // bad_signature, stale, malformed, handler_error
	)

	// RetryQueueDepth tracks the current size of the dispatch retry queue.
	RetryQueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "retry_queue_depth",
			Help:      "Current number of envelopes awaiting a retry",
		},
	)
)
