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
	// SagaTransitions tracks every saga state transition, by direction and
	// the state entered.
	SagaTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "transitions_total",
			Help:      "Total number of saga state transitions",
		},
		[]string{"direction", "state"}, // incoming|outgoing, SagaState name
	)

	// SagaTimeouts tracks per-step deadline expiries that reset a saga to New.
	SagaTimeouts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "timeouts_total",
			Help:      "Total number of Await* step deadlines that expired",
		},
		[]string{"direction", "state"},
	)

	// SagaAborts tracks calls to abort().
	SagaAborts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "aborts_total",
			Help:      "Total number of saga aborts",
		},
		[]string{"direction"},
	)

	// IceCandidatesCached tracks candidates queued before a remote
	// description was set.
	IceCandidatesCached = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "ice_candidates_cached_total",
			Help:      "Total number of ICE candidates cached pending a remote description",
		},
		[]string{"direction"},
	)

	// IceCandidatesDrained tracks cached candidates applied after
	// setRemoteDescription succeeds.
	IceCandidatesDrained = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "ice_candidates_drained_total",
			Help:      "Total number of cached ICE candidates drained after setDescription",
		},
		[]string{"direction"},
	)

	// RelayCandidatesSelected tracks relay-path connections versus direct.
	RelayCandidatesSelected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "relay_candidates_selected_total",
			Help:      "Total number of Connected sagas whose selected local candidate was a relay",
		},
		[]string{"direction"},
	)

	// StepDuration tracks wall time spent in each saga state before leaving it.
	StepDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "step_duration_seconds",
			Help:      "Time spent in each saga state before transitioning out",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"direction", "state"},
	)
)
