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
	// ConnectionsOpened tracks connections whose aggregate state reached Open.
	ConnectionsOpened = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "opened_total",
			Help:      "Total number of connections that reached the Open state",
		},
	)

	// ConnectionsClosed counts local Connection.Close calls; a connection
	// aborted by a remote close envelope is not counted.
	ConnectionsClosed = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "closed_total",
			Help:      "Total number of connections that reached the Closed state",
		},
	)

	// ConnectionProgress records every onProgress value reported, across all
	// connections.
	ConnectionProgress = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "progress_percent",
			Help:      "Distribution of onProgress values observed across connections",
			Buckets:   []float64{0, 10, 25, 50, 75, 90, 100},
		},
	)

	// MessagesSent tracks application text messages sent via Connection.send.
	MessagesSent = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "messages_sent_total",
			Help:      "Total number of non-empty text messages sent",
		},
	)

	// MessagesReceived tracks application text messages delivered to onMessage.
	MessagesReceived = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "messages_received_total",
			Help:      "Total number of text messages delivered to onMessage",
		},
	)

	// NonByteMessagesDropped tracks data-channel payloads dropped for not
	// being a byte buffer.
	NonByteMessagesDropped = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "non_byte_messages_dropped_total",
			Help:      "Total number of data-channel payloads dropped for not being bytes",
		},
	)
)
