// Package metrics exposes the Prometheus counters, gauges, and histograms
// emitted by the saga, connection, and dispatch packages.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "sagertc"

// Registry is the Prometheus registry all metrics in this package attach to.
// A standalone process can serve it with Handler(); a host application can
// instead register it into its own registry.
var Registry = prometheus.NewRegistry()
