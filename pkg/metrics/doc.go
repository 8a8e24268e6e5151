// Package metrics provides Prometheus-compatible metrics for the subscription
// server, written in the text exposition format (text/plain; version=0.0.4).
//
// Counters, gauges and histograms are safe for concurrent use. Init registers
// the default gqlws_* metrics on a global registry:
//
//	registry := metrics.Init()
//	metrics.ActiveConnections.WithLabels("graphql-transport-ws").Inc()
//	mux.Handle("/metrics", registry.Handler())
//
// Library code checks the globals for nil so it works without Init.
package metrics
