package metrics

import (
	"sync"
	"time"
)

// Default metrics for the subscription server. They are nil until Init is
// called, so call sites guard with a nil check.
//
// # Label Conventions
//
//   - protocol: graphql-transport-ws, graphql-ws
//   - direction: inbound, outbound
//   - type: the wire message type (connection_init, subscribe, next, ka, ...)
//   - kind: subscription, once
//   - outcome: complete, error, stopped
//   - code: numeric WebSocket close code
var (
	// ActiveConnections is the number of open WebSocket connections.
	// Labels: protocol
	ActiveConnections *Gauge

	// ActiveOperations is the number of running subscriptions.
	ActiveOperations *Gauge

	// MessagesTotal counts protocol messages.
	// Labels: direction, type
	MessagesTotal *Counter

	// OperationsTotal counts finished operations.
	// Labels: kind, outcome
	OperationsTotal *Counter

	// OperationDuration tracks how long operations ran, in seconds.
	// Labels: kind
	OperationDuration *Histogram

	// ConnectionsClosedTotal counts server-initiated closes.
	// Labels: code
	ConnectionsClosedTotal *Counter

	// HubPublishesTotal counts values published to broadcast hubs.
	HubPublishesTotal *Counter

	// HubConsumers is the number of attached broadcast hub consumers.
	HubConsumers *Gauge

	// UptimeSeconds is the server uptime in seconds.
	UptimeSeconds *Gauge

	// RuntimeCollectorInstance is the Go runtime metrics collector.
	RuntimeCollectorInstance *RuntimeCollector

	runtimeCollectorStop func()
	defaultRegistry      *Registry
	initOnce             sync.Once
)

// Init initializes the default metrics and returns the registry.
// It is idempotent.
func Init() *Registry {
	initOnce.Do(func() {
		r := NewRegistry()

		ActiveConnections = r.NewGauge(
			"gqlws_active_connections",
			"Number of open GraphQL WebSocket connections",
			"protocol",
		)
		ActiveOperations = r.NewGauge(
			"gqlws_active_operations",
			"Number of running subscription operations",
		)
		MessagesTotal = r.NewCounter(
			"gqlws_messages_total",
			"Total number of protocol messages",
			"direction", "type",
		)
		OperationsTotal = r.NewCounter(
			"gqlws_operations_total",
			"Total number of finished operations",
			"kind", "outcome",
		)
		OperationDuration = r.NewHistogram(
			"gqlws_operation_duration_seconds",
			"Duration of operations in seconds",
			DefaultBuckets,
			"kind",
		)
		ConnectionsClosedTotal = r.NewCounter(
			"gqlws_connections_closed_total",
			"Connections closed by the server, by close code",
			"code",
		)
		HubPublishesTotal = r.NewCounter(
			"gqlws_hub_publishes_total",
			"Total number of values published to broadcast hubs",
		)
		HubConsumers = r.NewGauge(
			"gqlws_hub_consumers",
			"Number of attached broadcast hub consumers",
		)
		UptimeSeconds = r.NewGauge(
			"gqlws_uptime_seconds",
			"Server uptime in seconds",
		)

		RuntimeCollectorInstance = NewRuntimeCollector(r, UptimeSeconds)
		runtimeCollectorStop = RuntimeCollectorInstance.StartCollector(10 * time.Second)

		defaultRegistry = r
	})

	return defaultRegistry
}

// DefaultRegistry returns the default registry, or nil before Init.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Reset clears the default metrics so Init can run again. Used by tests.
func Reset() {
	if runtimeCollectorStop != nil {
		runtimeCollectorStop()
		runtimeCollectorStop = nil
	}

	initOnce = sync.Once{}
	defaultRegistry = nil
	ActiveConnections = nil
	ActiveOperations = nil
	MessagesTotal = nil
	OperationsTotal = nil
	OperationDuration = nil
	ConnectionsClosedTotal = nil
	HubPublishesTotal = nil
	HubConsumers = nil
	UptimeSeconds = nil
	RuntimeCollectorInstance = nil
}
