// Package subscription serves GraphQL operations over WebSocket using either
// the graphql-transport-ws or the legacy graphql-ws sub-protocol.
//
// A Handler upgrades HTTP requests and runs one read loop per socket. Decoded
// messages are routed to a server-wide Probe, which owns the connection table,
// runs queries and mutations directly and hands subscriptions to a per
// connection Drone. The Drone owns the operation table of its connection and
// turns subscription events into next, error and complete messages.
//
// Probe and Drone state is only touched from their own mailbox goroutine
// (see internal/actor). GraphQL execution runs on separate goroutines.
//
//	h := subscription.NewHandler(executor,
//	    subscription.WithKeepAlive(12*time.Second),
//	    subscription.WithLogger(logger),
//	)
//	mux.Handle("/graphql", h)
//	defer h.Shutdown(ctx)
package subscription
