package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getmockd/gqlws/internal/actor"
	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/metrics"
)

// Probe is the server-wide connection registry. It routes operations to the
// Drone of their connection, creating it on the first subscription, and runs
// queries and mutations itself. Messages for connections it does not know
// are dropped.
type Probe struct {
	executor graphql.Executor
	build    ContextBuilder
	log      *slog.Logger
	box      *actor.Mailbox
	inflight sync.WaitGroup

	conns  map[string]*Connection
	drones map[string]*Drone
}

// NewProbe creates a Probe. build may be nil.
func NewProbe(executor graphql.Executor, build ContextBuilder, logger *slog.Logger) *Probe {
	return &Probe{
		executor: executor,
		build:    build,
		log:      logging.OrNop(logger),
		box:      actor.New(),
		conns:    make(map[string]*Connection),
		drones:   make(map[string]*Drone),
	}
}

// Connect registers conn.
func (p *Probe) Connect(conn *Connection) {
	p.box.Post(func() {
		p.conns[conn.ID()] = conn
		if metrics.ActiveConnections != nil {
			if vec, err := metrics.ActiveConnections.WithLabels(conn.Protocol().Name()); err == nil {
				vec.Inc()
			}
		}
		p.log.Debug("connection registered", logging.KeyConnectionID, conn.ID())
	})
}

// Disconnect stops every operation of the connection without sending
// anything and forgets it. It is idempotent.
func (p *Probe) Disconnect(connID string) {
	p.box.Post(func() {
		p.disconnect(connID)
	})
}

func (p *Probe) disconnect(connID string) {
	if d, ok := p.drones[connID]; ok {
		delete(p.drones, connID)
		d.shutdown()
	}
	conn, ok := p.conns[connID]
	if !ok {
		return
	}
	delete(p.conns, connID)
	conn.cancel()
	if metrics.ActiveConnections != nil {
		if vec, err := metrics.ActiveConnections.WithLabels(conn.Protocol().Name()); err == nil {
			vec.Dec()
		}
	}
	p.log.Debug("connection removed", logging.KeyConnectionID, connID)
}

// Start hands a subscription to the connection's Drone.
func (p *Probe) Start(connID, oid string, req *graphql.GraphQLRequest) {
	p.box.Post(func() {
		conn, ok := p.conns[connID]
		if !ok {
			p.log.Debug("dropping start for unknown connection", logging.KeyConnectionID, connID, logging.KeyOperationID, oid)
			return
		}
		d, ok := p.drones[connID]
		if !ok {
			d = newDrone(conn, p.executor, p.build, p.log.With(logging.KeyConnectionID, connID))
			p.drones[connID] = d
		}
		d.Start(oid, req)
	})
}

// Stop stops a subscription. Connections that never subscribed have no
// Drone, so the stop is a no-op.
func (p *Probe) Stop(connID, oid string) {
	p.box.Post(func() {
		if d, ok := p.drones[connID]; ok {
			d.Stop(oid)
		}
	})
}

// Once executes a query or mutation and answers with exactly one next and
// one complete message.
func (p *Probe) Once(connID, oid string, req *graphql.GraphQLRequest) {
	p.box.Post(func() {
		conn, ok := p.conns[connID]
		if !ok {
			p.log.Debug("dropping operation for unknown connection", logging.KeyConnectionID, connID, logging.KeyOperationID, oid)
			return
		}
		p.inflight.Add(1)
		go p.once(conn, oid, req)
	})
}

func (p *Probe) once(conn *Connection, oid string, req *graphql.GraphQLRequest) {
	defer p.inflight.Done()
	started := time.Now()

	resp := p.execute(conn, oid, req)
	conn.Next(oid, resp)
	conn.Complete(oid)

	outcome := "complete"
	if len(resp.Errors) > 0 {
		outcome = "error"
	}
	countOperation("once", outcome)
	if metrics.OperationDuration != nil {
		if vec, err := metrics.OperationDuration.WithLabels("once"); err == nil {
			vec.Observe(time.Since(started).Seconds())
		}
	}
}

// execute never fails: builder errors, panics and missing results all become
// GraphQL errors.
func (p *Probe) execute(conn *Connection, oid string, req *graphql.GraphQLRequest) (resp *graphql.GraphQLResponse) {
	log := p.log.With(logging.KeyConnectionID, conn.ID(), logging.KeyOperationID, oid)
	defer func() {
		if r := recover(); r != nil {
			log.Error("executor panicked", logging.KeyError, fmt.Sprint(r))
			resp = graphql.ErrorResponse(internalErrorMessage)
		}
	}()

	ctx, err := operationContext(conn.Context(), conn, oid, req, p.build)
	if err != nil {
		log.Warn("context builder failed", logging.KeyError, err)
		return graphql.ErrorResponse(err.Error())
	}

	resp = p.executor.Execute(ctx, req)
	if resp == nil {
		log.Error("executor returned no response")
		return graphql.ErrorResponse(internalErrorMessage)
	}
	return resp
}

// ConnectionCount returns the number of registered connections.
func (p *Probe) ConnectionCount(ctx context.Context) (int, error) {
	var n int
	err := p.box.Call(ctx, func() {
		n = len(p.conns)
	})
	return n, err
}

// OperationCount returns the number of running subscriptions across all
// connections.
func (p *Probe) OperationCount(ctx context.Context) (int, error) {
	var drones []*Drone
	err := p.box.Call(ctx, func() {
		drones = make([]*Drone, 0, len(p.drones))
		for _, d := range p.drones {
			drones = append(drones, d)
		}
	})
	if err != nil {
		return 0, err
	}

	total := 0
	for _, d := range drones {
		n, err := d.Count(ctx)
		if err != nil {
			// stopped between the snapshot and now
			continue
		}
		total += n
	}
	return total, nil
}

// Shutdown disconnects every connection, stops the Probe and waits for
// running queries and mutations to return or ctx to end.
func (p *Probe) Shutdown(ctx context.Context) error {
	err := p.box.Call(ctx, func() {
		for connID := range p.conns {
			p.disconnect(connID)
		}
	})
	if err != nil && !errors.Is(err, actor.ErrStopped) {
		return err
	}
	p.box.Stop()

	done := make(chan struct{})
	go func() {
		<-p.box.Done()
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
