package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getmockd/gqlws/internal/actor"
	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/metrics"
	"github.com/getmockd/gqlws/pkg/stream"
)

// internalErrorMessage is sent when a subscription cannot be served for
// reasons the client cannot act on.
const internalErrorMessage = "internal server error"

// operation is one entry of a Drone's table. stream is nil until the
// subscribe call returned and the event source was attached.
type operation struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	stream  *stream.Stream[*graphql.GraphQLResponse]
	started time.Time
}

// Drone supervises the subscriptions of one connection. Its operation table
// is owned by its mailbox; subscribe calls and stream consumption run on
// their own goroutines and post their results back.
type Drone struct {
	conn     *Connection
	executor graphql.Executor
	build    ContextBuilder
	log      *slog.Logger
	box      *actor.Mailbox

	ops  map[string]*operation
	dead bool
}

func newDrone(conn *Connection, executor graphql.Executor, build ContextBuilder, logger *slog.Logger) *Drone {
	return &Drone{
		conn:     conn,
		executor: executor,
		build:    build,
		log:      logging.OrNop(logger),
		box:      actor.New(),
		ops:      make(map[string]*operation),
	}
}

// Start subscribes oid. An operation already running under oid is stopped
// first, without a complete message.
func (d *Drone) Start(oid string, req *graphql.GraphQLRequest) {
	d.box.Post(func() {
		d.begin(oid, req)
	})
}

// Stop stops oid without sending anything. Unknown ids are ignored.
func (d *Drone) Stop(oid string) {
	d.box.Post(func() {
		if d.teardown(oid) {
			d.log.Debug("subscription stopped", logging.KeyOperationID, oid)
			countOperation("subscription", "stopped")
		}
	})
}

// Acid stops every operation without sending anything. Later Start calls
// are ignored. Acid is idempotent.
func (d *Drone) Acid() {
	d.box.Post(d.acid)
}

// Count returns the number of operations in the table.
func (d *Drone) Count(ctx context.Context) (int, error) {
	var n int
	err := d.box.Call(ctx, func() {
		n = len(d.ops)
	})
	return n, err
}

// shutdown runs acid and stops the mailbox once the queue drains.
func (d *Drone) shutdown() {
	d.box.Post(d.acid)
	d.box.Stop()
}

func (d *Drone) acid() {
	d.dead = true
	for oid := range d.ops {
		if d.teardown(oid) {
			countOperation("subscription", "stopped")
		}
	}
}

// begin runs on the mailbox.
func (d *Drone) begin(oid string, req *graphql.GraphQLRequest) {
	if d.dead {
		return
	}
	if d.teardown(oid) {
		d.log.Debug("subscription restarted", logging.KeyOperationID, oid)
		countOperation("subscription", "stopped")
	}

	ctx, cancel := context.WithCancel(d.conn.Context())
	op := &operation{id: oid, ctx: ctx, cancel: cancel, started: time.Now()}
	d.ops[oid] = op
	if metrics.ActiveOperations != nil {
		_ = metrics.ActiveOperations.Inc()
	}

	go d.subscribe(op, req)
}

// teardown removes oid and terminates its stream. It runs on the mailbox and
// reports whether an entry was removed.
func (d *Drone) teardown(oid string) bool {
	op, ok := d.ops[oid]
	if !ok {
		return false
	}
	d.remove(op)
	if op.stream != nil {
		op.stream.Terminate()
	}
	return true
}

func (d *Drone) remove(op *operation) {
	delete(d.ops, op.id)
	op.cancel()
	if metrics.ActiveOperations != nil {
		_ = metrics.ActiveOperations.Dec()
	}
	if metrics.OperationDuration != nil {
		if vec, err := metrics.OperationDuration.WithLabels("subscription"); err == nil {
			vec.Observe(time.Since(op.started).Seconds())
		}
	}
}

// current reports whether op is still the table entry for its id.
func (d *Drone) current(op *operation) bool {
	return d.ops[op.id] == op
}

// subscribe calls the executor off the mailbox.
func (d *Drone) subscribe(op *operation, req *graphql.GraphQLRequest) {
	log := d.log.With(logging.KeyOperationID, op.id)

	ctx, err := operationContext(op.ctx, d.conn, op.id, req, d.build)
	if err != nil {
		log.Warn("context builder failed", logging.KeyError, err)
		d.post(func() { d.fail(op, []graphql.GraphQLError{{Message: err.Error()}}) })
		return
	}

	result, err := d.callSubscribe(ctx, req)
	switch {
	case err != nil:
		log.Error("subscribe failed", logging.KeyError, err)
		d.post(func() { d.fail(op, []graphql.GraphQLError{{Message: internalErrorMessage}}) })
		return
	case len(result.Errors) > 0:
		d.post(func() { d.fail(op, result.Errors) })
		return
	case result.Events == nil:
		log.Error("subscribe returned no event source")
		d.post(func() { d.fail(op, []graphql.GraphQLError{{Message: internalErrorMessage}}) })
		return
	}

	s := stream.FromChannel(op.ctx, result.Events)
	if !d.post(func() { d.attach(op, s) }) {
		s.Terminate()
	}
}

// callSubscribe turns a nil result or a panic into an error.
func (d *Drone) callSubscribe(ctx context.Context, req *graphql.GraphQLRequest) (result *graphql.SubscriptionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	result = d.executor.Subscribe(ctx, req)
	if result == nil {
		return nil, errors.New("executor returned no subscription result")
	}
	return result, nil
}

func (d *Drone) post(fn func()) bool {
	return d.box.Post(fn)
}

// attach runs on the mailbox. A stream whose operation was stopped or
// replaced in the meantime is terminated without sending anything.
func (d *Drone) attach(op *operation, s *stream.Stream[*graphql.GraphQLResponse]) {
	if !d.current(op) {
		s.Terminate()
		return
	}
	op.stream = s
	s.OnTermination(func(stream.Termination) {
		op.cancel()
	})
	go d.consume(op, s)
}

// consume forwards stream values to the mailbox in order.
func (d *Drone) consume(op *operation, s *stream.Stream[*graphql.GraphQLResponse]) {
	for {
		resp, ok := s.Next(context.Background())
		if !ok {
			break
		}
		if !d.post(func() { d.emit(op, resp) }) {
			s.Terminate()
			return
		}
	}
	err := s.Err()
	d.post(func() { d.finish(op, err) })
}

// emit runs on the mailbox.
func (d *Drone) emit(op *operation, resp *graphql.GraphQLResponse) {
	if !d.current(op) || resp == nil {
		return
	}
	d.conn.Next(op.id, resp)
}

// finish runs on the mailbox once the stream has ended.
func (d *Drone) finish(op *operation, err error) {
	if !d.current(op) {
		return
	}
	d.remove(op)

	if err != nil {
		d.log.Warn("subscription source failed", logging.KeyOperationID, op.id, logging.KeyError, err)
		d.conn.Next(op.id, graphql.ErrorResponse(err.Error()))
		countOperation("subscription", "error")
	} else {
		countOperation("subscription", "complete")
	}
	d.conn.Complete(op.id)
}

// fail runs on the mailbox when the subscription could not be started.
func (d *Drone) fail(op *operation, errs []graphql.GraphQLError) {
	if !d.current(op) {
		return
	}
	d.remove(op)
	d.conn.Next(op.id, &graphql.GraphQLResponse{Errors: errs})
	d.conn.Complete(op.id)
	countOperation("subscription", "error")
}

func countOperation(kind, outcome string) {
	if metrics.OperationsTotal == nil {
		return
	}
	if vec, err := metrics.OperationsTotal.WithLabels(kind, outcome); err == nil {
		_ = vec.Inc()
	}
}
