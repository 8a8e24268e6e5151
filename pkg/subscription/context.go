package subscription

import (
	"context"
	"encoding/json"

	"github.com/getmockd/gqlws/pkg/graphql"
)

// ContextBuilder builds the context an operation executes with from the
// connection_init payload and the operation request. Returning an error
// fails only that operation.
type ContextBuilder func(ctx context.Context, payload json.RawMessage, req *graphql.GraphQLRequest) (context.Context, error)

type contextKey int

const (
	connectionIDKey contextKey = iota
	connectionPayloadKey
	operationIDKey
)

// WithConnectionID returns ctx carrying the connection id.
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connectionIDKey, id)
}

// ConnectionID returns the connection id stored in ctx.
func ConnectionID(ctx context.Context) string {
	id, _ := ctx.Value(connectionIDKey).(string)
	return id
}

// WithConnectionPayload returns ctx carrying the connection_init payload.
func WithConnectionPayload(ctx context.Context, payload json.RawMessage) context.Context {
	return context.WithValue(ctx, connectionPayloadKey, payload)
}

// ConnectionPayload returns the connection_init payload stored in ctx.
func ConnectionPayload(ctx context.Context) json.RawMessage {
	payload, _ := ctx.Value(connectionPayloadKey).(json.RawMessage)
	return payload
}

// WithOperationID returns ctx carrying the client operation id.
func WithOperationID(ctx context.Context, oid string) context.Context {
	return context.WithValue(ctx, operationIDKey, oid)
}

// OperationID returns the operation id stored in ctx.
func OperationID(ctx context.Context) string {
	oid, _ := ctx.Value(operationIDKey).(string)
	return oid
}

// operationContext builds the context for one operation on conn. The
// connection id, payload and operation id are always set; build may add more.
func operationContext(parent context.Context, conn *Connection, oid string, req *graphql.GraphQLRequest, build ContextBuilder) (context.Context, error) {
	ctx := WithConnectionID(parent, conn.ID())
	ctx = WithConnectionPayload(ctx, conn.Payload())
	ctx = WithOperationID(ctx, oid)
	if build == nil {
		return ctx, nil
	}
	return build(ctx, conn.Payload(), req)
}
