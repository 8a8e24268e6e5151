package subscription

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/subprotocol"
)

type tenantKey struct{}

func TestOperationContext(t *testing.T) {
	conn := NewConnection(context.Background(), "conn-ctx", subprotocol.TransportWS, &fakeSocket{}, json.RawMessage(`{"tenant":"acme"}`), nil)
	defer conn.cancel()

	build := func(ctx context.Context, payload json.RawMessage, req *graphql.GraphQLRequest) (context.Context, error) {
		var init struct {
			Tenant string `json:"tenant"`
		}
		if err := json.Unmarshal(payload, &init); err != nil {
			return nil, err
		}
		return context.WithValue(ctx, tenantKey{}, init.Tenant), nil
	}

	ctx, err := operationContext(conn.Context(), conn, "op-1", &graphql.GraphQLRequest{Query: "{ a }"}, build)
	require.NoError(t, err)

	assert.Equal(t, "conn-ctx", ConnectionID(ctx))
	assert.Equal(t, "op-1", OperationID(ctx))
	assert.JSONEq(t, `{"tenant":"acme"}`, string(ConnectionPayload(ctx)))
	assert.Equal(t, "acme", ctx.Value(tenantKey{}))
}

func TestOperationContext_NoBuilder(t *testing.T) {
	conn := NewConnection(context.Background(), "c", subprotocol.LegacyWS, &fakeSocket{}, nil, nil)
	defer conn.cancel()

	ctx, err := operationContext(conn.Context(), conn, "1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "c", ConnectionID(ctx))
	assert.Nil(t, ConnectionPayload(ctx))
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ConnectionID(ctx))
	assert.Empty(t, OperationID(ctx))
	assert.Nil(t, ConnectionPayload(ctx))
}

func TestConnection_DropsFramesAfterCancel(t *testing.T) {
	sock := &fakeSocket{}
	conn := NewConnection(context.Background(), "c", subprotocol.TransportWS, sock, nil, nil)

	conn.Complete("1")
	conn.cancel()
	conn.Complete("2")
	conn.KeepAlive()

	assert.Len(t, sock.framesFor("1"), 1)
	assert.Empty(t, sock.framesFor("2"))
	assert.Equal(t, 1, sock.count())
}

func TestTruncateReason(t *testing.T) {
	short := "Unauthorized"
	assert.Equal(t, short, truncateReason(short))

	long := ""
	for len(long) < 200 {
		long += "é"
	}
	got := truncateReason(long)
	assert.LessOrEqual(t, len(got), maxCloseReason)
	assert.True(t, json.Valid([]byte(`"`+got+`"`)))
}
