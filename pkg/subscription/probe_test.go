package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/subprotocol"
)

func TestProbe_SimpleSubscription(t *testing.T) {
	exec, _ := newSchemaExecutor(t)
	p, _, sock := newTestProbe(t, exec, nil)

	p.Start("conn-test", "1", &graphql.GraphQLRequest{Query: "subscription { simple }"})

	frames := waitFrames(t, sock, "1", 2)
	require.Equal(t, []string{"next", "complete"}, frameTypes(frames))
	assert.JSONEq(t, `{"data":{"simple":"value"}}`, string(frames[0].Payload))

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sock.framesFor("1"), 2, "exactly one complete")
}

func TestProbe_StopBeforeValueSendsNothing(t *testing.T) {
	exec, _ := newSchemaExecutor(t)
	p, _, sock := newTestProbe(t, exec, nil)

	p.Start("conn-test", "2", &graphql.GraphQLRequest{Query: "subscription { delayed }"})
	p.Stop("conn-test", "2")

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, sock.framesFor("2"))
}

func TestProbe_OnceQuery(t *testing.T) {
	exec, _ := newSchemaExecutor(t)
	p, _, sock := newTestProbe(t, exec, nil)

	p.Once("conn-test", "3", &graphql.GraphQLRequest{Query: "query { hello }"})

	frames := waitFrames(t, sock, "3", 2)
	require.Equal(t, []string{"next", "complete"}, frameTypes(frames))
	data := frames[0].payloadMap(t)["data"].(map[string]interface{})
	assert.Equal(t, "test", data["hello"])
}

func TestProbe_OnceExecutionErrorOmitsData(t *testing.T) {
	exec, _ := newSchemaExecutor(t)
	p, _, sock := newTestProbe(t, exec, nil)

	p.Once("conn-test", "4", &graphql.GraphQLRequest{Query: "{ fail }"})

	frames := waitFrames(t, sock, "4", 2)
	require.Equal(t, []string{"next", "complete"}, frameTypes(frames))
	payload := frames[0].payloadMap(t)
	assert.NotContains(t, payload, "data")
	require.Contains(t, payload, "errors")
	errs := payload["errors"].([]interface{})
	require.Len(t, errs, 1)
	assert.Equal(t, "boom", errs[0].(map[string]interface{})["message"])
}

func TestProbe_OnceSeesConnectionPayload(t *testing.T) {
	exec, _ := newSchemaExecutor(t)
	p, _, sock := newTestProbe(t, exec, nil)

	p.Once("conn-test", "w", &graphql.GraphQLRequest{Query: "{ whoami }"})

	frames := waitFrames(t, sock, "w", 2)
	assert.JSONEq(t, `{"data":{"whoami":"ann"}}`, string(frames[0].Payload))
}

func TestProbe_OnceContextBuilderFailure(t *testing.T) {
	exec, _ := newSchemaExecutor(t)
	build := func(ctx context.Context, payload json.RawMessage, req *graphql.GraphQLRequest) (context.Context, error) {
		return nil, errors.New("not authorised")
	}
	p, _, sock := newTestProbe(t, exec, build)

	p.Once("conn-test", "5", &graphql.GraphQLRequest{Query: "{ hello }"})

	frames := waitFrames(t, sock, "5", 2)
	require.Equal(t, []string{"next", "complete"}, frameTypes(frames))
	assert.JSONEq(t, `{"errors":[{"message":"not authorised"}]}`, string(frames[0].Payload))
}

func TestProbe_OnceExecutorPanic(t *testing.T) {
	exec := executorFuncs{
		execute: func(ctx context.Context, req *graphql.GraphQLRequest) *graphql.GraphQLResponse {
			panic("kaboom")
		},
	}
	p, _, sock := newTestProbe(t, exec, nil)

	p.Once("conn-test", "6", &graphql.GraphQLRequest{Query: "{ hello }"})

	frames := waitFrames(t, sock, "6", 2)
	require.Equal(t, []string{"next", "complete"}, frameTypes(frames))
	assert.JSONEq(t, `{"errors":[{"message":"internal server error"}]}`, string(frames[0].Payload))
}

func TestProbe_DisconnectTerminatesSubscriptionsSilently(t *testing.T) {
	exec, r := newSchemaExecutor(t)
	p, conn, sock := newTestProbe(t, exec, nil)

	p.Start("conn-test", "a", &graphql.GraphQLRequest{Query: "subscription { forever }"})
	p.Start("conn-test", "b", &graphql.GraphQLRequest{Query: "subscription { forever }"})
	waitFrames(t, sock, "a", 1)
	waitFrames(t, sock, "b", 1)

	p.Disconnect("conn-test")
	waitTerminated(t, r, "a", "b")

	assert.Error(t, conn.Context().Err(), "connection context cancelled")
	before := sock.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, sock.count(), "no frames after disconnect")
	for _, f := range append(sock.framesFor("a"), sock.framesFor("b")...) {
		assert.Equal(t, "next", f.Type)
	}

	n, err := p.ConnectionCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProbe_DisconnectIsIdempotent(t *testing.T) {
	exec, _ := newSchemaExecutor(t)
	p, _, _ := newTestProbe(t, exec, nil)

	p.Disconnect("conn-test")
	p.Disconnect("conn-test")
	p.Disconnect("never-connected")

	n, err := p.ConnectionCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProbe_UnknownConnectionIsDropped(t *testing.T) {
	called := make(chan struct{}, 2)
	exec := executorFuncs{
		execute: func(ctx context.Context, req *graphql.GraphQLRequest) *graphql.GraphQLResponse {
			called <- struct{}{}
			return &graphql.GraphQLResponse{}
		},
		subscribe: func(ctx context.Context, req *graphql.GraphQLRequest) *graphql.SubscriptionResult {
			called <- struct{}{}
			return &graphql.SubscriptionResult{}
		},
	}
	p, _, sock := newTestProbe(t, exec, nil)

	p.Once("ghost", "1", &graphql.GraphQLRequest{Query: "{ hello }"})
	p.Start("ghost", "2", &graphql.GraphQLRequest{Query: "subscription { simple }"})
	p.Stop("ghost", "2")
	p.Stop("conn-test", "never-started")

	_, err := p.ConnectionCount(context.Background())
	require.NoError(t, err)
	assert.Empty(t, called)
	assert.Equal(t, 0, sock.count())
}

func TestProbe_Counts(t *testing.T) {
	exec, _ := newSchemaExecutor(t)
	p, _, sock := newTestProbe(t, exec, nil)

	other := &fakeSocket{}
	p.Connect(NewConnection(context.Background(), "conn-other", subprotocol.LegacyWS, other, nil, nil))

	p.Start("conn-test", "a", &graphql.GraphQLRequest{Query: "subscription { forever }"})
	p.Start("conn-other", "b", &graphql.GraphQLRequest{Query: "subscription { forever }"})
	waitFrames(t, sock, "a", 1)
	waitFrames(t, other, "b", 1)

	ctx := context.Background()
	conns, err := p.ConnectionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, conns)

	ops, err := p.OperationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ops)

	// legacy connections get data frames
	assert.Equal(t, "data", other.framesFor("b")[0].Type)

	p.Stop("conn-test", "a")
	assert.Eventually(t, func() bool {
		n, err := p.OperationCount(ctx)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestProbe_Shutdown(t *testing.T) {
	exec, r := newSchemaExecutor(t)
	p := NewProbe(exec, nil, nil)
	sock := &fakeSocket{}
	p.Connect(NewConnection(context.Background(), "c", subprotocol.TransportWS, sock, nil, nil))
	p.Start("c", "x", &graphql.GraphQLRequest{Query: "subscription { forever }"})
	waitFrames(t, sock, "x", 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	require.NoError(t, p.Shutdown(ctx))
	waitTerminated(t, r, "x")

	_, err := p.ConnectionCount(ctx)
	assert.Error(t, err)
}
