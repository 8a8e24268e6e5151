package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/stream"
	"github.com/getmockd/gqlws/pkg/subprotocol"
)

// frame is a decoded outbound message.
type frame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (f frame) payloadMap(t *testing.T) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(f.Payload, &m))
	return m
}

// fakeSocket records every frame and close.
type fakeSocket struct {
	mu        sync.Mutex
	frames    []frame
	closed    bool
	closeCode CloseCode
}

func (s *fakeSocket) Send(_ context.Context, data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSocketClosed
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSocket) Close(code CloseCode, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.closeCode = code
	}
	return nil
}

// framesFor returns the frames sent for oid.
func (s *fakeSocket) framesFor(oid string) []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []frame
	for _, f := range s.frames {
		if f.ID == oid {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeSocket) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// waitFrames waits until oid has at least n frames and returns them.
func waitFrames(t *testing.T, s *fakeSocket, oid string, n int) []frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := s.framesFor(oid); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames for %q, got %+v", n, oid, s.framesFor(oid))
	return nil
}

func frameTypes(frames []frame) []string {
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f.Type
	}
	return types
}

// executorFuncs adapts functions to graphql.Executor.
type executorFuncs struct {
	execute   func(ctx context.Context, req *graphql.GraphQLRequest) *graphql.GraphQLResponse
	subscribe func(ctx context.Context, req *graphql.GraphQLRequest) *graphql.SubscriptionResult
}

func (e executorFuncs) Execute(ctx context.Context, req *graphql.GraphQLRequest) *graphql.GraphQLResponse {
	return e.execute(ctx, req)
}

func (e executorFuncs) Subscribe(ctx context.Context, req *graphql.GraphQLRequest) *graphql.SubscriptionResult {
	return e.subscribe(ctx, req)
}

const testSchema = `
type Query {
	hello: String!
	fail: String!
	whoami: String
}

type Subscription {
	simple: String!
	delayed: String!
	forever: Int!
	broken: String
}
`

// testResolvers backs testSchema. Streams returned by forever report their
// termination on terminated.
type testResolvers struct {
	terminated chan string
}

func newSchemaExecutor(t testing.TB) (*graphql.SchemaExecutor, *testResolvers) {
	t.Helper()
	schema, err := graphql.ParseSchema(testSchema)
	require.NoError(t, err)

	r := &testResolvers{terminated: make(chan string, 16)}
	exec := graphql.NewExecutor(schema, graphql.Resolvers{
		Fields: map[string]graphql.ResolveFunc{
			"Query.hello": func(ctx context.Context, p graphql.ResolveParams) (interface{}, error) {
				return "test", nil
			},
			"Query.fail": func(ctx context.Context, p graphql.ResolveParams) (interface{}, error) {
				return nil, errors.New("boom")
			},
			"Query.whoami": func(ctx context.Context, p graphql.ResolveParams) (interface{}, error) {
				var init struct {
					User string `json:"user"`
				}
				_ = json.Unmarshal(ConnectionPayload(ctx), &init)
				return init.User, nil
			},
		},
		Subscriptions: map[string]graphql.SubscribeFunc{
			"simple": func(ctx context.Context, p graphql.ResolveParams) (*stream.Stream[interface{}], error) {
				return stream.Of[interface{}]("value"), nil
			},
			"delayed": func(ctx context.Context, p graphql.ResolveParams) (*stream.Stream[interface{}], error) {
				return stream.Go(ctx, func(ctx context.Context, yield func(interface{}) bool) error {
					select {
					case <-time.After(250 * time.Millisecond):
						yield("late")
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				}), nil
			},
			"forever": func(ctx context.Context, p graphql.ResolveParams) (*stream.Stream[interface{}], error) {
				oid := OperationID(ctx)
				s := stream.Go(ctx, func(ctx context.Context, yield func(interface{}) bool) error {
					ticker := time.NewTicker(10 * time.Millisecond)
					defer ticker.Stop()
					for i := 0; ; i++ {
						select {
						case <-ticker.C:
							if !yield(i) {
								return nil
							}
						case <-ctx.Done():
							return nil
						}
					}
				})
				s.OnTermination(func(stream.Termination) {
					r.terminated <- oid
				})
				return s, nil
			},
			"broken": func(ctx context.Context, p graphql.ResolveParams) (*stream.Stream[interface{}], error) {
				return stream.Go(ctx, func(ctx context.Context, yield func(interface{}) bool) error {
					yield("first")
					return errors.New("source exploded")
				}), nil
			},
		},
	})
	return exec, r
}

// newTestProbe returns a Probe with one registered connection.
func newTestProbe(t *testing.T, exec graphql.Executor, build ContextBuilder) (*Probe, *Connection, *fakeSocket) {
	t.Helper()
	p := NewProbe(exec, build, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	sock := &fakeSocket{}
	conn := NewConnection(context.Background(), "conn-test", subprotocol.TransportWS, sock, json.RawMessage(`{"user":"ann"}`), nil)
	p.Connect(conn)
	return p, conn, sock
}

func waitTerminated(t *testing.T, r *testResolvers, want ...string) {
	t.Helper()
	got := make(map[string]bool)
	timeout := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case oid := <-r.terminated:
			got[oid] = true
		case <-timeout:
			t.Fatalf("terminated %v, want %v", got, want)
		}
	}
	for _, oid := range want {
		require.True(t, got[oid], "stream %q not terminated", oid)
	}
}
