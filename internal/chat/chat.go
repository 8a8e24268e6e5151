// Package chat is the demo application served by "gqlws serve": a small chat
// schema whose messageAdded subscription is fed by a broadcast hub.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/getmockd/gqlws/internal/auth"
	"github.com/getmockd/gqlws/internal/id"
	"github.com/getmockd/gqlws/pkg/broadcast"
	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/stream"
	"github.com/getmockd/gqlws/pkg/subscription"
)

// Schema is the SDL of the chat service.
const Schema = `
type Query {
	hello: String!
	channels: [Channel!]!
}

type Mutation {
	postMessage(channel: String!, text: String!, author: String): Message!
}

type Subscription {
	messageAdded(channel: String!, filter: String): Message!
	tick(count: Int = 10, interval: Int = 1000): Int!
}

type Channel {
	name: String!
	messages: Int!
	listeners: Int!
}

type Message {
	id: ID!
	channel: String!
	author: String!
	text: String!
	sentAt: String!
}
`

// Limits on tick arguments.
const (
	MaxTickCount    = 10000
	MinTickInterval = 10 * time.Millisecond
)

// ErrEmptyMessage is returned by postMessage for blank text.
var ErrEmptyMessage = errors.New("message text must not be empty")

// Message is a chat message.
type Message struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Author  string `json:"author"`
	Text    string `json:"text"`
	SentAt  string `json:"sentAt"`
}

// Channel summarises a channel.
type Channel struct {
	Name      string `json:"name"`
	Messages  int    `json:"messages"`
	Listeners int    `json:"listeners"`
}

// Service implements the chat resolvers.
type Service struct {
	hub *broadcast.Hub[Message]
	log *slog.Logger
	ids id.Sequence
	now func() time.Time

	filters *filterCache

	mu     sync.Mutex
	counts map[string]int
}

// New creates a Service publishing on hub.
func New(hub *broadcast.Hub[Message], logger *slog.Logger) *Service {
	return &Service{
		hub:     hub,
		log:     logging.OrNop(logger),
		now:     time.Now,
		filters: newFilterCache(),
		counts:  make(map[string]int),
	}
}

// NewExecutor returns an executor for Schema backed by s.
func (s *Service) NewExecutor() (*graphql.SchemaExecutor, error) {
	schema, err := graphql.ParseSchema(Schema)
	if err != nil {
		return nil, fmt.Errorf("chat schema: %w", err)
	}
	return graphql.NewExecutor(schema, s.Resolvers()), nil
}

// Resolvers returns the root field resolvers.
func (s *Service) Resolvers() graphql.Resolvers {
	return graphql.Resolvers{
		Fields: map[string]graphql.ResolveFunc{
			"Query.hello":          s.hello,
			"Query.channels":       s.channels,
			"Mutation.postMessage": s.postMessage,
		},
		Subscriptions: map[string]graphql.SubscribeFunc{
			"messageAdded": s.messageAdded,
			"tick":         s.tick,
		},
	}
}

func (s *Service) hello(ctx context.Context, _ graphql.ResolveParams) (interface{}, error) {
	if user := userFromContext(ctx); user != "" {
		return "Hello, " + user + "!", nil
	}
	return "Hello, world!", nil
}

func (s *Service) channels(ctx context.Context, _ graphql.ResolveParams) (interface{}, error) {
	topics, err := s.hub.Topics(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	names := make([]string, 0, len(s.counts)+len(topics))
	for name := range s.counts {
		names = append(names, name)
	}
	counts := make(map[string]int, len(s.counts))
	for name, n := range s.counts {
		counts[name] = n
	}
	s.mu.Unlock()

	for _, topic := range topics {
		if _, ok := counts[topic]; !ok {
			names = append(names, topic)
		}
	}
	slices.Sort(names)

	out := make([]Channel, 0, len(names))
	for _, name := range names {
		listeners, err := s.hub.Consumers(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, Channel{Name: name, Messages: counts[name], Listeners: listeners})
	}
	return out, nil
}

func (s *Service) postMessage(ctx context.Context, p graphql.ResolveParams) (interface{}, error) {
	channel, _ := p.Args["channel"].(string)
	text, _ := p.Args["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	author, _ := p.Args["author"].(string)
	if author == "" {
		author = userFromContext(ctx)
	}
	if author == "" {
		author = "anonymous"
	}

	msg := Message{
		ID:      strconv.FormatUint(s.ids.Next(), 10),
		Channel: channel,
		Author:  author,
		Text:    text,
		SentAt:  s.now().UTC().Format(time.RFC3339Nano),
	}

	s.mu.Lock()
	s.counts[channel]++
	s.mu.Unlock()

	delivered, err := s.hub.Publish(ctx, channel, msg)
	if err != nil {
		return nil, err
	}
	s.log.Debug("message posted", logging.KeyTopic, channel, "id", msg.ID, "delivered", delivered)
	return msg, nil
}

// messageAdded streams the messages posted to a channel. The optional
// filter is an expression over id, channel, author, text and sentAt, for
// example `author != "bot" && text contains "deploy"`.
func (s *Service) messageAdded(ctx context.Context, p graphql.ResolveParams) (*stream.Stream[interface{}], error) {
	channel, _ := p.Args["channel"].(string)
	source, _ := p.Args["filter"].(string)

	var program *vm.Program
	if source != "" {
		var err error
		if program, err = s.filters.compile(source); err != nil {
			return nil, err
		}
	}

	messages, err := s.hub.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	if program == nil {
		return stream.Map(context.WithoutCancel(ctx), messages, func(m Message) interface{} {
			return m
		}), nil
	}

	log := s.log.With(logging.KeyTopic, channel)
	return stream.FilterMap(context.WithoutCancel(ctx), messages, func(m Message) (interface{}, bool) {
		ok, err := match(program, m)
		if err != nil {
			log.Debug("filter failed", "id", m.ID, logging.KeyError, err)
			return nil, false
		}
		return m, ok
	}), nil
}

func (s *Service) tick(ctx context.Context, p graphql.ResolveParams) (*stream.Stream[interface{}], error) {
	count := argInt(p.Args, "count")
	interval := time.Duration(argInt(p.Args, "interval")) * time.Millisecond
	if count < 0 || count > MaxTickCount {
		return nil, fmt.Errorf("count must be between 0 and %d", MaxTickCount)
	}
	if interval < MinTickInterval {
		return nil, fmt.Errorf("interval must be at least %dms", MinTickInterval.Milliseconds())
	}

	return stream.Go(ctx, func(ctx context.Context, yield func(interface{}) bool) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := int64(1); i <= count; i++ {
			select {
			case <-ticker.C:
				if !yield(i) {
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	}), nil
}

func argInt(args map[string]interface{}, name string) int64 {
	switch v := args[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// userFromContext prefers a verified token over the connection_init
// payload.
func userFromContext(ctx context.Context) string {
	if user := auth.User(ctx); user != "" {
		return user
	}
	return userFromPayload(subscription.ConnectionPayload(ctx))
}

// userFromPayload reads "user" or "name" from a connection_init payload.
func userFromPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var init struct {
		User string `json:"user"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &init); err != nil {
		return ""
	}
	if init.User != "" {
		return init.User
	}
	return init.Name
}
