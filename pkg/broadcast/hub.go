package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/getmockd/gqlws/internal/actor"
	"github.com/getmockd/gqlws/internal/id"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/metrics"
	"github.com/getmockd/gqlws/pkg/stream"
)

// ErrHubClosed is returned by every method once Shutdown has run.
var ErrHubClosed = errors.New("broadcast hub is closed")

// consumerIDs is shared by all hubs so consumer ids are unique per process.
var consumerIDs id.Sequence

// Option configures a Hub.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Hub fans values of type T out to the consumers of a topic. All topic state
// is owned by one mailbox goroutine.
type Hub[T any] struct {
	box    *actor.Mailbox
	log    *slog.Logger
	topics map[string]map[uint64]*stream.Stream[T]
	closed bool
}

// New creates a hub.
func New[T any](opts ...Option) *Hub[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	return &Hub[T]{
		box:    actor.New(),
		log:    logging.OrNop(o.logger),
		topics: make(map[string]map[uint64]*stream.Stream[T]),
	}
}

// Subscribe attaches a new consumer to topic, creating the topic if needed.
// The consumer is removed when the returned stream is terminated.
func (h *Hub[T]) Subscribe(ctx context.Context, topic string) (*stream.Stream[T], error) {
	var (
		s   *stream.Stream[T]
		err error
	)
	callErr := h.call(ctx, func() {
		if h.closed {
			err = ErrHubClosed
			return
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			return
		}
		s = h.attach(topic)
	})
	if callErr != nil {
		// The closure may still run after ctx gave up on it; drop its consumer.
		h.box.Post(func() {
			if s != nil {
				s.Terminate()
			}
		})
		return nil, callErr
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// attach runs on the mailbox.
func (h *Hub[T]) attach(topic string) *stream.Stream[T] {
	cid := consumerIDs.Next()
	s := stream.New[T](nil)

	consumers, ok := h.topics[topic]
	if !ok {
		consumers = make(map[uint64]*stream.Stream[T])
		h.topics[topic] = consumers
	}
	consumers[cid] = s
	if metrics.HubConsumers != nil {
		_ = metrics.HubConsumers.Inc()
	}
	h.log.Debug("consumer attached", logging.KeyTopic, topic, "consumerId", cid)

	s.OnTermination(func(stream.Termination) {
		h.box.Post(func() {
			h.detach(topic, cid)
		})
	})
	return s
}

// detach runs on the mailbox.
func (h *Hub[T]) detach(topic string, cid uint64) {
	consumers, ok := h.topics[topic]
	if !ok {
		return
	}
	if _, ok := consumers[cid]; !ok {
		return
	}
	delete(consumers, cid)
	if len(consumers) == 0 {
		delete(h.topics, topic)
	}
	if metrics.HubConsumers != nil {
		_ = metrics.HubConsumers.Dec()
	}
	h.log.Debug("consumer detached", logging.KeyTopic, topic, "consumerId", cid)
}

// Publish delivers v to every consumer currently attached to topic and
// returns how many received it. Publishing to a topic without consumers is a
// no-op.
func (h *Hub[T]) Publish(ctx context.Context, topic string, v T) (int, error) {
	var (
		delivered int
		err       error
	)
	callErr := h.call(ctx, func() {
		if h.closed {
			err = ErrHubClosed
			return
		}
		for _, s := range h.topics[topic] {
			if s.Yield(v) {
				delivered++
			}
		}
	})
	if callErr != nil {
		return 0, callErr
	}
	if err != nil {
		return 0, err
	}
	if metrics.HubPublishesTotal != nil {
		_ = metrics.HubPublishesTotal.Inc()
	}
	return delivered, nil
}

// Close ends the stream of every consumer of topic and removes the topic.
// Values published to the topic afterwards reach only new subscribers.
func (h *Hub[T]) Close(ctx context.Context, topic string) error {
	var err error
	callErr := h.call(ctx, func() {
		if h.closed {
			err = ErrHubClosed
			return
		}
		h.closeTopic(topic)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// closeTopic runs on the mailbox. The termination hooks post detach calls
// which find the topic gone and do nothing.
func (h *Hub[T]) closeTopic(topic string) {
	consumers, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(h.topics, topic)
	for _, s := range consumers {
		s.Finish(nil)
	}
	if metrics.HubConsumers != nil {
		_ = metrics.HubConsumers.Add(-float64(len(consumers)))
	}
	h.log.Debug("topic closed", logging.KeyTopic, topic, "consumers", len(consumers))
}

// Topics returns the topics that have at least one consumer, sorted.
func (h *Hub[T]) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	err := h.call(ctx, func() {
		topics = make([]string, 0, len(h.topics))
		for topic := range h.topics {
			topics = append(topics, topic)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(topics)
	return topics, nil
}

// Consumers returns the number of consumers attached to topic.
func (h *Hub[T]) Consumers(ctx context.Context, topic string) (int, error) {
	var n int
	err := h.call(ctx, func() {
		n = len(h.topics[topic])
	})
	return n, err
}

// Shutdown closes every topic and stops the hub. Further calls return
// ErrHubClosed. Shutdown is idempotent.
func (h *Hub[T]) Shutdown(ctx context.Context) error {
	err := h.call(ctx, func() {
		if h.closed {
			return
		}
		h.closed = true
		topics := make([]string, 0, len(h.topics))
		for topic := range h.topics {
			topics = append(topics, topic)
		}
		for _, topic := range topics {
			h.closeTopic(topic)
		}
	})
	if errors.Is(err, ErrHubClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	h.box.Stop()
	return nil
}

// call runs fn on the mailbox, mapping a stopped mailbox to ErrHubClosed.
func (h *Hub[T]) call(ctx context.Context, fn func()) error {
	err := h.box.Call(ctx, fn)
	if errors.Is(err, actor.ErrStopped) {
		return ErrHubClosed
	}
	return err
}

// SubscribeAs subscribes to a topic of a heterogeneous hub and keeps only the
// values of type U. Values of other types are dropped.
func SubscribeAs[U any](ctx context.Context, h *Hub[any], topic string) (*stream.Stream[U], error) {
	src, err := h.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	return stream.FilterMap(context.WithoutCancel(ctx), src, func(v any) (U, bool) {
		u, ok := v.(U)
		return u, ok
	}), nil
}
