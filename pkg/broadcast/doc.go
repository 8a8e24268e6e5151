// Package broadcast is an in-memory, topic-keyed publish/subscribe hub.
//
// Each subscriber receives a *stream.Stream of the values published to its
// topic after it subscribed. Terminating that stream unsubscribes it. Closing
// a topic ends every subscriber's stream and forgets the topic. Delivery is
// best effort to the consumers attached at publish time; nothing is persisted.
//
//	hub := broadcast.New[Message]()
//	s, _ := hub.Subscribe(ctx, "general")
//	hub.Publish(ctx, "general", Message{Text: "hi"})
//	msg, ok := s.Next(ctx)
package broadcast
