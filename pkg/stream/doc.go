// Package stream provides Stream, a cancellable, push-driven wrapper around a
// producer of values.
//
// A Stream buffers produced values without bound until they are consumed with
// Next. Producers never block on slow consumers; the tradeoff is memory growth
// when a consumer falls behind.
//
// Every stream ends exactly once, through one of three paths:
//   - the producer finishes (ReasonFinished)
//   - the producer fails (ReasonFailed)
//   - Terminate is called (ReasonCancelled)
//
// Hooks registered with OnTermination run exactly once, for whichever path
// happens first. They are the place to release whatever the producer holds,
// such as a broadcast hub subscription:
//
//	s := stream.FromChannel(ctx, events)
//	s.OnTermination(func(t stream.Termination) {
//	    unsubscribe()
//	})
//
//	for {
//	    v, ok := s.Next(ctx)
//	    if !ok {
//	        break
//	    }
//	    handle(v)
//	}
//
// Streams compose through functions rather than types: Map and FilterMap derive
// a new stream from an existing one, and terminating the derived stream
// terminates its source.
package stream
