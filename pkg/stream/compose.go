package stream

import "context"

// Map returns a stream of fn applied to every value of src. Terminating the
// returned stream terminates src; src ending ends the returned stream with the
// same outcome, including cancellation.
func Map[T, U any](ctx context.Context, src *Stream[T], fn func(T) U) *Stream[U] {
	return FilterMap(ctx, src, func(v T) (U, bool) {
		return fn(v), true
	})
}

// FilterMap is Map for functions that can reject values. Values for which fn
// returns false are dropped silently.
func FilterMap[T, U any](ctx context.Context, src *Stream[T], fn func(T) (U, bool)) *Stream[U] {
	out := Go(ctx, func(ctx context.Context, yield func(U) bool) error {
		for {
			v, ok := src.Next(ctx)
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				if src.cancelled() {
					return errCancelled
				}
				return src.Err()
			}
			mapped, keep := fn(v)
			if !keep {
				continue
			}
			if !yield(mapped) {
				return nil
			}
		}
	})
	out.OnTermination(func(Termination) {
		src.Terminate()
	})
	return out
}

// Of returns a stream that yields values and then finishes.
func Of[T any](values ...T) *Stream[T] {
	s := New[T](nil)
	for _, v := range values {
		s.Yield(v)
	}
	s.Finish(nil)
	return s
}
