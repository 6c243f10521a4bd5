package epoch

import "iter"

// Seq is a lazy epoch stream. A stream yields at most one non-nil error,
// as its final element.
type Seq[T any] = iter.Seq2[T, error]

// FromSlice streams a materialised slice. Restarting the stream replays it.
func FromSlice[T any](items []T) Seq[T] {
	return func(yield func(T, error) bool) {
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
	}
}

// Collect drains a stream into a slice, stopping at the first error.
func Collect[T any](seq Seq[T]) ([]T, error) {
	var out []T
	for it, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, it)
	}
	return out, nil
}

// Fail returns a stream that yields only err.
func Fail[T any](err error) Seq[T] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}
