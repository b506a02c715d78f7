package gdexposure

import (
	"iter"
	"slices"
)

// IterMap lazily applies fn to each element of seq.
func IterMap[E, F any](seq iter.Seq[E], fn func(E) F) iter.Seq[F] {
	return func(yield func(F) bool) {
		for v := range seq {
			e := fn(v)
			if !yield(e) {
				break
			}
		}
	}
}

// Map applies fn to each element of s and collects the results.
func Map[E, F any](s []E, fn func(E) F) []F {
	return slices.Collect(IterMap(slices.Values(s), fn))
}

// Filter collects the elements of s for which keep returns true,
// preserving order.
func Filter[E any](s []E, keep func(E) bool) []E {
	out := make([]E, 0, len(s))
	for _, v := range s {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
