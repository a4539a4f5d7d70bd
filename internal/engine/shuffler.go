package engine

import "math/rand/v2"

// Ordered is a question in display position carrying its canonical index.
type Ordered[T any] struct {
	Question      T
	OriginalIndex int
}

// Shuffle returns questions in display order. When enabled is false the order
// is canonical. Otherwise it is a uniform permutation drawn from rng (or the
// global source when rng is nil). The input slice is not modified.
func Shuffle[T any](questions []T, enabled bool, rng *rand.Rand) []Ordered[T] {
	out := make([]Ordered[T], len(questions))
	for i, q := range questions {
		out[i] = Ordered[T]{Question: q, OriginalIndex: i}
	}
	if !enabled {
		return out
	}
	swap := func(i, j int) { out[i], out[j] = out[j], out[i] }
	if rng != nil {
		rng.Shuffle(len(out), swap)
	} else {
		rand.Shuffle(len(out), swap)
	}
	return out
}

// Arrange rebuilds a display order from a stored list of canonical indices.
// ok is false when order is not a permutation of the questions.
func Arrange[T any](questions []T, order []int) (out []Ordered[T], ok bool) {
	if len(order) != len(questions) {
		return nil, false
	}
	seen := make([]bool, len(questions))
	out = make([]Ordered[T], len(order))
	for pos, idx := range order {
		if idx < 0 || idx >= len(questions) || seen[idx] {
			return nil, false
		}
		seen[idx] = true
		out[pos] = Ordered[T]{Question: questions[idx], OriginalIndex: idx}
	}
	return out, true
}

// OrderOf returns the canonical index at each display position.
func OrderOf[T any](ordered []Ordered[T]) []int {
	order := make([]int, len(ordered))
	for i, o := range ordered {
		order[i] = o.OriginalIndex
	}
	return order
}

// Canonicalize maps answers given in display order back to canonical order.
func Canonicalize[T any, A any](ordered []Ordered[T], displayAnswers []A) []A {
	out := make([]A, len(ordered))
	for pos, o := range ordered {
		if pos < len(displayAnswers) {
			out[o.OriginalIndex] = displayAnswers[pos]
		}
	}
	return out
}
