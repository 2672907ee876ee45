package bundle

// orderedSet keeps insertion order so that ticks advance requests
// deterministically. It is not safe for concurrent use; the Manager is
// single-threaded.
type orderedSet[T comparable] struct {
	items []T
	index map[T]struct{}
}

func newOrderedSet[T comparable]() orderedSet[T] {
	return orderedSet[T]{index: make(map[T]struct{})}
}

// Add appends v and reports whether it was absent.
func (s *orderedSet[T]) Add(v T) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

// Remove deletes v and reports whether it was present.
func (s *orderedSet[T]) Remove(v T) bool {
	if _, ok := s.index[v]; !ok {
		return false
	}
	delete(s.index, v)
	for i, it := range s.items {
		if it == v {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return true
}

func (s *orderedSet[T]) Contains(v T) bool {
	_, ok := s.index[v]
	return ok
}

func (s *orderedSet[T]) Len() int {
	return len(s.items)
}

// Values returns a snapshot that stays valid while the set is mutated.
func (s *orderedSet[T]) Values() []T {
	return append([]T(nil), s.items...)
}

func (s *orderedSet[T]) Clear() {
	s.items = nil
	s.index = make(map[T]struct{})
}

// removeFromQueue deletes the first occurrence of v from q.
func removeFromQueue[T comparable](q []T, v T) ([]T, bool) {
	for i, it := range q {
		if it == v {
			return append(q[:i], q[i+1:]...), true
		}
	}
	return q, false
}
