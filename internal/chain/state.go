package chain

// Map is a journaled key/value store owned by a contract. Reads are free;
// every write records an undo entry on the transaction journal, so a reverted
// call leaves the map exactly as it was. The zero value is ready to use.
//
// Values are stored by value. Callers holding pointers (big.Int and the like)
// must store fresh copies rather than mutate what Get returned.
type Map[K comparable, V any] struct {
	m map[K]V
}

func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.m[k]
	return v, ok
}

func (m *Map[K, V]) Has(k K) bool {
	_, ok := m.m[k]
	return ok
}

func (m *Map[K, V]) Len() int { return len(m.m) }

// Range visits entries in unspecified order until fn returns false.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range m.m {
		if !fn(k, v) {
			return
		}
	}
}

func (m *Map[K, V]) Set(env *Env, k K, v V) error {
	if err := env.writable(); err != nil {
		return err
	}
	if m.m == nil {
		m.m = make(map[K]V)
	}
	prev, had := m.m[k]
	env.chain.journal.append(func() {
		if had {
			m.m[k] = prev
		} else {
			delete(m.m, k)
		}
	})
	m.m[k] = v
	return nil
}

func (m *Map[K, V]) Delete(env *Env, k K) error {
	if err := env.writable(); err != nil {
		return err
	}
	prev, had := m.m[k]
	if !had {
		return nil
	}
	env.chain.journal.append(func() { m.m[k] = prev })
	delete(m.m, k)
	return nil
}

// Value is a journaled single slot.
type Value[T any] struct {
	v T
}

func (s *Value[T]) Get() T { return s.v }

func (s *Value[T]) Set(env *Env, v T) error {
	if err := env.writable(); err != nil {
		return err
	}
	prev := s.v
	env.chain.journal.append(func() { s.v = prev })
	s.v = v
	return nil
}

// List is a journaled ordered sequence.
type List[T any] struct {
	items []T
}

func (l *List[T]) Len() int { return len(l.items) }
func (l *List[T]) At(i int) T { return l.items[i] }
func (l *List[T]) Items() []T { return append([]T(nil), l.items...) }

func (l *List[T]) Append(env *Env, v T) error {
	if err := env.writable(); err != nil {
		return err
	}
	n := len(l.items)
	env.chain.journal.append(func() {
		var zero T
		l.items[n] = zero
		l.items = l.items[:n]
	})
	l.items = append(l.items, v)
	return nil
}

func (l *List[T]) Put(env *Env, i int, v T) error {
	if err := env.writable(); err != nil {
		return err
	}
	prev := l.items[i]
	env.chain.journal.append(func() { l.items[i] = prev })
	l.items[i] = v
	return nil
}

// Pop removes the last element.
func (l *List[T]) Pop(env *Env) (T, error) {
	var zero T
	if err := env.writable(); err != nil {
		return zero, err
	}
	if len(l.items) == 0 {
		return zero, nil
	}
	n := len(l.items) - 1
	last := l.items[n]
	env.chain.journal.append(func() { l.items = append(l.items[:n], last) })
	l.items[n] = zero
	l.items = l.items[:n]
	return last, nil
}
