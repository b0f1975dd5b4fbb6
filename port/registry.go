package port

import "slices"

// Registry tracks every connected input port, in configuration order, and
// the value an attached port feeds. A connected port may be unattached: it
// was rejected, or the value it fed was torn down. It is not safe for
// concurrent use.
type Registry[T any] struct {
	order   []string
	entries map[string]entry[T]
	bound   int
}

type entry[T any] struct {
	port     Input
	value    T
	attached bool
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]entry[T])}
}

// Connect records in as connected. An existing entry is left untouched.
func (r *Registry[T]) Connect(in Input) {
	id := in.ID()
	if _, ok := r.entries[id]; ok {
		return
	}
	r.order = append(r.order, id)
	r.entries[id] = entry[T]{port: in}
}

// Bind records in as attached to value, replacing any earlier binding.
func (r *Registry[T]) Bind(in Input, value T) {
	r.Connect(in)
	id := in.ID()
	if !r.entries[id].attached {
		r.bound++
	}
	r.entries[id] = entry[T]{port: in, value: value, attached: true}
}

// Lookup returns the value attached to port id.
func (r *Registry[T]) Lookup(id string) (T, bool) {
	e, ok := r.entries[id]
	if !ok || !e.attached {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Detach clears the binding of port id but keeps the port connected. It
// returns the former value.
func (r *Registry[T]) Detach(id string) (T, bool) {
	e, ok := r.entries[id]
	if !ok || !e.attached {
		var zero T
		return zero, false
	}
	r.bound--
	r.entries[id] = entry[T]{port: e.port}
	return e.value, true
}

// Remove forgets port id. It returns the value the port was attached to,
// if any.
func (r *Registry[T]) Remove(id string) (T, bool) {
	e, ok := r.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	if !e.attached {
		var zero T
		return zero, false
	}
	r.bound--
	return e.value, true
}

// Ports returns every connected port in configuration order, attached or not.
func (r *Registry[T]) Ports() []Input {
	out := make([]Input, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].port)
	}
	return out
}

// Len returns the number of connected ports.
func (r *Registry[T]) Len() int { return len(r.order) }

// Attached returns the number of attached ports.
func (r *Registry[T]) Attached() int { return r.bound }
