package dispatch

import (
	"sync"
)

// Registry hands out named channels so producers and consumers wired in
// different places share the same instance.
type Registry[T any] struct {
	mu       sync.Mutex
	channels map[string]*Channel[T]
	order    []string
}

// NewRegistry creates an empty registry
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{channels: make(map[string]*Channel[T])}
}

// CreateOrGet returns the channel registered under opts.Name, creating it
// with opts on first use. Later calls ignore opts.
func (r *Registry[T]) CreateOrGet(opts Options) *Channel[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[opts.Name]; ok {
		return ch
	}
	ch := New[T](opts)
	r.channels[opts.Name] = ch
	r.order = append(r.order, opts.Name)
	return ch
}

// Get looks up a channel by name
func (r *Registry[T]) Get(name string) (*Channel[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Names returns registered channel names in creation order
func (r *Registry[T]) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// CloseAll closes every registered channel
func (r *Registry[T]) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		r.channels[name].Close()
	}
}
