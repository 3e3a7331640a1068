package realtime

import "sync"

type handler[T any] struct {
	id int
	fn func(T)
}

// registry keeps ordered handler lists per event name.
type registry[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string][]handler[T]
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{handlers: make(map[string][]handler[T])}
}

func (r *registry[T]) add(key string, fn func(T)) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[key] = append(r.handlers[key], handler[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(key, id) })
	}
}

func (r *registry[T]) remove(key string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[key]
	for i, h := range list {
		if h.id == id {
			r.handlers[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.handlers[key]) == 0 {
		delete(r.handlers, key)
	}
}

func (r *registry[T]) snapshot(key string) []func(T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[key]
	fns := make([]func(T), len(list))
	for i, h := range list {
		fns[i] = h.fn
	}
	return fns
}

func (r *registry[T]) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[key])
}

func (r *registry[T]) clear() {
	r.mu.Lock()
	r.handlers = make(map[string][]handler[T])
	r.mu.Unlock()
}
