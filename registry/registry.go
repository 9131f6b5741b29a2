// Package registry keeps subscriptions: patterns with ordered lists of
// handlers, plus the bookkeeping of which patterns are subscribed on the wire.
//
// The client has two independent registries, one for state changes and one
// for object changes.
package registry

import (
	"reflect"
	"sync"

	"github.com/ridge/iosocket/pattern"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Sink issues wire subscriptions
type Sink interface {
	Subscribe(pattern string)
	Unsubscribe(pattern string)
}

// Registration is a handler registered for a pattern
type Registration[H any] struct {
	Handler H

	// Binary requests that the state value is loaded as binary data
	Binary bool
}

// Option modifies a Registration
type Option func(r *registrationOptions)

type registrationOptions struct {
	binary bool
}

// Binary marks the registration as binary
func Binary() Option {
	return func(r *registrationOptions) {
		r.binary = true
	}
}

type entry[H any] struct {
	matcher       pattern.Matcher
	registrations []Registration[H]
}

// Registry maps patterns to handlers. Safe for concurrent use.
//
// Handlers are compared with == to keep registration idempotent. Handlers of
// uncomparable types (such as plain funcs) are never considered equal, so
// registering them twice adds them twice.
type Registry[H any] struct {
	sink Sink

	mu      sync.Mutex
	active  bool
	entries map[string]*entry[H]
	order   []string // patterns in registration order
}

// New creates an empty, inactive Registry
func New[H any](sink Sink) *Registry[H] {
	return &Registry[H]{
		sink:    sink,
		entries: map[string]*entry[H]{},
	}
}

// Subscribe registers the handler for the pattern.
//
// A new pattern is subscribed on the wire right away if the registry is
// active. Returns false if the handler was already registered for the pattern.
func (r *Registry[H]) Subscribe(p string, h H, opts ...Option) bool {
	var o registrationOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	e := r.entries[p]
	created := e == nil
	if created {
		e = &entry[H]{matcher: pattern.Compile(p)}
		r.entries[p] = e
		r.order = append(r.order, p)
	} else if e.index(h) >= 0 {
		r.mu.Unlock()
		return false
	}
	e.registrations = append(e.registrations, Registration[H]{Handler: h, Binary: o.binary})
	notify := created && r.active
	r.mu.Unlock()

	if notify {
		r.sink.Subscribe(p)
	}
	return true
}

// Unsubscribe removes the handler from the pattern.
//
// The pattern is dropped, and unsubscribed on the wire if the registry is
// active, when its last handler goes. Returns true if the pattern was dropped.
func (r *Registry[H]) Unsubscribe(p string, h H) bool {
	return r.remove(p, func(e *entry[H]) {
		if i := e.index(h); i >= 0 {
			e.registrations = slices.Delete(e.registrations, i, i+1)
		}
	})
}

// UnsubscribeAll removes all handlers of the pattern
func (r *Registry[H]) UnsubscribeAll(p string) bool {
	return r.remove(p, func(e *entry[H]) {
		e.registrations = nil
	})
}

func (r *Registry[H]) remove(p string, update func(e *entry[H])) bool {
	r.mu.Lock()
	e := r.entries[p]
	if e == nil {
		r.mu.Unlock()
		return false
	}
	update(e)
	if len(e.registrations) > 0 {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, p)
	r.order = slices.Delete(r.order, slices.Index(r.order, p), slices.Index(r.order, p)+1)
	notify := r.active
	r.mu.Unlock()

	if notify {
		r.sink.Unsubscribe(p)
	}
	return true
}

// Match returns the registrations of every pattern that equals the
// identifier or matches it, in the order the patterns were first registered.
// Within a pattern, registrations come in registration order.
//
// The result is a copy: handlers may be invoked while the registry changes.
func (r *Registry[H]) Match(id string) []Registration[H] {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []Registration[H]
	for _, p := range r.order {
		e := r.entries[p]
		if p == id || e.matcher.Match(id) {
			res = append(res, e.registrations...)
		}
	}
	return res
}

// Patterns returns the registered patterns, sorted
func (r *Registry[H]) Patterns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.patterns()
}

func (r *Registry[H]) patterns() []string {
	res := maps.Keys(r.entries)
	slices.Sort(res)
	return res
}

// Len returns the number of registered patterns
func (r *Registry[H]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Active returns true if the registry's patterns are subscribed on the wire
func (r *Registry[H]) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.active
}

// SetActive records whether the patterns are subscribed on the wire. It does
// not talk to the sink: the caller subscribes or unsubscribes the returned
// patterns. Returns nil and false if the state does not change.
//
// Flipping the flag and taking the list happen atomically, so a concurrent
// Subscribe is either in the list or subscribes by itself, never both.
func (r *Registry[H]) SetActive(active bool) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == active {
		return nil, false
	}
	r.active = active
	return r.patterns(), true
}

func (e *entry[H]) index(h H) int {
	return slices.IndexFunc(e.registrations, func(reg Registration[H]) bool {
		return same(reg.Handler, h)
	})
}

func same(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil {
		return true
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}
