// Package hooks provides the in-process trigger registry: user-registered
// beforeSave/afterSave/beforeLogin handlers, per-provider auth validators,
// and live-query subscriptions.
package hooks

import (
	"context"
	"sync"

	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// Handler is one registered trigger. Returning a non-nil map replaces the
// object about to be written.
type Handler func(ctx context.Context, in ports.TriggerInput) (object.Map, error)

// Subscriber receives after-save notifications for a class.
type Subscriber func(className string, newObject, original object.Map)

type triggerKey struct {
	className string
	kind      ports.TriggerKind
}

// Registry implements TriggerRunner, LiveQuery, and AuthRegistry.
type Registry struct {
	mu          sync.RWMutex
	triggers    map[triggerKey]Handler
	validators  map[string]ports.AuthValidator
	subscribers map[string][]Subscriber
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		triggers:    make(map[triggerKey]Handler),
		validators:  make(map[string]ports.AuthValidator),
		subscribers: make(map[string][]Subscriber),
	}
}

// Register installs a trigger for a class. At most one handler per
// (class, kind); later registrations replace earlier ones.
func (r *Registry) Register(className string, kind ports.TriggerKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[triggerKey{className, kind}] = h
}

// Has reports whether a trigger is registered.
func (r *Registry) Has(className string, kind ports.TriggerKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.triggers[triggerKey{className, kind}]
	return ok
}

// Run invokes the registered trigger, if any.
func (r *Registry) Run(ctx context.Context, kind ports.TriggerKind, in ports.TriggerInput) (object.Map, error) {
	r.mu.RLock()
	h, ok := r.triggers[triggerKey{in.ClassName, kind}]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return h(ctx, in)
}

// RegisterValidator installs the credential validator for a provider.
func (r *Registry) RegisterValidator(provider string, v ports.AuthValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[provider] = v
}

// Validator resolves the validator for a provider.
func (r *Registry) Validator(provider string) (ports.AuthValidator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[provider]
	return v, ok
}

// Subscribe adds a live-query subscriber for a class.
func (r *Registry) Subscribe(className string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[className] = append(r.subscribers[className], s)
}

// HasSubscribers reports whether a class has live-query subscribers.
func (r *Registry) HasSubscribers(className string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[className]) > 0
}

// OnAfterSave fans a successful write out to the class subscribers.
func (r *Registry) OnAfterSave(className string, newObject, original object.Map) {
	r.mu.RLock()
	subs := r.subscribers[className]
	r.mu.RUnlock()
	for _, s := range subs {
		s(className, newObject, original)
	}
}

// Ensure interface compliance.
var (
	_ ports.TriggerRunner = (*Registry)(nil)
	_ ports.LiveQuery     = (*Registry)(nil)
	_ ports.AuthRegistry  = (*Registry)(nil)
)
