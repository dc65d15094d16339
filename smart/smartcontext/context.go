package smartcontext

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/SanteonNL/orca/smarthost/events"
)

// EventRefresh is published on the desktop bus to make every context re-send its state to its subscribers.
const EventRefresh = "VIEW.REFRESH"

// ContextMap holds the launch parameters a SMART context contributes, e.g. {"patient": "123"}.
type ContextMap map[string]string

func (c ContextMap) Clone() ContextMap {
	result := make(ContextMap, len(c))
	maps.Copy(result, c)
	return result
}

// Subscriber is notified of the state of the SMART contexts it subscribed to.
type Subscriber interface {
	// UpdateContext receives a copy of the context's current state. An empty map means the context is not set.
	UpdateContext(ctx context.Context, scope string, contextMap ContextMap)
}

// UpdateFunc writes the current state of a context into the given (empty) map.
type UpdateFunc func(ctx context.Context, contextMap ContextMap)

// Context is a named piece of launch state (e.g. the active patient) that must be known before a SMART app can be launched.
// It tracks a change event on the event bus and pushes its state to its subscribers.
type Context struct {
	name   string
	event  string
	bus    events.Bus
	update UpdateFunc

	mux         sync.Mutex
	current     ContextMap
	subscribers []Subscriber
	busCleanup  []func()
}

func New(name string, event string, bus events.Bus, update UpdateFunc) *Context {
	return &Context{
		name:    name,
		event:   event,
		bus:     bus,
		update:  update,
		current: ContextMap{},
	}
}

// Name returns the scope of the context, as referenced by the "scope" value of SMART manifests.
func (c *Context) Name() string {
	return c.name
}

// Init subscribes to the context change and refresh events, and computes the initial state.
func (c *Context) Init(ctx context.Context) {
	changed := c.bus.Subscribe(c.event, "smartcontext."+c.name, func(ctx context.Context, _ events.Event) error {
		c.changed(ctx)
		return nil
	})
	refresh := c.bus.Subscribe(EventRefresh, "smartcontext."+c.name+".refresh", func(ctx context.Context, _ events.Event) error {
		c.notifySubscribers(ctx)
		return nil
	})
	state := ContextMap{}
	c.update(ctx, state)
	c.mux.Lock()
	c.busCleanup = append(c.busCleanup, changed, refresh)
	c.current = state
	c.mux.Unlock()
}

// Destroy unsubscribes the context from the event bus.
func (c *Context) Destroy() {
	c.mux.Lock()
	cleanup := c.busCleanup
	c.busCleanup = nil
	c.mux.Unlock()
	for _, fn := range cleanup {
		fn()
	}
}

// Current returns a copy of the current state.
func (c *Context) Current() ContextMap {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.current.Clone()
}

// Subscribe adds the subscriber and notifies it of the current state. Subscribing twice has no effect.
func (c *Context) Subscribe(ctx context.Context, subscriber Subscriber) {
	c.mux.Lock()
	if slices.Contains(c.subscribers, subscriber) {
		c.mux.Unlock()
		return
	}
	c.subscribers = append(c.subscribers, subscriber)
	state := c.current.Clone()
	c.mux.Unlock()
	subscriber.UpdateContext(ctx, c.name, state)
}

func (c *Context) Unsubscribe(subscriber Subscriber) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.subscribers = slices.DeleteFunc(c.subscribers, func(s Subscriber) bool {
		return s == subscriber
	})
}

func (c *Context) changed(ctx context.Context) {
	state := ContextMap{}
	c.update(ctx, state)
	c.mux.Lock()
	c.current = state
	c.mux.Unlock()
	c.notifySubscribers(ctx)
}

func (c *Context) notifySubscribers(ctx context.Context) {
	c.mux.Lock()
	subscribers := slices.Clone(c.subscribers)
	state := c.current
	c.mux.Unlock()
	for _, subscriber := range subscribers {
		subscriber.UpdateContext(ctx, c.name, state.Clone())
	}
}
