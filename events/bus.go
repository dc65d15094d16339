package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Wildcard subscribes to all topics.
const Wildcard = "*"

// Bus is an in-process publish/subscribe mechanism for events that don't leave the process,
// e.g. context changes within a single user desktop.
type Bus interface {
	// Subscribe registers a handler for the given topic. An empty topic or Wildcard subscribes to all topics.
	// The returned function removes the subscription.
	Subscribe(topic string, handlerName string, handler BusHandleFunc) func()
	// Publish invokes the handlers subscribed to the topic. Handler errors are logged.
	Publish(ctx context.Context, topic string, data any)
}

// Event describes an event published on the Bus.
type Event struct {
	Topic string
	Data  any
}

type BusHandleFunc func(ctx context.Context, event Event) error

var _ Bus = &InMemoryBus{}

type busHandler struct {
	id          uint64
	handlerName string
	handler     BusHandleFunc
}

type InMemoryBus struct {
	mux      sync.RWMutex
	nextID   uint64
	handlers map[string][]busHandler
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: map[string][]busHandler{},
	}
}

func (i *InMemoryBus) Subscribe(topic string, handlerName string, handler BusHandleFunc) func() {
	i.mux.Lock()
	defer i.mux.Unlock()
	if topic == "" {
		topic = Wildcard
	}
	i.nextID++
	id := i.nextID
	i.handlers[topic] = append(i.handlers[topic], busHandler{
		id:          id,
		handlerName: handlerName,
		handler:     handler,
	})
	return func() {
		i.unsubscribe(topic, id)
	}
}

func (i *InMemoryBus) unsubscribe(topic string, id uint64) {
	i.mux.Lock()
	defer i.mux.Unlock()
	handlers := i.handlers[topic]
	for j, h := range handlers {
		if h.id == id {
			i.handlers[topic] = append(handlers[:j:j], handlers[j+1:]...)
			break
		}
	}
	if len(i.handlers[topic]) == 0 {
		delete(i.handlers, topic)
	}
}

func (i *InMemoryBus) Publish(ctx context.Context, topic string, data any) {
	// Handlers are invoked without holding the lock, so they can (un)subscribe and publish.
	i.mux.RLock()
	handlers := append(append([]busHandler(nil), i.handlers[Wildcard]...), i.handlers[topic]...)
	i.mux.RUnlock()
	event := Event{Topic: topic, Data: data}
	for _, handler := range handlers {
		if err := handler.handler(ctx, event); err != nil {
			log.Ctx(ctx).Err(err).Msgf("Failed to notify handler %s for event (topic=%s)", handler.handlerName, topic)
		}
	}
}
