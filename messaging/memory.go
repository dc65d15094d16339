package messaging

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

var _ Broker = &MemoryBroker{}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		handlers: make(map[string][]func(context.Context, Message) error),
	}
}

// MemoryBroker delivers messages synchronously to the handlers registered in the same process.
type MemoryBroker struct {
	mux              sync.RWMutex
	handlers         map[string][]func(context.Context, Message) error
	LastHandlerError atomic.Pointer[error]
}

func (m *MemoryBroker) ReceiveFromQueue(queue Entity, handler func(context.Context, Message) error) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.handlers[queue.Name] = append(m.handlers[queue.Name], handler)
	return nil
}

func (m *MemoryBroker) SendMessage(ctx context.Context, entity Entity, message *Message) error {
	m.mux.RLock()
	handlers := append([]func(context.Context, Message) error(nil), m.handlers[entity.Name]...)
	m.mux.RUnlock()
	if len(handlers) == 0 {
		return fmt.Errorf("no handlers for entity %s", entity.Name)
	}
	// Delivery is supposed to be asynchronous, so handlers must not be cancelled along with the sender.
	handlerCtx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		if err := handler(handlerCtx, *message); err != nil {
			m.LastHandlerError.Store(&err)
			log.Ctx(ctx).Warn().Err(err).Msgf("Handler for entity failed (entity=%s)", entity.Name)
		}
	}
	return nil
}

func (m *MemoryBroker) Close(_ context.Context) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.handlers = map[string][]func(context.Context, Message) error{}
	return nil
}
