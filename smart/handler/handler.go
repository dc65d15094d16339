package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SanteonNL/orca/smarthost/events"
	"github.com/SanteonNL/orca/smarthost/lib/logging"
	"github.com/SanteonNL/orca/smarthost/smart/broker"
	"github.com/rs/zerolog/log"
)

// Request is a request from a SMART app, as received by a Handler.
type Request struct {
	DesktopID   string
	ContainerID string
	Message     broker.Message
}

// Handler handles the SMART app requests of a specific message type.
type Handler interface {
	MessageType() string
	// HandleRequest returns the response to the request.
	// If it returns nil, the handler will respond later through a Responder (or not at all, making the request time out).
	HandleRequest(ctx context.Context, request Request) (broker.Message, error)
}

// Responder sends a response to a SMART app request.
type Responder interface {
	Respond(ctx context.Context, desktopID string, request broker.Message, response broker.Message) error
}

var _ Responder = &Dispatcher{}

// Dispatcher routes SmartRequest events to the handler registered for their message type,
// and publishes the handler's response as SmartResponse event.
type Dispatcher struct {
	eventManager events.Manager
	timeToLive   time.Duration
	mux          sync.RWMutex
	handlers     map[string]Handler
}

// NewDispatcher creates a Dispatcher. Responses expire in the messaging broker after timeToLive,
// which should match the time-to-live of the SMART message broker.
func NewDispatcher(eventManager events.Manager, timeToLive time.Duration) *Dispatcher {
	return &Dispatcher{
		eventManager: eventManager,
		timeToLive:   timeToLive,
		handlers:     map[string]Handler{},
	}
}

func (d *Dispatcher) Register(handler Handler) {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.handlers[handler.MessageType()] = handler
}

// Start subscribes the dispatcher to SmartRequest events.
func (d *Dispatcher) Start() error {
	err := d.eventManager.Subscribe(broker.SmartRequest{}, func(ctx context.Context, event events.Type) error {
		request := event.(*broker.SmartRequest)
		d.dispatch(ctx, Request{
			DesktopID:   request.DesktopID,
			ContainerID: request.ContainerID,
			Message:     request.Request,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to SMART requests: %w", err)
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, request Request) {
	messageType := request.Message.MessageType()
	logger := log.Ctx(ctx).With().
		Str(logging.FieldDesktopID, request.DesktopID).
		Str(logging.FieldMessageID, request.Message.MessageID()).
		Str(logging.FieldMessageType, messageType).
		Logger()
	d.mux.RLock()
	handler, ok := d.handlers[messageType]
	d.mux.RUnlock()
	if !ok {
		logger.Debug().Msg("No handler for SMART message type")
		return
	}
	response, err := handler.HandleRequest(ctx, request)
	if err != nil {
		logger.Error().Err(err).Msg("SMART message handler failed")
		return
	}
	if response == nil {
		return
	}
	if err := d.Respond(ctx, request.DesktopID, request.Message, response); err != nil {
		logger.Error().Err(err).Msg("Failed to send SMART response")
	}
}

// Respond publishes the response to the given request.
func (d *Dispatcher) Respond(ctx context.Context, desktopID string, request broker.Message, response broker.Message) error {
	response = response.Clone()
	response[broker.KeyResponseToMessageID] = request.MessageID()
	return d.eventManager.Notify(ctx, broker.SmartResponse{
		DesktopID: desktopID,
		Response:  response,
		TTL:       d.timeToLive,
	})
}

// NewResponse creates the response to a request. The status is added to the payload.
func NewResponse(request broker.Message, payload map[string]any, status int) broker.Message {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = status
	return broker.Message{
		broker.KeyResponseToMessageID: request.MessageID(),
		broker.KeyPayload:             payload,
	}
}

// PayloadString returns the string value of the given key in the message's payload, or an empty string if absent.
func PayloadString(message broker.Message, key string) string {
	value, _ := message.Payload()[key].(string)
	return value
}
